package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/veepo/veeposync/internal/domain"
)

const (
	restPrefix = "/rest/v1/"
	rpcPrefix  = "/rest/v1/rpc/"
)

// Client talks to the hosted backend's REST and RPC endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.RWMutex
	accessToken string
	userAgent   string
}

func New(logger *slog.Logger, baseURL, apiKey string) *Client {
	if logger == nil {
		logger = slog.Default().With("component", "backend")
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

func (c *Client) SetUserAgent(ua string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userAgent = strings.TrimSpace(ua)
}

// SetAccessToken sets the user token sent as bearer. Without one the api key
// is used.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = strings.TrimSpace(token)
}

func (c *Client) SearchProviders(ctx context.Context, req SearchProvidersRequest) ([]domain.Provider, error) {
	var rows []domain.Provider
	if err := c.rpc(ctx, "search_providers", req.params(), &rows); err != nil {
		return nil, fmt.Errorf("backend.SearchProviders: %w", err)
	}

	return keepValid(c.logger, "provider", rows), nil
}

func (c *Client) FindNearbyProviders(ctx context.Context, req NearbyRequest) ([]NearbyProvider, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("backend.FindNearbyProviders: %w", err)
	}
	var rows []NearbyProvider
	if err := c.rpc(ctx, "find_nearby_providers", req.params(), &rows); err != nil {
		return nil, fmt.Errorf("backend.FindNearbyProviders: %w", err)
	}

	return keepValid(c.logger, "nearby provider", rows), nil
}

func (c *Client) GetProvider(ctx context.Context, id string) (domain.Provider, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Provider{}, errors.New("backend.GetProvider: provider id is required")
	}
	var rows []domain.Provider
	if err := c.rpc(ctx, "get_provider_by_id", map[string]any{"p_id": id}, &rows); err != nil {
		return domain.Provider{}, fmt.Errorf("backend.GetProvider: %w", err)
	}
	rows = keepValid(c.logger, "provider", rows)
	if len(rows) == 0 {
		return domain.Provider{}, fmt.Errorf("backend.GetProvider: %s: %w", id, domain.ErrNotFound)
	}

	return rows[0], nil
}

func (c *Client) GetMyConversations(ctx context.Context) ([]domain.Conversation, error) {
	var rows []domain.Conversation
	if err := c.rpc(ctx, "get_my_conversations", map[string]any{}, &rows); err != nil {
		return nil, fmt.Errorf("backend.GetMyConversations: %w", err)
	}

	return keepValid(c.logger, "conversation", rows), nil
}

func (c *Client) CreateConversationAndSendMessage(ctx context.Context, req CreateConversationRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("backend.CreateConversationAndSendMessage: %w", err)
	}
	if err := c.rpc(ctx, "create_conversation_and_send_message", req.params(), nil); err != nil {
		return fmt.Errorf("backend.CreateConversationAndSendMessage: %w", err)
	}

	return nil
}

// ListMessages returns a conversation's messages oldest first. A positive
// limit keeps only the latest ones.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("backend.ListMessages: conversation id is required")
	}
	params := url.Values{}
	params.Set("select", "*")
	params.Set("conversation_id", "eq."+conversationID)
	if limit > 0 {
		params.Set("order", "created_at.desc")
		params.Set("limit", strconv.Itoa(limit))
	} else {
		params.Set("order", "created_at.asc")
	}

	var rows []domain.Message
	if err := c.doRequest(ctx, http.MethodGet, restPrefix+"messages?"+params.Encode(), nil, false, &rows); err != nil {
		return nil, fmt.Errorf("backend.ListMessages: %w", err)
	}
	rows = keepValid(c.logger, "message", rows)
	if limit > 0 {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	return rows, nil
}

func (c *Client) InsertMessage(ctx context.Context, req InsertMessageRequest) (domain.Message, error) {
	if err := req.Validate(); err != nil {
		return domain.Message{}, fmt.Errorf("backend.InsertMessage: %w", err)
	}
	body := insertMessageBody{
		ConversationID: strings.TrimSpace(req.ConversationID),
		SenderID:       strings.TrimSpace(req.SenderID),
		Content:        strings.TrimSpace(req.Content),
	}

	var rows []domain.Message
	if err := c.doRequest(ctx, http.MethodPost, restPrefix+"messages", body, true, &rows); err != nil {
		return domain.Message{}, fmt.Errorf("backend.InsertMessage: %w", err)
	}
	rows = keepValid(c.logger, "message", rows)
	if len(rows) == 0 {
		return domain.Message{}, errors.New("backend.InsertMessage: empty representation")
	}

	return rows[0], nil
}

// ListNotifications returns a user's notifications newest first.
func (c *Client) ListNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("backend.ListNotifications: user id is required")
	}
	params := url.Values{}
	params.Set("select", "*")
	params.Set("user_id", "eq."+userID)
	params.Set("order", "created_at.desc")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var rows []domain.Notification
	if err := c.doRequest(ctx, http.MethodGet, restPrefix+"notifications?"+params.Encode(), nil, false, &rows); err != nil {
		return nil, fmt.Errorf("backend.ListNotifications: %w", err)
	}

	return keepValid(c.logger, "notification", rows), nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) (domain.Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Notification{}, errors.New("backend.MarkNotificationRead: notification id is required")
	}
	params := url.Values{}
	params.Set("id", "eq."+id)

	var rows []domain.Notification
	body := map[string]bool{"is_read": true}
	if err := c.doRequest(ctx, http.MethodPatch, restPrefix+"notifications?"+params.Encode(), body, true, &rows); err != nil {
		return domain.Notification{}, fmt.Errorf("backend.MarkNotificationRead: %w", err)
	}
	rows = keepValid(c.logger, "notification", rows)
	if len(rows) == 0 {
		return domain.Notification{}, fmt.Errorf("backend.MarkNotificationRead: %s: %w", id, domain.ErrNotFound)
	}

	return rows[0], nil
}

func (c *Client) GetAvailability(ctx context.Context, providerID string) (bool, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return false, errors.New("backend.GetAvailability: provider id is required")
	}
	params := url.Values{}
	params.Set("select", "is_available")
	params.Set("id", "eq."+providerID)

	var rows []struct {
		IsAvailable bool `json:"is_available"`
	}
	if err := c.doRequest(ctx, http.MethodGet, restPrefix+"profiles?"+params.Encode(), nil, false, &rows); err != nil {
		return false, fmt.Errorf("backend.GetAvailability: %w", err)
	}
	if len(rows) == 0 {
		return false, fmt.Errorf("backend.GetAvailability: %s: %w", providerID, domain.ErrNotFound)
	}

	return rows[0].IsAvailable, nil
}

func (c *Client) SetAvailability(ctx context.Context, update AvailabilityUpdate) error {
	if err := update.Validate(); err != nil {
		return fmt.Errorf("backend.SetAvailability: %w", err)
	}
	params := url.Values{}
	params.Set("id", "eq."+strings.TrimSpace(update.ProviderID))

	if err := c.doRequest(ctx, http.MethodPatch, restPrefix+"profiles?"+params.Encode(), update.body(), false, nil); err != nil {
		return fmt.Errorf("backend.SetAvailability: %w", err)
	}

	return nil
}

func (c *Client) rpc(ctx context.Context, name string, params any, out any) error {
	return c.doRequest(ctx, http.MethodPost, rpcPrefix+name, params, false, out)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, representation bool, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if representation {
		req.Header.Set("Prefer", "return=representation")
	}
	c.mu.RLock()
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	c.mu.RUnlock()

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close
	c.logger.Debug("backend request", "method", method, "path", req.URL.Path, "status", resp.StatusCode, "elapsed", time.Since(started))

	if resp.StatusCode >= 400 {
		return decodeHTTPError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}

		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.accessToken != "" {
		return c.accessToken
	}

	return c.apiKey
}

func decodeHTTPError(resp *http.Response) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return &HTTPError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read body: %v", readErr)}
	}
	var apiErr struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(respBody, &apiErr) == nil {
		if apiErr.Message != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Message}
		}
		if apiErr.Error != "" {
			return &HTTPError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
	}

	return &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
}

type validatable interface {
	Validate() error
}

// keepValid drops rows that fail validation so they never reach a
// collection.
func keepValid[T validatable](logger *slog.Logger, kind string, rows []T) []T {
	out := rows[:0]
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			logger.Warn("dropping invalid row", "kind", kind, "error", err)
			continue
		}
		out = append(out, row)
	}

	return out
}
