package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/veepo/veeposync/internal/domain"
)

func TestSearchProvidersSendsNullFiltersAndDropsInvalidRows(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/search_providers" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("expected apikey header, got %q", r.Header.Get("apikey"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `[{"id":"p1","name":"Ana","city":"Passo Fundo"},{"id":"","name":"broken"}]`)
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	rows, err := c.SearchProviders(context.Background(), SearchProvidersRequest{City: " Passo Fundo "})
	if err != nil {
		t.Fatalf("SearchProviders() error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "p1" {
		t.Fatalf("expected only the valid provider, got %+v", rows)
	}
	if got["p_city"] != "Passo Fundo" {
		t.Fatalf("expected trimmed city, got %v", got["p_city"])
	}
	for _, key := range []string{"p_search_query", "p_state", "p_segment"} {
		v, ok := got[key]
		if !ok || v != nil {
			t.Fatalf("expected %s to be sent as null, got %v (present=%v)", key, v, ok)
		}
	}
}

func TestFindNearbyProvidersValidatesBeforeSending(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	if _, err := c.FindNearbyProviders(context.Background(), NearbyRequest{Latitude: 91, Longitude: 0, RadiusMeters: 10}); err == nil {
		t.Fatalf("expected latitude validation error")
	}
	if _, err := c.FindNearbyProviders(context.Background(), NearbyRequest{Latitude: 0, Longitude: 0}); err == nil {
		t.Fatalf("expected radius validation error")
	}
	if calls != 0 {
		t.Fatalf("expected no request for invalid input, got %d", calls)
	}
}

func TestFindNearbyProvidersDecodesDistance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]float64
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["radius_meters"] != 5000 || body["client_lat"] != -28.2833 {
			t.Errorf("unexpected params: %v", body)
		}
		_, _ = io.WriteString(w, `[{"id":"p1","name":"Ana","latitude":-28.3,"longitude":-52.79,"distance_meters":1834.5}]`)
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	rows, err := c.FindNearbyProviders(context.Background(), NearbyRequest{Latitude: -28.2833, Longitude: -52.7865, RadiusMeters: 5000})
	if err != nil {
		t.Fatalf("FindNearbyProviders() error: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "p1" || rows[0].DistanceMeters != 1834.5 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	if !rows[0].HasLocation() {
		t.Fatalf("expected location to be decoded")
	}
}

func TestCreateConversationValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateConversationRequest
	}{
		{name: "missing receiver", req: CreateConversationRequest{CallerID: "u1", Content: "oi"}},
		{name: "empty content", req: CreateConversationRequest{CallerID: "u1", ReceiverID: "u2", Content: "  "}},
		{name: "self", req: CreateConversationRequest{CallerID: "u1", ReceiverID: "u1", Content: "oi"}},
	}

	c := New(discardLogger(), "http://127.0.0.1:1", "anon")
	for _, tc := range tests {
		if err := c.CreateConversationAndSendMessage(context.Background(), tc.req); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestInsertMessageRequestsRepresentation(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/messages" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Prefer") != "return=representation" {
			t.Errorf("expected representation preference, got %q", r.Header.Get("Prefer"))
		}
		if r.Header.Get("Authorization") != "Bearer user-token" {
			t.Errorf("expected user bearer, got %q", r.Header.Get("Authorization"))
		}
		var body insertMessageBody
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode([]domain.Message{{
			ID:             "m-1",
			ConversationID: body.ConversationID,
			SenderID:       body.SenderID,
			Content:        body.Content,
			CreatedAt:      created,
		}})
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	c.SetAccessToken("user-token")
	msg, err := c.InsertMessage(context.Background(), InsertMessageRequest{ConversationID: "c1", SenderID: "u1", Content: " oi "})
	if err != nil {
		t.Fatalf("InsertMessage() error: %v", err)
	}
	if msg.ID != "m-1" || msg.Content != "oi" || !msg.CreatedAt.Equal(created) {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestListMessagesWithLimitReturnsOldestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("conversation_id") != "eq.c1" || q.Get("order") != "created_at.desc" || q.Get("limit") != "2" {
			t.Errorf("unexpected query: %v", q)
		}
		_, _ = io.WriteString(w, `[
			{"id":"m3","conversation_id":"c1","sender_id":"u1","content":"c","created_at":"2025-03-01T12:03:00Z"},
			{"id":"m2","conversation_id":"c1","sender_id":"u2","content":"b","created_at":"2025-03-01T12:02:00Z"}
		]`)
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	rows, err := c.ListMessages(context.Background(), "c1", 2)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "m2" || rows[1].ID != "m3" {
		t.Fatalf("expected [m2 m3], got %+v", rows)
	}
}

func TestMarkNotificationReadNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Query().Get("id") != "eq.n1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL)
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	_, err := c.MarkNotificationRead(context.Background(), "n1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetAvailabilitySendsPoint(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/profiles" || r.URL.Query().Get("id") != "eq.p1" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	err := c.SetAvailability(context.Background(), AvailabilityUpdate{
		ProviderID: "p1",
		Available:  true,
		Location:   &domain.Location{Latitude: -28.3, Longitude: -52.79},
	})
	if err != nil {
		t.Fatalf("SetAvailability() error: %v", err)
	}
	if body["is_available"] != true || body["location"] != "POINT(-52.79 -28.3)" {
		t.Fatalf("unexpected body: %v", body)
	}

	if err := c.SetAvailability(context.Background(), AvailabilityUpdate{ProviderID: "p1", Available: true}); err == nil {
		t.Fatalf("expected error when going online without a location")
	}
}

func TestSetAvailabilityOfflineClearsLocation(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		raw = string(data)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	if err := c.SetAvailability(context.Background(), AvailabilityUpdate{ProviderID: "p1"}); err != nil {
		t.Fatalf("SetAvailability() error: %v", err)
	}
	if raw != `{"is_available":false,"location":null}` {
		t.Fatalf("unexpected body %s", raw)
	}
}

func TestHTTPErrorCarriesBackendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"code":"42501","message":"permission denied for table profiles"}`)
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	_, err := c.GetAvailability(context.Background(), "p1")
	if err == nil {
		t.Fatal("expected error for forbidden request")
	}
	if !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 status, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "permission denied for table profiles") {
		t.Fatalf("expected backend message in error, got %q", got)
	}
}

func TestGetAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("select") != "is_available" {
			t.Errorf("unexpected select %q", r.URL.Query().Get("select"))
		}
		_, _ = io.WriteString(w, `[{"is_available":true}]`)
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	available, err := c.GetAvailability(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetAvailability() error: %v", err)
	}
	if !available {
		t.Fatalf("expected available")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestsCarryAuthHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	c := New(discardLogger(), srv.URL, "anon")
	c.SetUserAgent("veeposync/test")
	if _, err := c.GetMyConversations(context.Background()); err != nil {
		t.Fatalf("GetMyConversations() error: %v", err)
	}
	if got.Get("Authorization") != "Bearer anon" {
		t.Fatalf("expected api key as bearer without a session, got %q", got.Get("Authorization"))
	}

	c.SetAccessToken(" user-token ")
	if _, err := c.GetMyConversations(context.Background()); err != nil {
		t.Fatalf("GetMyConversations() error: %v", err)
	}
	if got.Get("Authorization") != "Bearer user-token" {
		t.Fatalf("expected session token as bearer, got %q", got.Get("Authorization"))
	}
	if got.Get("apikey") != "anon" || got.Get("User-Agent") != "veeposync/test" {
		t.Fatalf("unexpected headers %v", got)
	}
}
