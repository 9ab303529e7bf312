package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/veepo/veeposync/internal/domain"
)

// SearchProvidersRequest holds the optional attribute filters of a provider
// search. Empty fields are sent as null and match everything.
type SearchProvidersRequest struct {
	Query   string
	State   string
	City    string
	Segment string
}

func (r SearchProvidersRequest) params() map[string]any {
	return map[string]any{
		"p_search_query": nullable(r.Query),
		"p_state":        nullable(r.State),
		"p_city":         nullable(r.City),
		"p_segment":      nullable(r.Segment),
	}
}

type NearbyRequest struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

func (r NearbyRequest) Validate() error {
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %v", r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %v", r.Longitude)
	}
	if r.RadiusMeters <= 0 {
		return fmt.Errorf("radius must be positive: %v", r.RadiusMeters)
	}

	return nil
}

func (r NearbyRequest) params() map[string]any {
	return map[string]any{
		"client_lat":    r.Latitude,
		"client_lon":    r.Longitude,
		"radius_meters": r.RadiusMeters,
	}
}

// NearbyProvider is a provider annotated with its distance to the query
// point.
type NearbyProvider struct {
	domain.Provider
	DistanceMeters float64 `json:"distance_meters"`
}

// CreateConversationRequest opens (or reuses) a conversation with ReceiverID
// and posts the first message. CallerID is only used for validation.
type CreateConversationRequest struct {
	CallerID   string
	ReceiverID string
	Content    string
}

func (r CreateConversationRequest) Validate() error {
	receiver := strings.TrimSpace(r.ReceiverID)
	switch {
	case receiver == "":
		return errors.New("receiver id is required")
	case strings.TrimSpace(r.Content) == "":
		return errors.New("message content is empty")
	case receiver == strings.TrimSpace(r.CallerID):
		return errors.New("cannot start a conversation with yourself")
	}

	return nil
}

func (r CreateConversationRequest) params() map[string]any {
	return map[string]any{
		"receiver_id_input": strings.TrimSpace(r.ReceiverID),
		"message_content":   strings.TrimSpace(r.Content),
	}
}

type InsertMessageRequest struct {
	ConversationID string
	SenderID       string
	Content        string
}

func (r InsertMessageRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.ConversationID) == "":
		return errors.New("conversation id is required")
	case strings.TrimSpace(r.SenderID) == "":
		return errors.New("sender id is required")
	case strings.TrimSpace(r.Content) == "":
		return errors.New("message content is empty")
	}

	return nil
}

type insertMessageBody struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
}

// AvailabilityUpdate is the provider's own presence write. Location is
// required when going online and cleared when going offline.
type AvailabilityUpdate struct {
	ProviderID string
	Available  bool
	Location   *domain.Location
}

func (u AvailabilityUpdate) Validate() error {
	if strings.TrimSpace(u.ProviderID) == "" {
		return errors.New("provider id is required")
	}
	if u.Available && u.Location == nil {
		return errors.New("location is required to go online")
	}

	return nil
}

type availabilityBody struct {
	IsAvailable bool    `json:"is_available"`
	Location    *string `json:"location"`
}

func (u AvailabilityUpdate) body() availabilityBody {
	b := availabilityBody{IsAvailable: u.Available}
	if u.Available && u.Location != nil {
		point := fmt.Sprintf("POINT(%v %v)", u.Location.Longitude, u.Location.Latitude)
		b.Location = &point
	}

	return b
}

func nullable(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	return s
}
