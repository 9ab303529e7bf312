package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TempIDPrefix marks identities generated on the client for pending records.
const TempIDPrefix = "temp-"

type PlanTier string

// Tiers in ascending visibility. Master is the billing name of the premium
// tier.
const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanPremium    PlanTier = "premium"
	PlanMaster     PlanTier = "master"
	PlanEnterprise PlanTier = "enterprise"
)

// Canonical folds case, surrounding space and the "Feedo " product prefix,
// so "Feedo Master" and "MASTER" both become PlanMaster.
func (t PlanTier) Canonical() PlanTier {
	s := strings.ToLower(strings.TrimSpace(string(t)))
	s = strings.TrimSpace(strings.TrimPrefix(s, "feedo "))

	return PlanTier(s)
}

// Conversation is a two-party thread. The backend creates it on first
// contact; it is never mutated or deleted here.
type Conversation struct {
	ID                 string    `json:"id"`
	ParticipantIDs     []string  `json:"participant_ids"`
	OtherParticipantID string    `json:"other_participant_id"`
	OtherName          string    `json:"other_participant_name"`
	OtherAvatarURL     string    `json:"other_participant_avatar_url,omitempty"`
	LastMessage        string    `json:"last_message,omitempty"`
	LastMessageAt      time.Time `json:"last_message_at"`
	CreatedAt          time.Time `json:"created_at"`
}

// ActivityAt is the time used to order conversation lists.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessageAt.After(c.CreatedAt) {
		return c.LastMessageAt
	}

	return c.CreatedAt
}

func (c Conversation) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("conversation id is required")
	}
	if len(c.ParticipantIDs) != 0 && len(c.ParticipantIDs) != 2 {
		return fmt.Errorf("conversation %s: expected 2 participants, got %d", c.ID, len(c.ParticipantIDs))
	}

	return nil
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func (m Message) IsTemporary() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

func (m Message) Validate() error {
	switch {
	case strings.TrimSpace(m.ID) == "":
		return errors.New("message id is required")
	case strings.TrimSpace(m.ConversationID) == "":
		return fmt.Errorf("message %s: conversation id is required", m.ID)
	case strings.TrimSpace(m.SenderID) == "":
		return fmt.Errorf("message %s: sender id is required", m.ID)
	case m.CreatedAt.IsZero():
		return fmt.Errorf("message %s: created_at is required", m.ID)
	}

	return nil
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	LinkTo    string    `json:"link_to,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func (n Notification) Validate() error {
	switch {
	case strings.TrimSpace(n.ID) == "":
		return errors.New("notification id is required")
	case strings.TrimSpace(n.UserID) == "":
		return fmt.Errorf("notification %s: user id is required", n.ID)
	case n.CreatedAt.IsZero():
		return fmt.Errorf("notification %s: created_at is required", n.ID)
	}

	return nil
}

// Provider is a service provider profile as seen by search and ranking.
type Provider struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	BusinessName  string   `json:"business_name,omitempty"`
	State         string   `json:"state,omitempty"`
	City          string   `json:"city,omitempty"`
	Segment       string   `json:"segment,omitempty"`
	AvatarURL     string   `json:"avatar_url,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	IsAvailable   bool     `json:"is_available"`
	Plan          PlanTier `json:"plan"`
	NPSScore      float64  `json:"nps_score"`
	AverageRating float64  `json:"average_rating"`
	IsVerified    bool     `json:"is_verified"`
	ActivityScore float64  `json:"activity_score"`
}

func (p Provider) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

func (p Provider) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("provider id is required")
	}
	if (p.Latitude == nil) != (p.Longitude == nil) {
		return fmt.Errorf("provider %s: latitude and longitude must be set together", p.ID)
	}
	if p.Latitude != nil && (*p.Latitude < -90 || *p.Latitude > 90) {
		return fmt.Errorf("provider %s: latitude out of range: %v", p.ID, *p.Latitude)
	}
	if p.Longitude != nil && (*p.Longitude < -180 || *p.Longitude > 180) {
		return fmt.Errorf("provider %s: longitude out of range: %v", p.ID, *p.Longitude)
	}

	return nil
}

// Location is a geolocation fix used for availability writes.
type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	At        time.Time
}

// ProviderList is a batch of providers returned by one search.
type ProviderList struct {
	Items []Provider
}
