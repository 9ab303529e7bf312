package domain

import (
	"fmt"
	"strings"
)

// ResourceKind names the table a realtime topic streams.
type ResourceKind string

const (
	ResourceNotifications ResourceKind = "notifications"
	ResourceMessages      ResourceKind = "messages"
	ResourceProviders     ResourceKind = "providers"
)

const channelPrefix = "realtime:"

// Topic is the unit of realtime delivery: one resource kind narrowed by an
// equality filter on its foreign-key column.
type Topic struct {
	Kind    ResourceKind
	ScopeID string
}

func NotificationsTopic(userID string) Topic {
	return Topic{Kind: ResourceNotifications, ScopeID: strings.TrimSpace(userID)}
}

func MessagesTopic(conversationID string) Topic {
	return Topic{Kind: ResourceMessages, ScopeID: strings.TrimSpace(conversationID)}
}

func ProvidersTopic(providerID string) Topic {
	return Topic{Kind: ResourceProviders, ScopeID: strings.TrimSpace(providerID)}
}

// FilterColumn is the column the topic's equality filter applies to.
func (k ResourceKind) FilterColumn() string {
	switch k {
	case ResourceNotifications:
		return "user_id"
	case ResourceMessages:
		return "conversation_id"
	case ResourceProviders:
		return "id"
	default:
		return ""
	}
}

func (t Topic) IsZero() bool {
	return t.Kind == "" && t.ScopeID == ""
}

func (t Topic) Validate() error {
	if t.Kind.FilterColumn() == "" {
		return fmt.Errorf("unknown resource kind: %q", t.Kind)
	}
	if t.ScopeID == "" {
		return fmt.Errorf("topic %s: scope id is required", t.Kind)
	}

	return nil
}

// Filter is the backend filter expression, e.g. "user_id=eq.42".
func (t Topic) Filter() string {
	return t.Kind.FilterColumn() + "=eq." + t.ScopeID
}

func (t Topic) String() string {
	return string(t.Kind) + ":" + t.Filter()
}

// ChannelName is the name used on the realtime wire.
func (t Topic) ChannelName() string {
	return channelPrefix + t.String()
}

func ParseTopic(raw string) (Topic, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), channelPrefix)
	kind, filter, ok := strings.Cut(raw, ":")
	if !ok {
		return Topic{}, fmt.Errorf("malformed topic: %q", raw)
	}
	column, scope, ok := strings.Cut(filter, "=eq.")
	if !ok {
		return Topic{}, fmt.Errorf("malformed topic filter: %q", filter)
	}
	t := Topic{Kind: ResourceKind(kind), ScopeID: scope}
	if err := t.Validate(); err != nil {
		return Topic{}, err
	}
	if t.Kind.FilterColumn() != column {
		return Topic{}, fmt.Errorf("topic %s: unexpected filter column %q", t.Kind, column)
	}

	return t, nil
}
