package domain

import "testing"

func TestTopicStringRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		topic Topic
		want  string
	}{
		{name: "notifications", topic: NotificationsTopic("u-1"), want: "notifications:user_id=eq.u-1"},
		{name: "messages", topic: MessagesTopic(" c-9 "), want: "messages:conversation_id=eq.c-9"},
		{name: "providers", topic: ProvidersTopic("p-3"), want: "providers:id=eq.p-3"},
	}

	for _, tc := range tests {
		if got := tc.topic.String(); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
		parsed, err := ParseTopic(tc.topic.ChannelName())
		if err != nil {
			t.Fatalf("%s: parse channel name: %v", tc.name, err)
		}
		if parsed != tc.topic {
			t.Fatalf("%s: expected %+v, got %+v", tc.name, tc.topic, parsed)
		}
	}
}

func TestParseTopicRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"messages",
		"messages:conversation_id=c1",
		"messages:user_id=eq.c1",
		"orders:id=eq.1",
		"messages:conversation_id=eq.",
	} {
		if _, err := ParseTopic(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestTopicsWithDifferentScopesDiffer(t *testing.T) {
	if MessagesTopic("a") == MessagesTopic("b") {
		t.Fatalf("expected topics with different scopes to differ")
	}
	if MessagesTopic("a") != MessagesTopic("a") {
		t.Fatalf("expected equal topics to compare equal")
	}
}
