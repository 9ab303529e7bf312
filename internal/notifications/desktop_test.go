package notifications

import (
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestDesktopSenderTrimsAndSkipsEmpty(t *testing.T) {
	var got []string
	s := NewDesktopSender(slog.New(slog.NewTextHandler(io.Discard, nil)), "")
	s.notify = func(title, message, _ string) error {
		got = append(got, title+"|"+message)

		return nil
	}

	s.Send(Payload{Title: "  ", Content: "\n"})
	s.Send(Payload{Title: " New message ", Content: " Ana: hi "})

	if len(got) != 1 || got[0] != "New message|Ana: hi" {
		t.Fatalf("expected one trimmed notification, got %v", got)
	}
}

func TestDesktopSenderCountsFailures(t *testing.T) {
	s := NewDesktopSender(slog.New(slog.NewTextHandler(io.Discard, nil)), "")
	s.notify = func(string, string, string) error { return errors.New("no dbus session") }

	s.Send(Payload{Title: "a"})
	s.Send(Payload{Title: "b"})

	if got := s.Failures(); got != 2 {
		t.Fatalf("expected 2 failures, got %d", got)
	}
}

func TestSenderFuncAndDiscard(t *testing.T) {
	var calls int
	var s Sender = SenderFunc(func(Payload) { calls++ })
	s.Send(Payload{Title: "x"})
	Discard.Send(Payload{Title: "y"})
	var nilFunc SenderFunc
	nilFunc.Send(Payload{})

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}
