package realtime

import (
	"encoding/json"
	"testing"

	"github.com/veepo/veeposync/internal/domain"
)

func TestEncodeJoinCarriesChangeFilter(t *testing.T) {
	raw, err := EncodeJoin(domain.MessagesTopic("c1"), "7", "token")
	if err != nil {
		t.Fatalf("encode join: %v", err)
	}
	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Topic != "realtime:messages:conversation_id=eq.c1" {
		t.Fatalf("unexpected topic %q", frame.Topic)
	}
	if frame.Event != FrameJoin || frame.Ref != "7" || frame.JoinRef != "7" {
		t.Fatalf("unexpected frame header: %+v", frame)
	}

	var payload joinPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.AccessToken != "token" {
		t.Fatalf("expected access token, got %q", payload.AccessToken)
	}
	if len(payload.Config.PostgresChanges) != 1 {
		t.Fatalf("expected one change filter, got %d", len(payload.Config.PostgresChanges))
	}
	filter := payload.Config.PostgresChanges[0]
	if filter.Table != "messages" || filter.Filter != "conversation_id=eq.c1" || filter.Event != "*" {
		t.Fatalf("unexpected filter: %+v", filter)
	}
}

func TestDecodeChangeFrame(t *testing.T) {
	raw := []byte(`{"topic":"realtime:notifications:user_id=eq.u1","event":"postgres_changes","payload":{"data":{"type":"UPDATE","schema":"public","table":"notifications","record":{"id":"n1","is_read":true},"old_record":{"id":"n1"}}}}`)

	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	change, err := frame.Change()
	if err != nil {
		t.Fatalf("change: %v", err)
	}
	if change.Type != ChangeUpdate {
		t.Fatalf("expected update, got %q", change.Type)
	}
	var n domain.Notification
	if err := json.Unmarshal(change.Record, &n); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if n.ID != "n1" || !n.IsRead {
		t.Fatalf("unexpected record: %+v", n)
	}
}

func TestDecodeFrameRejectsMalformedInput(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"event":"phx_reply"}`,
		`{"topic":"phoenix"}`,
	} {
		if _, err := DecodeFrame([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestChangeRejectsUnknownType(t *testing.T) {
	frame := Frame{Topic: "x", Event: FrameChanges, Payload: json.RawMessage(`{"data":{"type":"TRUNCATE"}}`)}
	if _, err := frame.Change(); err == nil {
		t.Fatalf("expected error for unsupported change type")
	}
}

func TestEncodeChangePutsDeletedRowInOldRecord(t *testing.T) {
	raw, err := EncodeChange(domain.MessagesTopic("c1"), ChangeDelete, map[string]string{"id": "m1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	change, err := frame.Change()
	if err != nil {
		t.Fatalf("change: %v", err)
	}
	if len(change.Record) != 0 {
		t.Fatalf("expected empty record for delete, got %s", change.Record)
	}
	if string(change.OldRecord) != `{"id":"m1"}` {
		t.Fatalf("unexpected old record %s", change.OldRecord)
	}
}
