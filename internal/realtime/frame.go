package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/veepo/veeposync/internal/domain"
)

// Frame events of the channel protocol.
const (
	FrameJoin      = "phx_join"
	FrameReply     = "phx_reply"
	FrameLeave     = "phx_leave"
	FrameError     = "phx_error"
	FrameClose     = "phx_close"
	FrameHeartbeat = "heartbeat"
	FrameChanges   = "postgres_changes"

	PhoenixTopic = "phoenix"

	ReplyOK = "ok"
)

const changesSchema = "public"

// ChangeKind is the row operation carried by a change frame.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// Frame is one message on the realtime wire.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	PostgresChanges []changeFilter `json:"postgres_changes"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter"`
}

// ReplyPayload answers a join, leave or heartbeat.
type ReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}

type changesPayload struct {
	Data ChangeData `json:"data"`
}

// ChangeData is the row change delivered for a joined topic.
type ChangeData struct {
	Type            ChangeKind      `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp string          `json:"commit_timestamp,omitempty"`
}

func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Topic == "" || f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: topic and event are required")
	}

	return f, nil
}

func (f Frame) Reply() (ReplyPayload, error) {
	var p ReplyPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return ReplyPayload{}, fmt.Errorf("decode reply payload: %w", err)
	}

	return p, nil
}

func (f Frame) Change() (ChangeData, error) {
	var p changesPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return ChangeData{}, fmt.Errorf("decode change payload: %w", err)
	}
	switch p.Data.Type {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return ChangeData{}, fmt.Errorf("unsupported change type: %q", p.Data.Type)
	}

	return p.Data, nil
}

func EncodeJoin(topic domain.Topic, ref, accessToken string) ([]byte, error) {
	payload, err := json.Marshal(joinPayload{
		Config: joinConfig{PostgresChanges: []changeFilter{{
			Event:  "*",
			Schema: changesSchema,
			Table:  string(topic.Kind),
			Filter: topic.Filter(),
		}}},
		AccessToken: accessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("encode join payload: %w", err)
	}

	return encodeFrame(Frame{Topic: topic.ChannelName(), Event: FrameJoin, Payload: payload, Ref: ref, JoinRef: ref})
}

func EncodeLeave(topic domain.Topic, ref string) ([]byte, error) {
	return encodeFrame(Frame{Topic: topic.ChannelName(), Event: FrameLeave, Payload: json.RawMessage(`{}`), Ref: ref})
}

func EncodeHeartbeat(ref string) ([]byte, error) {
	return encodeFrame(Frame{Topic: PhoenixTopic, Event: FrameHeartbeat, Payload: json.RawMessage(`{}`), Ref: ref})
}

func EncodeReply(topic, ref, status string) ([]byte, error) {
	payload, err := json.Marshal(ReplyPayload{Status: status, Response: json.RawMessage(`{}`)})
	if err != nil {
		return nil, fmt.Errorf("encode reply payload: %w", err)
	}

	return encodeFrame(Frame{Topic: topic, Event: FrameReply, Payload: payload, Ref: ref})
}

// EncodeChange builds the frame a server emits for a row change.
func EncodeChange(topic domain.Topic, kind ChangeKind, record any) ([]byte, error) {
	rawRecord, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode change record: %w", err)
	}
	data := ChangeData{Type: kind, Schema: changesSchema, Table: string(topic.Kind)}
	if kind == ChangeDelete {
		data.OldRecord = rawRecord
	} else {
		data.Record = rawRecord
	}
	payload, err := json.Marshal(changesPayload{Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode change payload: %w", err)
	}

	return encodeFrame(Frame{Topic: topic.ChannelName(), Event: FrameChanges, Payload: payload})
}

func encodeFrame(f Frame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	return raw, nil
}
