package connectors

import "time"

// ConnectionState describes the realtime connection lifecycle.
type ConnectionState string

const (
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateReconnecting ConnectionState = "reconnecting"
)

// ConnectionStatus is a bus event snapshot of the realtime connection.
type ConnectionStatus struct {
	State         ConnectionState
	Err           string
	TransportName string
	Attempt       int
	Timestamp     time.Time
}

// MessageDeleted reports a live delete of a confirmed message.
type MessageDeleted struct {
	ID             string
	ConversationID string
}
