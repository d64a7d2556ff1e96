package client

// ConnectionState is the lifecycle state of a Manager.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateChange describes one transition.
type StateChange struct {
	From    ConnectionState
	To      ConnectionState
	Attempt int   // reconnection attempt, 0 otherwise
	Err     error // cause of a reconnect or terminal disconnect
}
