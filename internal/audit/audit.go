package audit

import (
	"context"
	"time"
)

// Connection is one socket's lifetime for a seat in a room.
type Connection struct {
	ID             string     `json:"id"`
	RoomID         string     `json:"roomId"`
	PlayerID       string     `json:"playerId"`
	IP             string     `json:"ip"`
	UserAgent      string     `json:"userAgent"`
	ConnectedAt    time.Time  `json:"connectedAt"`
	LastSeenAt     time.Time  `json:"lastSeenAt"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

// Recorder is the optional audit sink. Writes must never block or
// fail the game path; implementations log their own errors.
type Recorder interface {
	Enabled() bool
	Connect(rec Connection)
	Disconnect(connectionID string, at time.Time)
	Seen(connectionID string, at time.Time)
	Action(roomID, playerID, action, note string)
	// LatestConnections returns the newest row per player in a room,
	// for the banker-only connection summary.
	LatestConnections(ctx context.Context, roomID string) ([]Connection, error)
	Close()
}

type nop struct{}

// NewNop is the recorder used when no database is configured.
func NewNop() Recorder { return nop{} }

func (nop) Enabled() bool                              { return false }
func (nop) Connect(Connection)                         {}
func (nop) Disconnect(string, time.Time)               {}
func (nop) Seen(string, time.Time)                     {}
func (nop) Action(string, string, string, string)      {}
func (nop) Close()                                     {}
func (nop) LatestConnections(context.Context, string) ([]Connection, error) {
	return nil, nil
}
