package registry

import (
	"context"
	"errors"
	"time"

	"github.com/confab-dev/confab/pkg/meeting/participant"
)

// MeetingID identifies a meeting across server instances.
type MeetingID string

// SocketID identifies one signaling connection.
type SocketID string

// PeerSnapshot is the persisted view of one participant.
type PeerSnapshot struct {
	SocketID    SocketID               `json:"socketId"`
	DisplayName string                 `json:"displayName,omitempty"`
	JoinedAt    time.Time              `json:"joinedAt"`
	MediaState  participant.MediaState `json:"mediaState"`
}

// Snapshot is the persisted view of one meeting. Refreshed on every
// membership or media-state mutation.
type Snapshot struct {
	ID         MeetingID                       `json:"id"`
	CreatedAt  time.Time                       `json:"createdAt"`
	HostPeerID participant.ID                  `json:"hostPeerId"`
	Peers      map[participant.ID]PeerSnapshot `json:"peers"`
}

// Binding maps one socket to the meeting seat it occupies.
type Binding struct {
	MeetingID     MeetingID      `json:"meetingId"`
	ParticipantID participant.ID `json:"participantId"`
}

var ErrNotFound = errors.New("registry: not found")

// Store is the shared key/value registry consulted on join, leave and
// socket loss. Implementations must be safe for concurrent use.
type Store interface {
	// SaveSnapshot writes the meeting snapshot and refreshes its TTL.
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	// Snapshot loads a meeting snapshot, ErrNotFound if absent or expired.
	Snapshot(ctx context.Context, id MeetingID) (Snapshot, error)
	// DeleteSnapshot removes a meeting.
	DeleteSnapshot(ctx context.Context, id MeetingID) error
	// ListMeetings returns the ids of all live meetings on this store.
	ListMeetings(ctx context.Context) ([]MeetingID, error)

	// BindSocket records which seat a socket occupies, refreshing the
	// meeting snapshot in the same transaction.
	BindSocket(ctx context.Context, socket SocketID, binding Binding, snapshot Snapshot) error
	// LookupSocket resolves a socket to its seat.
	LookupSocket(ctx context.Context, socket SocketID) (Binding, error)
	// UnbindSocket drops the socket mapping without touching the meeting.
	UnbindSocket(ctx context.Context, socket SocketID) error

	// CleanupSocket atomically removes the socket's participant from its
	// meeting snapshot and drops the mapping. Reports the freed seat and
	// whether the meeting became empty (and was deleted).
	CleanupSocket(ctx context.Context, socket SocketID) (Binding, bool, error)
}
