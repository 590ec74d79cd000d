// README: Client recovery model (screens, cached state blob, resolved state).
package recovery

import (
	"time"

	"wheels/internal/modules/intent"
	"wheels/internal/types"
)

type Screen string

const (
	ScreenIdle     Screen = "idle"
	ScreenMatching Screen = "matching"
	ScreenMatched  Screen = "matched"
	ScreenLiveTrip Screen = "live_trip"
	ScreenRating   Screen = "rating"
)

// Terminal screens end polling.
func (s Screen) Terminal() bool {
	return s == ScreenIdle || s == ScreenRating
}

// Rank orders screens along the lifecycle; idle ranks lowest.
func (s Screen) Rank() int {
	switch s {
	case ScreenMatching:
		return 1
	case ScreenMatched:
		return 2
	case ScreenLiveTrip:
		return 3
	case ScreenRating:
		return 4
	default:
		return 0
	}
}

type Source string

const (
	SourceCache Source = "cache"
	SourceStore Source = "store"
	SourceNone  Source = "none"
)

// CacheEntry is the per-participant, per-role blob a client keeps to survive reloads.
type CacheEntry struct {
	IntentID  types.ID      `json:"intentId"`
	Status    intent.Status `json:"status"`
	PeerID    types.ID      `json:"peerId,omitempty"`
	Screen    Screen        `json:"screen"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e *CacheEntry) Fresh(now time.Time, window time.Duration) bool {
	if e == nil || e.IntentID == "" || e.Timestamp.IsZero() {
		return false
	}
	age := now.Sub(e.Timestamp)
	return age >= 0 && age < window
}

type ResolvedState struct {
	Screen   Screen        `json:"screen"`
	IntentID types.ID      `json:"intentId,omitempty"`
	PeerID   types.ID      `json:"peerId,omitempty"`
	Status   intent.Status `json:"status,omitempty"`
	TripID   types.ID      `json:"tripId,omitempty"`
	Source   Source        `json:"source"`
}

func (s *ResolvedState) entry(now time.Time) *CacheEntry {
	return &CacheEntry{
		IntentID:  s.IntentID,
		Status:    s.Status,
		PeerID:    s.PeerID,
		Screen:    s.Screen,
		Timestamp: now,
	}
}

type Query struct {
	ParticipantID types.ID
	Role          intent.Role
	// Cached is the client's own entry; nil falls back to the server-side cache.
	Cached *CacheEntry
}
