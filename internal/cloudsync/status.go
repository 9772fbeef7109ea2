package cloudsync

import (
	"fmt"
	"time"
)

// Collection identifies one synced dataset. Each collection has its own
// endpoint and its own status.
type Collection int

const (
	CollectionRatings Collection = iota
	CollectionHistory
)

// Collections lists every synced collection in a fixed order.
var Collections = []Collection{CollectionRatings, CollectionHistory}

func (c Collection) String() string {
	switch c {
	case CollectionRatings:
		return "ratings"
	case CollectionHistory:
		return "history"
	}

	return fmt.Sprintf("collection(%d)", int(c))
}

// ParseCollection maps a collection name back to its value.
func ParseCollection(s string) (Collection, error) {
	switch s {
	case "ratings", "rating":
		return CollectionRatings, nil
	case "history":
		return CollectionHistory, nil
	}

	return 0, fmt.Errorf("unknown collection %q (want ratings or history)", s)
}

func (c Collection) valid() bool {
	return c == CollectionRatings || c == CollectionHistory
}

// Status is the sync state of one collection.
//
//	Disabled -> Idle -> Syncing -> {Success, Error} -> Syncing -> ...
type Status int

const (
	StatusDisabled Status = iota
	StatusIdle
	StatusSyncing
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusIdle:
		return "idle"
	case StatusSyncing:
		return "syncing"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	}

	return fmt.Sprintf("status(%d)", int(s))
}

// StatusEvent is published to subscribers after every completed
// operation and on configuration changes.
type StatusEvent struct {
	Collection Collection
	Status     Status
	// Err holds the failure message when Status is StatusError.
	Err string
	At  time.Time
}

// CollectionState is the externally visible state of one collection.
type CollectionState struct {
	Status      Status
	Endpoint    string
	LastSuccess time.Time
}

// Snapshot is a point-in-time copy of the engine state. Reading it never
// waits on network I/O.
type Snapshot struct {
	Enabled bool
	// Insecure is true when no trust store is loaded and server
	// certificates are not verified.
	Insecure  bool
	Ratings   CollectionState
	History   CollectionState
	LastError string
}

// State returns the state for c.
func (s Snapshot) State(c Collection) CollectionState {
	if c == CollectionHistory {
		return s.History
	}

	return s.Ratings
}
