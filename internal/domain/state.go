package domain

// State represents the sync lifecycle of one entity type's remote subscription list.
type State string

const (
	// StateUnsynced is the state before any remote list has been loaded or committed.
	StateUnsynced State = "unsynced"
	// StateSyncing is the state while a transaction against the remote list is in flight.
	StateSyncing State = "syncing"
	// StateSynced is the state after the last transaction committed.
	StateSynced State = "synced"
)

func (s State) String() string { return string(s) }
