package syncer

import "fmt"

// State is a step of the sync state machine.
type State int

const (
	StateNoIndex State = iota
	StateLoadingExisting
	StateDiffingChunks
	StateEmbeddingDelta
	StateAppending
	StatePersisting
	StateDone
	StateError
)

var stateNames = [...]string{
	StateNoIndex:         "no_index",
	StateLoadingExisting: "loading_existing",
	StateDiffingChunks:   "diffing_chunks",
	StateEmbeddingDelta:  "embedding_delta",
	StateAppending:       "appending",
	StatePersisting:      "persisting",
	StateDone:            "done",
	StateError:           "error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown sync state %q", text)
}

// SyncError reports the step at which a sync run was abandoned.
type SyncError struct {
	RunID string
	State State
	Err   error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed while %s: %v", e.RunID, e.State, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
