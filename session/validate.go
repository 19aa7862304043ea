package session

import (
	"errors"
	"fmt"
)

// ErrInvalidSnapshot marks a persisted snapshot whose shape fails validation.
// Readers flag the entry for repair or deletion instead of crashing
// enumeration of the rest of the store.
var ErrInvalidSnapshot = errors.New("session: invalid snapshot")

// Validate checks the structural invariants of a snapshot read from
// persistence. Persisted JSON is never trusted structurally: a snapshot must
// carry a timestamp and at least one tab with a non-empty URL. A tab whose
// GroupID references no TabGroupRecord is allowed: group lookups are
// best-effort at capture time and the reference may dangle.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidSnapshot)
	}
	if s.Timestamp <= 0 {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSnapshot)
	}
	if len(s.Tabs) == 0 {
		return fmt.Errorf("%w: no tabs", ErrInvalidSnapshot)
	}
	for i, t := range s.Tabs {
		if t.URL == "" {
			return fmt.Errorf("%w: tab %d has empty URL", ErrInvalidSnapshot, i)
		}
		if t.GroupID != GroupNone && t.GroupID < 0 {
			return fmt.Errorf("%w: tab %d has invalid group id %d", ErrInvalidSnapshot, i, t.GroupID)
		}
	}
	for i, g := range s.Groups {
		if g.GroupID < 0 {
			return fmt.Errorf("%w: group %d has invalid id %d", ErrInvalidSnapshot, i, g.GroupID)
		}
	}
	return nil
}
