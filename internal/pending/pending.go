// Package pending collects filesystem changes awaiting reconciliation.
//
// A Set keeps one record per script name and the time of the most recent
// change of any kind. Rapid rewrites of one file collapse into a single record
// carrying the last path seen, and a burst of unrelated edits holds back the
// whole set until the burst settles.
//
// Set is not synchronized; its owner serializes access.
package pending

import (
	"time"

	"github.com/leapstack-labs/leapscript/internal/script"
)

// Record is one script awaiting reconciliation.
type Record struct {
	Name string
	Path string
}

// Set is a name-keyed set of pending records with a global quiet-period clock.
type Set struct {
	records    map[string]Record
	lastChange time.Time
}

// New creates an empty set.
func New() *Set {
	return &Set{records: make(map[string]Record)}
}

// Add records a change to path observed at the given time. It reports false
// without touching the set when no script name can be derived from path.
func (s *Set) Add(path string, at time.Time) bool {
	name, err := script.NameFromPath(path)
	if err != nil {
		return false
	}
	s.records[script.Key(name)] = Record{Name: name, Path: path}
	if at.After(s.lastChange) {
		s.lastChange = at
	}
	return true
}

// Len returns the number of pending records.
func (s *Set) Len() int {
	return len(s.records)
}

// QuietFor returns how long the set has gone without a change.
func (s *Set) QuietFor(now time.Time) time.Duration {
	return now.Sub(s.lastChange)
}

// Ready reports whether the set is non-empty and has been quiet for at least
// cooldown.
func (s *Set) Ready(now time.Time, cooldown time.Duration) bool {
	return len(s.records) > 0 && s.QuietFor(now) >= cooldown
}

// Drain empties the set and returns its records in no particular order.
func (s *Set) Drain() []Record {
	if len(s.records) == 0 {
		return nil
	}
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.records = make(map[string]Record)
	return out
}
