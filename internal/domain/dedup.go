package domain

import "time"

// TimestampSet holds the canonical instants already present in storage.
// It is read-only once built.
type TimestampSet struct {
	seen map[int64]struct{}
}

// NewTimestampSet canonicalizes ts into a set.
func NewTimestampSet(ts []time.Time) TimestampSet {
	seen := make(map[int64]struct{}, len(ts))
	for _, t := range ts {
		seen[CanonicalTime(t).Unix()] = struct{}{}
	}
	return TimestampSet{seen: seen}
}

// Contains reports whether t is in the set.
func (s TimestampSet) Contains(t time.Time) bool {
	_, ok := s.seen[CanonicalTime(t).Unix()]
	return ok
}

// Len returns the number of distinct instants.
func (s TimestampSet) Len() int { return len(s.seen) }

// FilterNew returns the rows whose timestamp is not in existing, in their
// original order, plus how many rows were dropped. A timestamp repeated
// inside rows is kept once. existing is not modified.
//
// len(fresh) + alreadyPresent == len(rows) always holds.
func FilterNew(rows []Observation, existing TimestampSet) (fresh []Observation, alreadyPresent int) {
	fresh = make([]Observation, 0, len(rows))
	batch := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		key := CanonicalTime(row.Timestamp).Unix()
		if _, ok := existing.seen[key]; ok {
			alreadyPresent++
			continue
		}
		if _, ok := batch[key]; ok {
			alreadyPresent++
			continue
		}
		batch[key] = struct{}{}
		fresh = append(fresh, row)
	}
	return fresh, alreadyPresent
}
