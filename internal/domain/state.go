package domain

import (
	"slices"
	"time"
)

// TerminalNextTS is the next_ts written for terminal records. No wall clock
// reaches it, so a terminal order is never eligible again.
var TerminalNextTS = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC).Unix()

// MaxErrorLen caps FailureRecord.LastError.
const MaxErrorLen = 500

// FailureRecord tracks the failures of one order since its last success.
type FailureRecord struct {
	Count     int    `json:"count"`
	NextTS    int64  `json:"next_ts"`
	LastStep  string `json:"last_step"`
	LastError string `json:"last_error"`
	UpdatedAt int64  `json:"updated_at"`
	Terminal  bool   `json:"terminal"`
}

// NextAttempt is the earliest time the order may run again.
func (r FailureRecord) NextAttempt() time.Time { return time.Unix(r.NextTS, 0) }

// State is the persisted orchestrator aggregate. It has a single writer:
// the poll loop owns it for the lifetime of the process.
type State struct {
	ProcessedIDs    []OrderID
	Failed          map[OrderID]FailureRecord
	LastProcessedID OrderID
	LastProcessedAt time.Time

	index map[OrderID]struct{}
}

func NewState() *State {
	return &State{
		ProcessedIDs: []OrderID{},
		Failed:       map[OrderID]FailureRecord{},
		index:        map[OrderID]struct{}{},
	}
}

func (s *State) ensureIndex() {
	if s.index != nil && len(s.index) == len(s.ProcessedIDs) {
		return
	}
	s.index = make(map[OrderID]struct{}, len(s.ProcessedIDs))
	for _, id := range s.ProcessedIDs {
		s.index[id] = struct{}{}
	}
}

// IsProcessed reports whether id completed the pipeline successfully and is
// still inside the processed window.
func (s *State) IsProcessed(id OrderID) bool {
	s.ensureIndex()
	_, ok := s.index[id]
	return ok
}

// MarkProcessed appends id to the processed window, evicting the oldest ids
// beyond limit. A limit <= 0 disables eviction.
func (s *State) MarkProcessed(id OrderID, at time.Time, limit int) {
	s.ensureIndex()
	if _, ok := s.index[id]; !ok {
		s.ProcessedIDs = append(s.ProcessedIDs, id)
		s.index[id] = struct{}{}
	}
	if limit > 0 && len(s.ProcessedIDs) > limit {
		evict := len(s.ProcessedIDs) - limit
		for _, old := range s.ProcessedIDs[:evict] {
			delete(s.index, old)
		}
		s.ProcessedIDs = slices.Clone(s.ProcessedIDs[evict:])
	}
	s.LastProcessedID = id
	s.LastProcessedAt = at
}

func (s *State) Failure(id OrderID) (FailureRecord, bool) {
	rec, ok := s.Failed[id]
	return rec, ok
}

func (s *State) SetFailure(id OrderID, rec FailureRecord) {
	if s.Failed == nil {
		s.Failed = map[OrderID]FailureRecord{}
	}
	s.Failed[id] = rec
}

// DeleteFailure removes the failure record of id and reports whether one existed.
func (s *State) DeleteFailure(id OrderID) bool {
	if _, ok := s.Failed[id]; !ok {
		return false
	}
	delete(s.Failed, id)
	return true
}

// FailedIDs returns the ids with a failure record in ascending order.
func (s *State) FailedIDs() []OrderID {
	ids := make([]OrderID, 0, len(s.Failed))
	for id := range s.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Clone returns a deep copy safe to hand to readers outside the loop.
func (s *State) Clone() *State {
	c := NewState()
	c.ProcessedIDs = slices.Clone(s.ProcessedIDs)
	if c.ProcessedIDs == nil {
		c.ProcessedIDs = []OrderID{}
	}
	for id, rec := range s.Failed {
		c.Failed[id] = rec
	}
	c.LastProcessedID = s.LastProcessedID
	c.LastProcessedAt = s.LastProcessedAt
	c.ensureIndex()
	return c
}
