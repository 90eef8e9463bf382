// Package session owns the live per-station state: the ordered sequence of
// product records known to the station, the selected record, and the
// current-operator value. The pipeline event loop is the only writer;
// observers (the display layer) read concurrent snapshots.
package session

import (
	"sync"
	"time"
)

// SelectionResult reports what Upsert did with a resolved record.
type SelectionResult int

const (
	// Inserted means the product key was new and the record was prepended.
	Inserted SelectionResult = iota
	// AlreadySeen means a record with the same product key was already in
	// the sequence and was re-selected without being overwritten.
	AlreadySeen
)

// MovementResult is the per-record outcome of the movement registration
// side effect.
type MovementResult int

const (
	MovementPending    MovementResult = iota // not dispatched yet
	MovementOK                               // registered, assigned id received
	MovementConflict                         // already registered upstream; warning, not an error
	MovementUnknownTag                       // registry does not know the tag identity
	MovementFailed                           // any other registration failure
	MovementSkipped                          // not attempted (no numeric record id available)
)

// String returns the human-readable outcome label.
func (m MovementResult) String() string {
	switch m {
	case MovementOK:
		return "ok"
	case MovementConflict:
		return "already-registered"
	case MovementUnknownTag:
		return "unknown-tag"
	case MovementFailed:
		return "failed"
	case MovementSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// ProductRecord represents one physical unit currently known to the
// station. Records are mutated only through Store methods; callers get
// copies.
type ProductRecord struct {
	ProductKey string // print-card identity used for dedup; never empty

	Area          string
	ProductCode   string
	ProductName   string
	GrossWeight   string
	NetWeight     string
	PalletWeight  string
	Pieces        string
	UnitOfMeasure string
	Date          string
	EntryDate     string
	PrintCard     string
	ImageRef      string

	TagID    string    // EPC that produced the record
	RecordID int64     // numeric id in the system of record; 0 when unknown
	SeenAt   time.Time // wall clock of the read that created the record
	Enriched bool      // false when display fields hold sentinels

	StatusDone bool // status update attempted
	StatusOK   bool // status update succeeded
	Movement   MovementResult
}

// Store holds the session state for one station.
type Store struct {
	mu       sync.RWMutex
	records  []*ProductRecord
	byKey    map[string]*ProductRecord
	selected *ProductRecord
	operator string
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{byKey: make(map[string]*ProductRecord)}
}

// Upsert applies the dedup policy. A new product key prepends the record
// and selects it; a known key re-selects the existing record untouched.
// The selected pointer is updated under the same lock as the sequence, so
// it can never reference a record that is not in the sequence.
func (s *Store) Upsert(rec *ProductRecord) SelectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byKey[rec.ProductKey]; ok {
		s.selected = existing
		return AlreadySeen
	}
	clone := *rec
	s.records = append([]*ProductRecord{&clone}, s.records...)
	s.byKey[clone.ProductKey] = &clone
	s.selected = &clone
	return Inserted
}

// ApplyImage sets the image reference on the record with the given key.
func (s *Store) ApplyImage(key, ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byKey[key]; ok {
		rec.ImageRef = ref
	}
}

// ApplyStatusOutcome records the status-update side-effect result.
func (s *Store) ApplyStatusOutcome(key string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, found := s.byKey[key]; found {
		rec.StatusDone = true
		rec.StatusOK = ok
	}
}

// ApplyMovementOutcome records the movement-registration result and the
// assigned registry id when one was returned.
func (s *Store) ApplyMovementOutcome(key string, res MovementResult, assignedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, found := s.byKey[key]
	if !found {
		return
	}
	rec.Movement = res
	if assignedID != 0 {
		rec.RecordID = assignedID
	}
}

// SetOperator updates the shared current-operator value. It reflects the
// most recently identified operator, independent of any record.
func (s *Store) SetOperator(name string) {
	s.mu.Lock()
	s.operator = name
	s.mu.Unlock()
}

// Operator returns the current-operator value.
func (s *Store) Operator() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.operator
}

// Selected returns a copy of the currently selected record, or false when
// the session is empty.
func (s *Store) Selected() (ProductRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return ProductRecord{}, false
	}
	return *s.selected, true
}

// Snapshot returns a copy of the sequence, newest first.
func (s *Store) Snapshot() []ProductRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProductRecord, len(s.records))
	for i, rec := range s.records {
		out[i] = *rec
	}
	return out
}

// Len returns the number of records in the session.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get returns a copy of the record with the given product key.
func (s *Store) Get(key string) (ProductRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.byKey[key]; ok {
		return *rec, true
	}
	return ProductRecord{}, false
}
