// Package stats tracks per-station pipeline counters for periodic
// console output.
package stats

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker counts pipeline activity. One tracker serves all stations;
// per-station detail lives in the station-keyed maps.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-read increments don't fight over a mutex
	stationReads sync.Map // station -> *atomic.Uint64
	start        atomic.Int64

	reads      atomic.Uint64 // payloads received off the wire
	malformed  atomic.Uint64 // payloads that failed normalization
	suppressed atomic.Uint64 // reads dropped by the burst suppressor
	inserted   atomic.Uint64 // new records added to a session
	duplicates atomic.Uint64 // reads that re-selected an existing record

	statusOK          atomic.Uint64
	statusFailed      atomic.Uint64
	movementOK        atomic.Uint64
	movementConflicts atomic.Uint64 // unit already registered upstream
	movementFailed    atomic.Uint64
	auditFailed       atomic.Uint64

	connectivityFaults atomic.Uint64 // feed connect failures and lost connections
}

// NewTracker creates a tracker with the uptime clock started.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementRead counts one received payload for a station.
func (t *Tracker) IncrementRead(station string) {
	t.reads.Add(1)
	incrementCounter(&t.stationReads, station)
}

func (t *Tracker) IncrementMalformed()      { t.malformed.Add(1) }
func (t *Tracker) IncrementSuppressed()     { t.suppressed.Add(1) }
func (t *Tracker) IncrementInserted()       { t.inserted.Add(1) }
func (t *Tracker) IncrementDuplicate()      { t.duplicates.Add(1) }
func (t *Tracker) IncrementStatusOK()       { t.statusOK.Add(1) }
func (t *Tracker) IncrementStatusFailed()   { t.statusFailed.Add(1) }
func (t *Tracker) IncrementMovementOK()     { t.movementOK.Add(1) }
func (t *Tracker) IncrementConflict()       { t.movementConflicts.Add(1) }
func (t *Tracker) IncrementMovementFailed() { t.movementFailed.Add(1) }
func (t *Tracker) IncrementAuditFailed()    { t.auditFailed.Add(1) }

// IncrementConnectivityFault counts one push-channel connectivity fault.
func (t *Tracker) IncrementConnectivityFault() { t.connectivityFaults.Add(1) }

// ConnectivityFaults returns the cumulative connectivity fault count.
func (t *Tracker) ConnectivityFaults() uint64 { return t.connectivityFaults.Load() }

// Reads returns the cumulative payload count.
func (t *Tracker) Reads() uint64 { return t.reads.Load() }

// Inserted returns the cumulative new-record count.
func (t *Tracker) Inserted() uint64 { return t.inserted.Load() }

// StationReads returns a copy of the per-station read counts.
func (t *Tracker) StationReads() map[string]uint64 {
	counts := make(map[string]uint64)
	t.stationReads.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

// Uptime returns how long the tracker has been running.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(time.Unix(0, t.start.Load()))
}

// SnapshotLines returns human-readable stats ready for console output.
func (t *Tracker) SnapshotLines() []string {
	lines := make([]string, 0, 3)
	lines = append(lines, fmt.Sprintf("Reads: %s total, %s malformed, %s suppressed, %s inserted, %s duplicates",
		humanize.Comma(int64(t.reads.Load())),
		humanize.Comma(int64(t.malformed.Load())),
		humanize.Comma(int64(t.suppressed.Load())),
		humanize.Comma(int64(t.inserted.Load())),
		humanize.Comma(int64(t.duplicates.Load()))))
	lines = append(lines, fmt.Sprintf("Dispatch: status %s ok/%s failed, movement %s ok/%s conflicts/%s failed, audit %s failed",
		humanize.Comma(int64(t.statusOK.Load())),
		humanize.Comma(int64(t.statusFailed.Load())),
		humanize.Comma(int64(t.movementOK.Load())),
		humanize.Comma(int64(t.movementConflicts.Load())),
		humanize.Comma(int64(t.movementFailed.Load())),
		humanize.Comma(int64(t.auditFailed.Load()))))
	if faults := t.connectivityFaults.Load(); faults > 0 {
		lines = append(lines, fmt.Sprintf("Feed: %s connectivity faults", humanize.Comma(int64(faults))))
	}
	lines = append(lines, formatMapCounts("Reads by station", &t.stationReads))
	return lines
}

func formatMapCounts(label string, counts *sync.Map) string {
	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	first := true
	counts.Range(func(key, value any) bool {
		if !first {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", key.(string), value.(*atomic.Uint64).Load())
		first = false
		return true
	})
	if first {
		builder.WriteString("(none)")
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
