// Package tagread defines the canonical tag-read event produced by the
// antenna push channel and the normalization of the two raw payload shapes
// into it: a structured JSON object and a delimited text line.
package tagread

import (
	"encoding/binary"
	"time"

	"github.com/zeebo/xxh3"
)

// Event is one physical antenna read in canonical form. Events are created
// by the normalizer, consumed once by the station pipeline, and never
// mutated afterwards.
type Event struct {
	TagID        string    // EPC read off the tag
	Antenna      string    // antenna port number or reader-assigned name
	RSSI         string    // signal strength as reported by the reader
	FirstSeen    time.Time // first time the reader saw the tag in this cycle
	LastSeen     time.Time // last time the reader saw the tag in this cycle
	ReaderIP     string    // address of the fixed reader
	OperatorTag  string    // EPC of the operator badge, if one was read
	OperatorName string    // operator name when the reader already resolved it
	Shape        Shape     // which raw shape the event was decoded from
}

// Shape identifies which raw payload form an event was decoded from.
type Shape string

const (
	ShapeStructured Shape = "STRUCTURED" // JSON object from the reader agent
	ShapeLine       Shape = "LINE"       // delimited text line
)

// SeenAt returns the best available read timestamp: LastSeen when present,
// FirstSeen otherwise.
func (e *Event) SeenAt() time.Time {
	if !e.LastSeen.IsZero() {
		return e.LastSeen
	}
	return e.FirstSeen
}

// SuppressKey returns a 64-bit hash identifying the (antenna, tag) pair for
// windowed read-burst suppression. A fixed-layout buffer keeps the encoding
// deterministic: antenna occupies the first 16 bytes, the tag id the rest.
func (e *Event) SuppressKey() uint64 {
	var head [16]byte
	ant := e.Antenna
	if len(ant) > len(head) {
		ant = ant[:len(head)]
	}
	copy(head[:], ant)
	binary.LittleEndian.PutUint16(head[14:], uint16(len(e.Antenna)))
	buf := make([]byte, 0, len(head)+len(e.TagID))
	buf = append(buf, head[:]...)
	buf = append(buf, e.TagID...)
	return xxh3.Hash(buf)
}
