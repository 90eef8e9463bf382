package tagread

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// precompiled regex avoids the per-message compile cost on the hot path.
// The line shape is fixed by the reader agent: "[EntradaPT] EPC: 1234 at 2024-10-01 13:45:00".
var lineRE = regexp.MustCompile(`^\[(.*?)\]\s+EPC:\s+(\d+)\s+at\s+([\d-]+\s[\d:]+)$`)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// timestampLayouts are the formats the reader agents emit. RFC3339 comes from
// the structured shape, the space-separated form from the text line.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// wireRead mirrors the structured payload published by the reader agent.
// Field names follow the producing backend's wire contract.
type wireRead struct {
	EPC           string        `json:"EPC"`
	AntennaPort   int           `json:"AntennaPort"`
	RSSI          string        `json:"RSSI"`
	FirstSeenTime string        `json:"FirstSeenTime"`
	LastSeenTime  string        `json:"LastSeenTime"`
	ReaderIP      string        `json:"ReaderIP"`
	Operator      *wireOperator `json:"OperadorInfo"`
}

// wireOperator is the operator badge block optionally attached to a read.
type wireOperator struct {
	ID       int64  `json:"id"`
	Code     string `json:"claveOperador"`
	Name     string `json:"nombreOperador"`
	BadgeEPC string `json:"rfiD_Operador"`
}

// Parse normalizes a raw push-channel payload into an Event. It accepts the
// structured JSON shape and the delimited text line; anything else, or a
// payload missing the tag id or every timestamp, returns an error and the
// message is dropped by the caller.
func Parse(raw []byte) (*Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("tagread: empty payload")
	}
	if trimmed[0] == '{' {
		return parseStructured(trimmed)
	}
	return parseLine(string(trimmed))
}

func parseStructured(raw []byte) (*Event, error) {
	var w wireRead
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("tagread: decode structured payload: %w", err)
	}
	tag := strings.TrimSpace(w.EPC)
	if tag == "" {
		return nil, fmt.Errorf("tagread: structured payload missing EPC")
	}
	first := parseTimestamp(w.FirstSeenTime)
	last := parseTimestamp(w.LastSeenTime)
	if first.IsZero() && last.IsZero() {
		return nil, fmt.Errorf("tagread: structured payload for %s has no timestamp", tag)
	}
	ev := &Event{
		TagID:     tag,
		Antenna:   strconv.Itoa(w.AntennaPort),
		RSSI:      strings.TrimSpace(w.RSSI),
		FirstSeen: first,
		LastSeen:  last,
		ReaderIP:  strings.TrimSpace(w.ReaderIP),
		Shape:     ShapeStructured,
	}
	if w.Operator != nil {
		ev.OperatorTag = strings.TrimSpace(w.Operator.BadgeEPC)
		ev.OperatorName = strings.TrimSpace(w.Operator.Name)
	}
	return ev, nil
}

func parseLine(line string) (*Event, error) {
	m := lineRE.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("tagread: unrecognized line %q", line)
	}
	seen := parseTimestamp(m[3])
	if seen.IsZero() {
		return nil, fmt.Errorf("tagread: line for %s has unparsable timestamp %q", m[2], m[3])
	}
	// The line shape carries a single timestamp; it stands in for both ends
	// of the read cycle.
	return &Event{
		TagID:     m[2],
		Antenna:   m[1],
		FirstSeen: seen,
		LastSeen:  seen,
		Shape:     ShapeLine,
	}, nil
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
