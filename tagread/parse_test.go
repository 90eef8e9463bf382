package tagread

import (
	"strings"
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	ev, err := Parse([]byte("[EntradaPT] EPC: 000000000123 at 2024-10-01 13:45:00"))
	if err != nil {
		t.Fatalf("parse line: %v", err)
	}
	if ev.TagID != "000000000123" {
		t.Fatalf("expected tag 000000000123, got %q", ev.TagID)
	}
	if ev.Antenna != "EntradaPT" {
		t.Fatalf("expected antenna EntradaPT, got %q", ev.Antenna)
	}
	want := time.Date(2024, 10, 1, 13, 45, 0, 0, time.UTC)
	if !ev.FirstSeen.Equal(want) || !ev.LastSeen.Equal(want) {
		t.Fatalf("expected both timestamps %v, got first=%v last=%v", want, ev.FirstSeen, ev.LastSeen)
	}
	if ev.Shape != ShapeLine {
		t.Fatalf("expected line shape, got %s", ev.Shape)
	}
}

func TestParseStructured(t *testing.T) {
	payload := `{
		"EPC": "303400000000000000000042",
		"AntennaPort": 3,
		"RSSI": "-51",
		"FirstSeenTime": "2024-10-01T13:45:00Z",
		"LastSeenTime": "2024-10-01T13:45:02Z",
		"ReaderIP": "172.16.10.60",
		"OperadorInfo": {"id": 7, "claveOperador": "OP-7", "nombreOperador": "Maria Lopez", "rfiD_Operador": "000000000134"}
	}`
	ev, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("parse structured: %v", err)
	}
	if ev.TagID != "303400000000000000000042" {
		t.Fatalf("unexpected tag %q", ev.TagID)
	}
	if ev.Antenna != "3" {
		t.Fatalf("expected antenna port 3, got %q", ev.Antenna)
	}
	if ev.OperatorTag != "000000000134" {
		t.Fatalf("expected operator badge EPC, got %q", ev.OperatorTag)
	}
	if ev.OperatorName != "Maria Lopez" {
		t.Fatalf("expected operator name, got %q", ev.OperatorName)
	}
	if ev.LastSeen.Sub(ev.FirstSeen) != 2*time.Second {
		t.Fatalf("expected 2s read cycle, got %v", ev.LastSeen.Sub(ev.FirstSeen))
	}
}

func TestParseStructuredWithoutOperator(t *testing.T) {
	payload := `{"EPC": "42", "AntennaPort": 1, "FirstSeenTime": "2024-10-01T13:45:00Z"}`
	ev, err := Parse([]byte(payload))
	if err != nil {
		t.Fatalf("parse structured: %v", err)
	}
	if ev.OperatorTag != "" || ev.OperatorName != "" {
		t.Fatalf("expected no operator info, got %q/%q", ev.OperatorTag, ev.OperatorName)
	}
	if !ev.SeenAt().Equal(ev.FirstSeen) {
		t.Fatalf("expected SeenAt to fall back to FirstSeen")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"garbage line", "hello antennas"},
		{"line missing epc", "[EntradaPT] EPC:  at 2024-10-01 13:45:00"},
		{"line bad timestamp", "[EntradaPT] EPC: 123 at not-a-date 99:99"},
		{"json missing epc", `{"AntennaPort": 1, "FirstSeenTime": "2024-10-01T13:45:00Z"}`},
		{"json missing timestamps", `{"EPC": "42", "AntennaPort": 1}`},
		{"json syntax error", `{"EPC": "42",`},
	}
	for _, tc := range cases {
		if ev, err := Parse([]byte(tc.raw)); err == nil {
			t.Fatalf("%s: expected error, got event %+v", tc.name, ev)
		}
	}
}

func TestSuppressKeyDistinguishesAntennaAndTag(t *testing.T) {
	base := &Event{TagID: "000000000123", Antenna: "2"}
	sameRead := &Event{TagID: "000000000123", Antenna: "2", RSSI: "-60"}
	otherAntenna := &Event{TagID: "000000000123", Antenna: "3"}
	otherTag := &Event{TagID: "000000000124", Antenna: "2"}

	if base.SuppressKey() != sameRead.SuppressKey() {
		t.Fatalf("expected RSSI to be excluded from the suppression key")
	}
	if base.SuppressKey() == otherAntenna.SuppressKey() {
		t.Fatalf("expected different antennas to produce different keys")
	}
	if base.SuppressKey() == otherTag.SuppressKey() {
		t.Fatalf("expected different tags to produce different keys")
	}
}

func TestParseLineRejectsEmbeddedPrefix(t *testing.T) {
	// Anchors keep noise around an otherwise valid line from parsing.
	raw := "noise [EntradaPT] EPC: 123 at 2024-10-01 13:45:00"
	if _, err := Parse([]byte(raw)); err == nil {
		t.Fatalf("expected anchored regex to reject %q", raw)
	}
	if !strings.HasPrefix(raw, "noise") {
		t.Fatalf("test fixture changed unexpectedly")
	}
}
