package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"tagtrack/dedup"
	"tagtrack/dispatch"
	"tagtrack/enrich"
	"tagtrack/feed"
	"tagtrack/session"
	"tagtrack/stats"
	"tagtrack/tagread"
)

type fakeSub struct {
	ch chan feed.RawMessage
}

func (f *fakeSub) Messages() <-chan feed.RawMessage { return f.ch }
func (f *fakeSub) Stop()                            {}

// fakeEnricher maps tag ids to fixed resolutions.
type fakeEnricher struct {
	records map[string]session.ProductRecord
}

func (f *fakeEnricher) Resolve(ctx context.Context, ev *tagread.Event) enrich.Resolution {
	if rec, ok := f.records[ev.TagID]; ok {
		rec.TagID = ev.TagID
		return enrich.Resolution{Record: rec}
	}
	return enrich.Resolution{Record: session.ProductRecord{
		ProductKey:  ev.TagID,
		ProductName: enrich.SentinelUnavailable,
		TagID:       ev.TagID,
	}}
}

func (f *fakeEnricher) Image(ctx context.Context, printCard string) string {
	if printCard == "" || printCard == enrich.SentinelUnavailable {
		return enrich.DefaultImageRef
	}
	return "img:" + printCard
}

type fakeOps struct{}

func (fakeOps) Resolve(ctx context.Context, badgeEPC string) string {
	return "Operator " + badgeEPC
}

// fakeDispatcher records calls and returns configured outcomes.
type fakeDispatcher struct {
	mu            sync.Mutex
	statusCalls   []string
	statusCodes   []int
	movementCalls []dispatch.MovementRequest
	auditCalls    [][2]string
	movementOut   dispatch.MovementOutcome
}

func (f *fakeDispatcher) UpdateStatus(ctx context.Context, tagID string, status int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, tagID)
	f.statusCodes = append(f.statusCodes, status)
	return nil
}

func (f *fakeDispatcher) RegisterMovement(ctx context.Context, mr dispatch.MovementRequest) dispatch.MovementOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.movementCalls = append(f.movementCalls, mr)
	return f.movementOut
}

func (f *fakeDispatcher) RegisterAntennaEvent(ctx context.Context, tagID, operatorBadge string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auditCalls = append(f.auditCalls, [2]string{tagID, operatorBadge})
	return nil
}

func (f *fakeDispatcher) counts() (status, movement, audit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.statusCalls), len(f.movementCalls), len(f.auditCalls)
}

func testStation() Station {
	return Station{
		Name:            "Entrada PT-1",
		Group:           "EntradaPT",
		StatusCode:      2,
		MovementPath:    "EntradaAlmacen",
		Location:        "Almacen PT",
		TimestampField:  "fechaEntrada",
		DefaultOperator: "000000000999",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func structuredRead(tag, antenna string) []byte {
	return []byte(`{"EPC": "` + tag + `", "AntennaPort": ` + antenna + `, "FirstSeenTime": "2024-10-01 13:45:00", "LastSeenTime": "2024-10-01 13:45:02"}`)
}

func TestSameProductKeyDedupsAcrossTags(t *testing.T) {
	sub := &fakeSub{ch: make(chan feed.RawMessage, 10)}
	enr := &fakeEnricher{records: map[string]session.ProductRecord{
		"000000000123": {ProductKey: "PC-100", PrintCard: "PC-100", RecordID: 42, Enriched: true},
		"000000000124": {ProductKey: "PC-100", PrintCard: "PC-100", RecordID: 42, Enriched: true},
	}}
	disp := &fakeDispatcher{movementOut: dispatch.MovementOutcome{Status: dispatch.MovementOK, AssignedID: 915}}
	tr := stats.NewTracker()

	p := New(testStation(), sub, nil, enr, fakeOps{}, disp, tr, time.Second, time.Second)
	p.Start()
	defer p.Stop()

	sub.ch <- feed.RawMessage{Payload: structuredRead("000000000123", "1")}
	sub.ch <- feed.RawMessage{Payload: structuredRead("000000000124", "2")}

	waitFor(t, "both reads processed", func() bool { return tr.Reads() == 2 })
	waitFor(t, "single record in session", func() bool { return p.Store().Len() == 1 })

	if tr.Inserted() != 1 {
		t.Fatalf("expected 1 insert, got %d", tr.Inserted())
	}
	waitFor(t, "movement outcome applied", func() bool {
		rec, ok := p.Store().Get("PC-100")
		return ok && rec.Movement == session.MovementOK
	})
	waitFor(t, "status outcome applied", func() bool {
		rec, ok := p.Store().Get("PC-100")
		return ok && rec.StatusDone
	})
	rec, _ := p.Store().Get("PC-100")
	if rec.RecordID != 915 {
		t.Fatalf("expected assigned registry id, got %d", rec.RecordID)
	}

	// Side effects fire once: for the insert, never for the duplicate.
	status, movement, _ := disp.counts()
	if status != 1 || movement != 1 {
		t.Fatalf("expected one status and one movement dispatch, got %d/%d", status, movement)
	}
	if disp.statusCalls[0] != "000000000123" || disp.statusCodes[0] != 2 {
		t.Fatalf("status dispatched with wrong identity: %v %v", disp.statusCalls, disp.statusCodes)
	}
}

func TestMalformedPayloadChangesNothing(t *testing.T) {
	sub := &fakeSub{ch: make(chan feed.RawMessage, 10)}
	disp := &fakeDispatcher{}
	tr := stats.NewTracker()

	p := New(testStation(), sub, nil, &fakeEnricher{}, fakeOps{}, disp, tr, time.Second, time.Second)
	p.Start()
	defer p.Stop()

	sub.ch <- feed.RawMessage{Payload: []byte("not a tag read")}
	waitFor(t, "read counted", func() bool { return tr.Reads() == 1 })
	// Give any (wrong) async work a moment to surface.
	time.Sleep(50 * time.Millisecond)

	if p.Store().Len() != 0 {
		t.Fatalf("malformed payload must not create records")
	}
	status, movement, audit := disp.counts()
	if status+movement+audit != 0 {
		t.Fatalf("malformed payload must not dispatch (%d/%d/%d)", status, movement, audit)
	}
}

func TestMovementConflictRecordedAsWarning(t *testing.T) {
	sub := &fakeSub{ch: make(chan feed.RawMessage, 10)}
	enr := &fakeEnricher{records: map[string]session.ProductRecord{
		"000000000123": {ProductKey: "PC-100", PrintCard: "PC-100", RecordID: 42, Enriched: true},
	}}
	disp := &fakeDispatcher{movementOut: dispatch.MovementOutcome{
		Status: dispatch.MovementConflict, Message: "ya registrada",
	}}

	p := New(testStation(), sub, nil, enr, fakeOps{}, disp, nil, time.Second, time.Second)
	p.Start()
	defer p.Stop()

	sub.ch <- feed.RawMessage{Payload: structuredRead("000000000123", "1")}
	waitFor(t, "conflict applied", func() bool {
		rec, ok := p.Store().Get("PC-100")
		return ok && rec.Movement == session.MovementConflict
	})

	_, movement, _ := disp.counts()
	if movement != 1 {
		t.Fatalf("conflict must not be retried (movement calls=%d)", movement)
	}
	rec, _ := p.Store().Get("PC-100")
	if rec.RecordID != 42 {
		t.Fatalf("conflict must not clobber the record id, got %d", rec.RecordID)
	}
}

func TestEnrichmentFailureStillUpdatesStatus(t *testing.T) {
	sub := &fakeSub{ch: make(chan feed.RawMessage, 10)}
	disp := &fakeDispatcher{movementOut: dispatch.MovementOutcome{Status: dispatch.MovementSkipped}}

	// Enricher knows nothing: every resolve yields a sentinel record keyed
	// by the raw tag id, the way a catalog outage looks.
	p := New(testStation(), sub, nil, &fakeEnricher{}, fakeOps{}, disp, nil, time.Second, time.Second)
	p.Start()
	defer p.Stop()

	sub.ch <- feed.RawMessage{Payload: structuredRead("000000000123", "1")}
	waitFor(t, "status outcome applied", func() bool {
		rec, ok := p.Store().Get("000000000123")
		return ok && rec.StatusDone
	})

	rec, _ := p.Store().Get("000000000123")
	if !rec.StatusOK {
		t.Fatalf("status must be attempted with the raw tag id and succeed")
	}
	if rec.Movement != session.MovementSkipped {
		t.Fatalf("movement without a record id must be skipped, got %v", rec.Movement)
	}
	status, _, _ := disp.counts()
	if status != 1 {
		t.Fatalf("expected one status dispatch, got %d", status)
	}
}

func TestOperatorBadgeUpdatesSession(t *testing.T) {
	sub := &fakeSub{ch: make(chan feed.RawMessage, 10)}
	enr := &fakeEnricher{records: map[string]session.ProductRecord{
		"000000000123": {ProductKey: "PC-100", Enriched: true},
	}}
	disp := &fakeDispatcher{movementOut: dispatch.MovementOutcome{Status: dispatch.MovementSkipped}}

	p := New(testStation(), sub, nil, enr, fakeOps{}, disp, nil, time.Second, time.Second)
	p.Start()
	defer p.Stop()

	payload := []byte(`{"EPC": "000000000123", "AntennaPort": 1, "FirstSeenTime": "2024-10-01 13:45:00", "OperadorInfo": {"rfiD_Operador": "000000000134"}}`)
	sub.ch <- feed.RawMessage{Payload: payload}

	waitFor(t, "operator resolved", func() bool {
		return p.Store().Operator() == "Operator 000000000134"
	})
	waitFor(t, "audit dispatched with badge", func() bool {
		_, _, audit := disp.counts()
		return audit == 1
	})
	disp.mu.Lock()
	defer disp.mu.Unlock()
	if disp.auditCalls[0] != [2]string{"000000000123", "000000000134"} {
		t.Fatalf("unexpected audit call %v", disp.auditCalls[0])
	}
}

func TestAuditFallsBackToStationDefaultBadge(t *testing.T) {
	sub := &fakeSub{ch: make(chan feed.RawMessage, 10)}
	enr := &fakeEnricher{records: map[string]session.ProductRecord{
		"000000000123": {ProductKey: "PC-100", Enriched: true},
	}}
	disp := &fakeDispatcher{movementOut: dispatch.MovementOutcome{Status: dispatch.MovementSkipped}}

	p := New(testStation(), sub, nil, enr, fakeOps{}, disp, nil, time.Second, time.Second)
	p.Start()
	defer p.Stop()

	sub.ch <- feed.RawMessage{Payload: structuredRead("000000000123", "1")}
	waitFor(t, "audit dispatched with default badge", func() bool {
		_, _, audit := disp.counts()
		return audit == 1
	})
	disp.mu.Lock()
	defer disp.mu.Unlock()
	if disp.auditCalls[0][1] != "000000000999" {
		t.Fatalf("expected station default badge, got %q", disp.auditCalls[0][1])
	}
}

func TestSuppressionScopedPerStation(t *testing.T) {
	mk := func(name, group string) (*Pipeline, *fakeSub, *fakeDispatcher) {
		sub := &fakeSub{ch: make(chan feed.RawMessage, 10)}
		enr := &fakeEnricher{records: map[string]session.ProductRecord{
			"000000000123": {ProductKey: "PC-100", PrintCard: "PC-100", RecordID: 42, Enriched: true},
		}}
		disp := &fakeDispatcher{movementOut: dispatch.MovementOutcome{Status: dispatch.MovementOK, AssignedID: 915}}
		st := testStation()
		st.Name = name
		st.Group = group
		sup := dedup.NewSuppressor(5 * time.Second)
		return New(st, sub, sup, enr, fakeOps{}, disp, nil, time.Second, time.Second), sub, disp
	}

	entrada, entradaSub, _ := mk("Entrada PT-1", "EntradaPT")
	salida, salidaSub, salidaDisp := mk("Salida MP", "SalidaMP")
	entrada.Start()
	defer entrada.Stop()
	salida.Start()
	defer salida.Stop()

	// The same pallet passes both stations on the same antenna-port number
	// well inside the suppression window. Each station must record its own
	// sighting and register its own movement.
	entradaSub.ch <- feed.RawMessage{Payload: structuredRead("000000000123", "1")}
	salidaSub.ch <- feed.RawMessage{Payload: structuredRead("000000000123", "1")}

	waitFor(t, "inbound station record", func() bool { return entrada.Store().Len() == 1 })
	waitFor(t, "outbound station record", func() bool { return salida.Store().Len() == 1 })
	waitFor(t, "outbound movement dispatched", func() bool {
		_, movement, _ := salidaDisp.counts()
		return movement == 1
	})
}

func TestStopInvalidatesInFlightResults(t *testing.T) {
	sub := &fakeSub{ch: make(chan feed.RawMessage, 10)}
	disp := &fakeDispatcher{movementOut: dispatch.MovementOutcome{Status: dispatch.MovementSkipped}}
	p := New(testStation(), sub, nil, &fakeEnricher{}, fakeOps{}, disp, nil, time.Second, time.Second)
	p.Start()
	p.Stop()
	p.Stop() // idempotent

	// A closure captured under the pre-stop generation must not apply.
	stale := p.gen.Load() - 1
	applied := false
	select {
	case p.results <- result{gen: stale, apply: func() { applied = true }}:
	default:
	}
	time.Sleep(20 * time.Millisecond)
	if applied {
		t.Fatalf("stale-generation result must be discarded")
	}
}
