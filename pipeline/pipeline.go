// Package pipeline wires one station end to end: raw payloads from the
// feed are normalized, burst-suppressed, enriched, deduplicated into the
// session store, and fanned out to the side-effect dispatcher.
//
// Concurrency model:
//   - A single event loop owns all session mutations. Normalization, the
//     suppression check, and the attribute lookup run inside the loop
//     because the dedup decision depends on the resolved product key.
//   - Image, operator, status, movement, and audit work runs on short
//     goroutines that post closures back into the loop. A generation
//     token invalidates in-flight work when the pipeline stops, so a
//     stale lookup can never mutate a stopped session.
package pipeline

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tagtrack/dedup"
	"tagtrack/dispatch"
	"tagtrack/enrich"
	"tagtrack/feed"
	"tagtrack/operator"
	"tagtrack/session"
	"tagtrack/stats"
	"tagtrack/tagread"
)

// Station carries the per-station parameters. The deployed stations
// differ only in these values.
type Station struct {
	Name            string
	Group           string
	StatusCode      int
	MovementPath    string
	Location        string
	TimestampField  string
	DefaultOperator string
}

// Subscriber delivers raw payloads. *feed.Client implements it.
type Subscriber interface {
	Messages() <-chan feed.RawMessage
	Stop()
}

// Enricher resolves tag reads into product records. *enrich.Resolver
// implements it.
type Enricher interface {
	Resolve(ctx context.Context, ev *tagread.Event) enrich.Resolution
	Image(ctx context.Context, printCard string) string
}

// OperatorResolver maps badge EPCs to display names. *operator.Resolver
// implements it.
type OperatorResolver interface {
	Resolve(ctx context.Context, badgeEPC string) string
}

// Dispatcher fires the downstream side effects. *dispatch.Dispatcher
// implements it.
type Dispatcher interface {
	UpdateStatus(ctx context.Context, tagID string, status int) error
	RegisterMovement(ctx context.Context, mr dispatch.MovementRequest) dispatch.MovementOutcome
	RegisterAntennaEvent(ctx context.Context, tagID, operatorBadge string) error
}

// result is a completed piece of async work headed back into the loop.
type result struct {
	gen   uint64
	apply func()
}

// Pipeline runs one station.
type Pipeline struct {
	station    Station
	sub        Subscriber
	suppressor *dedup.Suppressor
	enricher   Enricher
	operators  OperatorResolver
	dispatcher Dispatcher
	store      *session.Store
	tracker    *stats.Tracker

	lookupTimeout   time.Duration
	dispatchTimeout time.Duration

	results  chan result
	gen      atomic.Uint64
	shutdown chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New assembles a station pipeline. Suppressor may be nil (no burst
// suppression); tracker may be nil (no counters).
func New(st Station, sub Subscriber, sup *dedup.Suppressor, enr Enricher, ops OperatorResolver, disp Dispatcher, tracker *stats.Tracker, lookupTimeout, dispatchTimeout time.Duration) *Pipeline {
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	if dispatchTimeout <= 0 {
		dispatchTimeout = 5 * time.Second
	}
	return &Pipeline{
		station:         st,
		sub:             sub,
		suppressor:      sup,
		enricher:        enr,
		operators:       ops,
		dispatcher:      disp,
		store:           session.NewStore(),
		tracker:         tracker,
		lookupTimeout:   lookupTimeout,
		dispatchTimeout: dispatchTimeout,
		results:         make(chan result, 64),
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Store exposes the session state for observers.
func (p *Pipeline) Store() *session.Store {
	return p.store
}

// Start launches the event loop.
func (p *Pipeline) Start() {
	go p.loop()
	log.Printf("Pipeline[%s]: started (group %s)", p.station.Name, p.station.Group)
}

// Stop invalidates in-flight work, stops the subscriber, and waits for
// the loop to drain. Idempotent.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.gen.Add(1) // everything in flight is now stale
		p.sub.Stop()
		close(p.shutdown)
		<-p.done
		log.Printf("Pipeline[%s]: stopped", p.station.Name)
	})
}

func (p *Pipeline) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.shutdown:
			return
		case res := <-p.results:
			if res.gen == p.gen.Load() {
				res.apply()
			}
		case raw, ok := <-p.sub.Messages():
			if !ok {
				return
			}
			p.handleRaw(raw)
		}
	}
}

// handleRaw processes one payload through normalization, suppression,
// enrichment, and dedup, then fans out side effects for new records.
func (p *Pipeline) handleRaw(raw feed.RawMessage) {
	if p.tracker != nil {
		p.tracker.IncrementRead(p.station.Name)
	}

	ev, err := tagread.Parse(raw.Payload)
	if err != nil {
		if p.tracker != nil {
			p.tracker.IncrementMalformed()
		}
		log.Printf("Pipeline[%s]: dropping malformed payload: %v", p.station.Name, err)
		return
	}

	// Operator identification is per read, not per new record: a badge on
	// a repeated pallet still changes who is signed in at the station.
	p.resolveOperator(ev)

	if p.suppressor.Suppress(ev) {
		if p.tracker != nil {
			p.tracker.IncrementSuppressed()
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.lookupTimeout)
	res := p.enricher.Resolve(ctx, ev)
	cancel()

	rec := res.Record
	if p.store.Upsert(&rec) == session.AlreadySeen {
		if p.tracker != nil {
			p.tracker.IncrementDuplicate()
		}
		return
	}
	if p.tracker != nil {
		p.tracker.IncrementInserted()
	}

	gen := p.gen.Load()
	go p.fetchImage(gen, rec)
	go p.updateStatus(gen, ev.TagID, rec.ProductKey)
	go p.registerMovement(gen, ev, rec)
	go p.registerAudit(ev)
}

// resolveOperator updates the station's current operator. An event with
// no badge clears it synchronously; a badge resolves on a goroutine.
func (p *Pipeline) resolveOperator(ev *tagread.Event) {
	if ev.OperatorTag == "" {
		p.store.SetOperator(operator.SentinelNoOperator)
		return
	}
	if ev.OperatorName != "" {
		// Structured payloads can carry the name inline; no lookup needed.
		p.store.SetOperator(ev.OperatorName)
		return
	}
	gen := p.gen.Load()
	badge := ev.OperatorTag
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.lookupTimeout)
		name := p.operators.Resolve(ctx, badge)
		cancel()
		p.post(gen, func() { p.store.SetOperator(name) })
	}()
}

func (p *Pipeline) fetchImage(gen uint64, rec session.ProductRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), p.lookupTimeout)
	ref := p.enricher.Image(ctx, rec.PrintCard)
	cancel()
	key := rec.ProductKey
	p.post(gen, func() { p.store.ApplyImage(key, ref) })
}

// updateStatus always uses the raw tag id: the registry keys status by
// EPC, so the call is worth attempting even when enrichment failed.
func (p *Pipeline) updateStatus(gen uint64, tagID, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.dispatchTimeout)
	err := p.dispatcher.UpdateStatus(ctx, tagID, p.station.StatusCode)
	cancel()
	if err != nil {
		log.Printf("Pipeline[%s]: %v", p.station.Name, err)
	}
	if p.tracker != nil {
		if err == nil {
			p.tracker.IncrementStatusOK()
		} else {
			p.tracker.IncrementStatusFailed()
		}
	}
	p.post(gen, func() { p.store.ApplyStatusOutcome(key, err == nil) })
}

func (p *Pipeline) registerMovement(gen uint64, ev *tagread.Event, rec session.ProductRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), p.dispatchTimeout)
	out := p.dispatcher.RegisterMovement(ctx, dispatch.MovementRequest{
		RecordID:       rec.RecordID,
		Path:           p.station.MovementPath,
		Location:       p.station.Location,
		TimestampField: p.station.TimestampField,
		Antenna:        ev.Antenna,
		When:           ev.SeenAt(),
	})
	cancel()

	res := movementResult(out.Status)
	switch out.Status {
	case dispatch.MovementOK:
		if p.tracker != nil {
			p.tracker.IncrementMovementOK()
		}
	case dispatch.MovementConflict:
		if p.tracker != nil {
			p.tracker.IncrementConflict()
		}
		log.Printf("Pipeline[%s]: movement for %s already registered: %s", p.station.Name, rec.ProductKey, out.Message)
	case dispatch.MovementSkipped:
		log.Printf("Pipeline[%s]: movement for %s skipped: %s", p.station.Name, rec.ProductKey, out.Message)
	default:
		if p.tracker != nil {
			p.tracker.IncrementMovementFailed()
		}
		log.Printf("Pipeline[%s]: movement for %s failed: %s", p.station.Name, rec.ProductKey, out.Message)
	}

	key := rec.ProductKey
	assigned := out.AssignedID
	p.post(gen, func() { p.store.ApplyMovementOutcome(key, res, assigned) })
}

// registerAudit fires the best-effort antenna audit entry. No result
// flows back into the session.
func (p *Pipeline) registerAudit(ev *tagread.Event) {
	badge := ev.OperatorTag
	if badge == "" {
		badge = p.station.DefaultOperator
	}
	if badge == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.dispatchTimeout)
	err := p.dispatcher.RegisterAntennaEvent(ctx, ev.TagID, badge)
	cancel()
	if err != nil {
		if p.tracker != nil {
			p.tracker.IncrementAuditFailed()
		}
		log.Printf("Pipeline[%s]: %v", p.station.Name, err)
	}
}

// post hands a completed closure back to the loop. Abandoned when the
// pipeline is shutting down.
func (p *Pipeline) post(gen uint64, apply func()) {
	select {
	case p.results <- result{gen: gen, apply: apply}:
	case <-p.shutdown:
	}
}

func movementResult(s dispatch.MovementStatus) session.MovementResult {
	switch s {
	case dispatch.MovementOK:
		return session.MovementOK
	case dispatch.MovementConflict:
		return session.MovementConflict
	case dispatch.MovementUnknownTag:
		return session.MovementUnknownTag
	case dispatch.MovementSkipped:
		return session.MovementSkipped
	default:
		return session.MovementFailed
	}
}
