package enrich

import (
	"context"
	"log"
	"strings"
	"time"

	"tagtrack/attrcache"
	"tagtrack/identity"
	"tagtrack/session"
	"tagtrack/tagread"
)

const (
	// SentinelUnavailable fills every display field when attributes could
	// not be fetched. The record stays usable for display and dedup.
	SentinelUnavailable = "N/A"

	// DefaultImageRef is the fixed placeholder shown until (or instead of)
	// the product image.
	DefaultImageRef = "https://www.jnfac.or.kr/img/noimage.jpg"
)

// Catalog is the remote lookup surface the resolver needs. *Client
// implements it; tests substitute fakes.
type Catalog interface {
	Attributes(ctx context.Context, tagID string) (*Attributes, error)
	Image(ctx context.Context, printCard string) (string, error)
}

// Resolution is the outcome of resolving one tag read. Record.ProductKey
// is always set; Record.Enriched reports whether real attributes backed
// it or sentinels did.
type Resolution struct {
	Record    session.ProductRecord
	FromCache bool // attributes served from the local cache
}

// Resolver orchestrates attribute and image lookups with the cache and
// learned-identity fallbacks. Cache and identity store may be nil.
type Resolver struct {
	catalog Catalog
	cache   *attrcache.Cache
	ids     *identity.Store
}

// NewResolver creates a resolver around the catalog client.
func NewResolver(catalog Catalog, cache *attrcache.Cache, ids *identity.Store) *Resolver {
	return &Resolver{catalog: catalog, cache: cache, ids: ids}
}

// Resolve turns a tag read into a product record. The chain:
//
//  1. fresh cache entry → no remote call
//  2. remote attribute fetch → cache updated, identity learned
//  3. stale cache entry → bridge the outage with the last known attributes
//  4. sentinels, keyed by learned identity or the raw tag id
//
// Failures and timeouts never propagate; the returned record is always
// complete enough to display and to dedup on.
func (r *Resolver) Resolve(ctx context.Context, ev *tagread.Event) Resolution {
	if entry, fresh := r.cache.Get(ev.TagID); fresh == attrcache.Fresh {
		return Resolution{Record: recordFromEntry(ev, entry), FromCache: true}
	}

	attrs, err := r.catalog.Attributes(ctx, ev.TagID)
	if err == nil {
		entry := entryFromAttributes(ev.TagID, attrs)
		if cerr := r.cache.Put(entry); cerr != nil {
			log.Printf("Enrich: cache update for %s failed: %v", ev.TagID, cerr)
		}
		if entry.PrintCard != "" {
			if lerr := r.ids.Learn(ev.TagID, entry.PrintCard, entry.RecordID); lerr != nil {
				log.Printf("Enrich: identity learn for %s failed: %v", ev.TagID, lerr)
			}
		}
		return Resolution{Record: recordFromEntry(ev, entry)}
	}
	log.Printf("Enrich: attribute lookup for %s failed: %v", ev.TagID, err)

	if entry, fresh := r.cache.Get(ev.TagID); fresh == attrcache.Stale {
		log.Printf("Enrich: serving stale cached attributes for %s", ev.TagID)
		return Resolution{Record: recordFromEntry(ev, entry), FromCache: true}
	}

	return Resolution{Record: r.sentinelRecord(ev)}
}

// Image resolves the image reference for a print card. Any failure, and
// any unusable key, yields the fixed placeholder.
func (r *Resolver) Image(ctx context.Context, printCard string) string {
	printCard = strings.TrimSpace(printCard)
	if printCard == "" || printCard == SentinelUnavailable {
		return DefaultImageRef
	}
	ref, err := r.catalog.Image(ctx, printCard)
	if err != nil {
		log.Printf("Enrich: image lookup for %s failed: %v", printCard, err)
		return DefaultImageRef
	}
	return ref
}

// sentinelRecord builds the "unavailable" record: every display field is
// the sentinel, and the product key falls back to the learned identity or
// the raw tag id as a last resort.
func (r *Resolver) sentinelRecord(ev *tagread.Event) session.ProductRecord {
	key := ev.TagID
	var recordID int64
	if card, id, ok := r.ids.Lookup(ev.TagID); ok {
		key = card
		recordID = id
	}
	return session.ProductRecord{
		ProductKey:    key,
		Area:          SentinelUnavailable,
		ProductCode:   SentinelUnavailable,
		ProductName:   SentinelUnavailable,
		GrossWeight:   SentinelUnavailable,
		NetWeight:     SentinelUnavailable,
		PalletWeight:  SentinelUnavailable,
		Pieces:        SentinelUnavailable,
		UnitOfMeasure: SentinelUnavailable,
		Date:          SentinelUnavailable,
		EntryDate:     SentinelUnavailable,
		PrintCard:     SentinelUnavailable,
		ImageRef:      DefaultImageRef,
		TagID:         ev.TagID,
		RecordID:      recordID,
		SeenAt:        time.Now().UTC(),
	}
}

func entryFromAttributes(tagID string, attrs *Attributes) attrcache.Entry {
	return attrcache.Entry{
		TagID:         tagID,
		RecordID:      attrs.ID,
		PrintCard:     strings.TrimSpace(string(attrs.PrintCard)),
		Area:          string(attrs.Area),
		ProductCode:   string(attrs.ProductCode),
		ProductName:   string(attrs.ProductName),
		GrossWeight:   string(attrs.GrossWeight),
		NetWeight:     string(attrs.NetWeight),
		PalletWeight:  string(attrs.PalletWeight),
		Pieces:        string(attrs.Pieces),
		UnitOfMeasure: string(attrs.UnitOfMeasure),
		Date:          string(attrs.Date),
		EntryDate:     string(attrs.EntryDate),
	}
}

func recordFromEntry(ev *tagread.Event, e attrcache.Entry) session.ProductRecord {
	key := e.PrintCard
	if key == "" {
		key = ev.TagID
	}
	return session.ProductRecord{
		ProductKey:    key,
		Area:          display(flexString(e.Area)),
		ProductCode:   display(flexString(e.ProductCode)),
		ProductName:   display(flexString(e.ProductName)),
		GrossWeight:   display(flexString(e.GrossWeight)),
		NetWeight:     display(flexString(e.NetWeight)),
		PalletWeight:  display(flexString(e.PalletWeight)),
		Pieces:        display(flexString(e.Pieces)),
		UnitOfMeasure: display(flexString(e.UnitOfMeasure)),
		Date:          display(flexString(e.Date)),
		EntryDate:     display(flexString(e.EntryDate)),
		PrintCard:     display(flexString(e.PrintCard)),
		ImageRef:      DefaultImageRef,
		TagID:         ev.TagID,
		RecordID:      e.RecordID,
		SeenAt:        time.Now().UTC(),
		Enriched:      true,
	}
}
