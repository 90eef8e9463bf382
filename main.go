// TagTrack ingests RFID tag reads from warehouse antenna stations,
// enriches them against the product catalog, deduplicates them into
// per-station sessions, and registers the resulting inventory movements
// with the system of record.
//
// Each configured station gets its own push-channel subscription and
// pipeline instance; the catalog and registry clients, the attribute
// cache, the learned-identity store, and the stats tracker are shared.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"tagtrack/attrcache"
	"tagtrack/config"
	"tagtrack/dedup"
	"tagtrack/dispatch"
	"tagtrack/enrich"
	"tagtrack/feed"
	"tagtrack/identity"
	"tagtrack/operator"
	"tagtrack/pipeline"
	"tagtrack/stats"
)

// Version is the application version.
const Version = "1.0.0"

func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// Interactive consoles get the fanout's own timestamps; under a
	// service manager the journal already stamps every line.
	fanout, err := setupLogging(cfg.Logging, os.Stdout, isStdoutTTY())
	if err != nil {
		log.Printf("Warning: file logging unavailable: %v", err)
	}
	log.SetFlags(0)
	log.SetOutput(fanout)
	defer fanout.Close()

	log.Printf("TagTrack v%s starting...", Version)
	cfg.Print()

	// Shared stores. Either may be disabled by an empty path; the
	// consumers are nil-tolerant.
	var cache *attrcache.Cache
	if cfg.Cache.AttrDir != "" {
		cache, err = attrcache.Open(cfg.Cache.AttrDir, cfg.AttrTTL())
		if err != nil {
			log.Printf("Warning: attribute cache unavailable: %v", err)
		} else {
			defer cache.Close()
			log.Printf("Attribute cache at %s (TTL %s)", cfg.Cache.AttrDir, cfg.AttrTTL())
		}
	}
	var ids *identity.Store
	if cfg.Cache.IdentityPath != "" {
		ids, err = identity.Open(cfg.Cache.IdentityPath)
		if err != nil {
			log.Printf("Warning: identity store unavailable: %v", err)
		} else {
			defer ids.Close()
			if n, err := ids.Count(); err == nil {
				log.Printf("Identity store at %s (%d learned tags)", cfg.Cache.IdentityPath, n)
			}
		}
	}

	// Shared collaborators.
	catalog := enrich.NewClient(cfg.Catalog.BaseURL, cfg.CatalogTimeout())
	enricher := enrich.NewResolver(catalog, cache, ids)
	operators := operator.NewResolver(cfg.Registry.BaseURL, cfg.RegistryTimeout())
	dispatcher := dispatch.NewDispatcher(cfg.Registry.BaseURL, cfg.RegistryTimeout())
	tracker := stats.NewTracker()

	// One feed subscription, pipeline, and suppressor per station. The
	// suppressor is per station because the same tag legitimately shows up
	// at different stations inside the window, and each sighting is a
	// distinct movement.
	pipelines := make([]*pipeline.Pipeline, 0, len(cfg.Stations))
	suppressors := make([]*dedup.Suppressor, 0, len(cfg.Stations))
	for _, st := range cfg.Stations {
		suppressor := dedup.NewSuppressor(cfg.SuppressWindow())
		suppressor.Start()
		suppressors = append(suppressors, suppressor)

		sub := feed.NewClient(cfg.Broker.Host, cfg.Broker.Port, cfg.Broker.TopicPrefix, st.Group, cfg.Broker.Buffer)
		sub.SetFaultHandler(func(error) { tracker.IncrementConnectivityFault() })
		p := pipeline.New(pipeline.Station{
			Name:            st.Name,
			Group:           st.Group,
			StatusCode:      st.StatusCode,
			MovementPath:    st.MovementPath,
			Location:        st.Location,
			TimestampField:  st.TimestampField,
			DefaultOperator: st.DefaultOperator,
		}, sub, suppressor, enricher, operators, dispatcher, tracker, cfg.CatalogTimeout(), cfg.RegistryTimeout())
		p.Start()
		sub.Start()
		pipelines = append(pipelines, p)
	}
	log.Printf("Running %d station pipelines", len(pipelines))

	// Periodic counter summary.
	statsStop := make(chan struct{})
	if interval := time.Duration(cfg.Stats.IntervalSeconds) * time.Second; interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-statsStop:
					return
				case <-ticker.C:
					for _, line := range tracker.SnapshotLines() {
						log.Print(line)
					}
					var processed, suppressed uint64
					var cacheSize int
					for _, sup := range suppressors {
						p, s, n := sup.Stats()
						processed += p
						suppressed += s
						cacheSize += n
					}
					log.Printf("Suppressors: %d processed, %d suppressed, %d live keys", processed, suppressed, cacheSize)
				}
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received %v, shutting down...", sig)

	close(statsStop)
	for _, p := range pipelines {
		p.Stop()
	}
	for _, sup := range suppressors {
		sup.Stop()
	}
	log.Printf("Shutdown complete: %d reads processed, %d records inserted, uptime %s",
		tracker.Reads(), tracker.Inserted(), tracker.Uptime().Round(time.Second))
}
