package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"idleforge.dev/internal/migrate"
	persistlog "idleforge.dev/internal/persistence/log"
	"idleforge.dev/internal/persistence/savedb"
	"idleforge.dev/internal/replay"
	"idleforge.dev/internal/sim/content"
	"idleforge.dev/internal/sim/engine"
	"idleforge.dev/internal/sim/tuning"
	"idleforge.dev/internal/telemetry"
	"idleforge.dev/internal/transport/ws"
)

const runtimeVersion = "0.3.0"

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "content pack directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")

		saveID     = flag.String("save", "", "save id to resume (default: latest for this pack)")
		freshStart = flag.Bool("fresh", false, "ignore existing saves and start a new run")
		saveEvery  = flag.Duration("save_every", time.Minute, "autosave interval")

		recordPath = flag.String("record", "", "write a replay file on shutdown (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	pack, err := content.Load(*configDir)
	if err != nil {
		logger.Fatalf("load content: %v", err)
	}
	logger.Printf("content pack=%s digest=%s v%d resources=%d", pack.ID, pack.Digest.Hash, pack.Digest.Version, len(pack.Resources))

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	store, err := savedb.Open(filepath.Join(*dataDir, "saves.db"))
	if err != nil {
		logger.Fatalf("open save db: %v", err)
	}
	defer store.Close()

	counters := telemetry.NewCounters()
	rt, err := engine.NewRuntime(engineConfig(tune), pack, counters)
	if err != nil {
		logger.Fatalf("runtime: %v", err)
	}

	migrations := migrate.NewRegistry()
	if n, err := migrate.LoadRules(filepath.Join(*configDir, "migrations.yaml"), migrations); err != nil {
		logger.Fatalf("load migrations: %v", err)
	} else if n > 0 {
		logger.Printf("loaded %d content migrations", n)
	}

	ctx, cancel := signalContext()
	defer cancel()

	resumed, awayFor := resumeLatest(ctx, logger, store, migrations, pack, rt, *saveID, *freshStart)

	sessionDir := filepath.Join(*dataDir, "sessions", time.Now().UTC().Format("2006-01-02T15-04-05"))
	journal := persistlog.NewTickJournal(sessionDir)
	defer journal.Close()
	rt.SetJournal(journal)

	telemetryLog := persistlog.NewTelemetryLogger(sessionDir)
	defer telemetryLog.Close()
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := telemetryLog.WriteSnapshot(counters.Snapshot()); err != nil {
					logger.Printf("telemetry log: %v", err)
				}
			}
		}
	}()

	var rec *replay.Recorder
	if *recordPath != "" {
		rec = replay.NewRecorder(rt, runtimeVersion)
	}

	// Queue catch-up only after the recorder observer is attached so a
	// recorded session replays the catch-up too.
	if awayFor > time.Second {
		payload := fmt.Sprintf(`{"elapsedMs":%d}`, awayFor.Milliseconds())
		rt.Enqueue(engine.Command{
			Type:      "system.offline_catchup",
			Priority:  engine.PrioritySystem,
			Payload:   []byte(payload),
			Timestamp: time.Now().UnixMilli(),
		})
		logger.Printf("offline catch-up queued for %s away", awayFor.Round(time.Second))
	}

	wsServer := ws.NewServer(rt, ws.Config{
		PackID:            pack.ID,
		CommandsPerSecond: tune.RateLimits.CommandsPerSecond,
		CommandBurst:      tune.RateLimits.CommandBurst,
	}, logger)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := rt.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("runtime stopped: %v", err)
		}
	}()

	// Autosave loop.
	go func() {
		t := time.NewTicker(*saveEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				writeSave(ctx, logger, store, pack, rt)
			}
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(rt, pack.ID))
	if envBool("IF_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsServer.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	if resumed {
		logger.Printf("resumed at step=%d", rt.CurrentStep())
	}
	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Join the loop before touching simulation state: exporting while a tick
	// is in flight would persist a torn save.
	rt.Stop()
	<-runDone

	shutdownCtx, cancel3 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel3()
	payload := engine.SavePayload{State: rt.ExportState(), Queue: rt.ExportQueue(), Step: rt.CurrentStep()}
	if id, err := store.PutSave(shutdownCtx, pack.ID, pack.Digest, payload.Step, savedb.SaveBlob{State: payload.State, Queue: payload.Queue}); err != nil {
		logger.Printf("final save: %v", err)
	} else {
		logger.Printf("final save id=%s step=%d", id, payload.Step)
	}
	if rec != nil {
		if err := rec.ExportFile(*recordPath, rt); err != nil {
			logger.Printf("replay export: %v", err)
		} else {
			logger.Printf("replay written to %s (%d commands)", *recordPath, rec.CommandCount())
			err := store.IndexReplay(shutdownCtx, savedb.ReplayRow{
				Path:     *recordPath,
				EndStep:  rt.CurrentStep(),
				Checksum: rt.Checksum(),
				Commands: rec.CommandCount(),
			})
			if err != nil {
				logger.Printf("index replay: %v", err)
			}
		}
	}
}

func engineConfig(t tuning.Tuning) engine.Config {
	return engine.Config{
		StepSizeMs:    int64(t.StepSizeMs),
		Seed:          t.Seed,
		QueueCapacity: t.QueueCapacity,
		Bus: engine.BusConfig{
			Capacity:          t.Bus.Capacity,
			SoftLimit:         t.Bus.SoftLimit,
			WarnCooldownTicks: uint64(t.Bus.WarnCooldownTicks),
			SlowHandlerBudget: time.Duration(t.Bus.SlowHandlerMs) * time.Millisecond,
		},
		Dirty: engine.DirtyConfig{
			AbsoluteFloor:   t.Dirty.AbsoluteFloor,
			RelativeFactor:  t.Dirty.RelativeFactor,
			RelativeCeiling: t.Dirty.RelativeCeiling,
			MaxOverride:     t.Dirty.MaxOverride,
		},
		CatchupLimits: engine.OfflineLimits{
			MaxElapsedMs: t.Offline.MaxElapsedMs,
			MaxSteps:     t.Offline.MaxSteps,
		},
		CatchupStepsPerTick: t.Offline.StepsPerTick,
		StateEverySteps:     t.SnapshotEverySteps,
	}
}

// resumeLatest loads a save, migrating it when the content digest moved.
// Returns whether a save was applied and how long the run was offline.
func resumeLatest(ctx context.Context, logger *log.Logger, store *savedb.Store, migrations *migrate.Registry, pack *content.Pack, rt *engine.Runtime, saveID string, fresh bool) (bool, time.Duration) {
	if fresh {
		return false, 0
	}
	if saveID == "" {
		saves, err := store.ListSaves(ctx, pack.ID)
		if err != nil || len(saves) == 0 {
			return false, 0
		}
		saveID = saves[0].ID
	}
	meta, blob, err := store.GetSave(ctx, saveID)
	if err != nil {
		logger.Printf("load save %s: %v", saveID, err)
		return false, 0
	}

	state := blob.State
	if !meta.Digest.Equal(pack.Digest) {
		migrated, ok := migrations.Apply(state, meta.Digest, pack.Digest)
		if !ok {
			logger.Fatalf("save %s: no migration path from %s v%d to %s v%d",
				saveID, meta.Digest.Hash, meta.Digest.Version, pack.Digest.Hash, pack.Digest.Version)
		}
		state = migrated
		logger.Printf("migrated save %s: %s v%d -> %s v%d",
			saveID, meta.Digest.Hash, meta.Digest.Version, pack.Digest.Hash, pack.Digest.Version)
	}

	rt.ImportState(state)
	rt.SetStep(meta.Step)
	res := rt.RestoreQueue(blob.Queue)
	if res.Skipped > 0 || res.Rejected > 0 {
		logger.Printf("queue restore: %d restored, %d skipped, %d rejected", res.Restored, res.Skipped, res.Rejected)
	}

	if meta.CreatedAt.IsZero() {
		return true, 0
	}
	return true, time.Since(meta.CreatedAt)
}

func writeSave(ctx context.Context, logger *log.Logger, store *savedb.Store, pack *content.Pack, rt *engine.Runtime) {
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	payload, err := rt.RequestSave(ctx2)
	if err != nil {
		logger.Printf("autosave: %v", err)
		return
	}
	id, err := store.PutSave(ctx2, pack.ID, pack.Digest, payload.Step, savedb.SaveBlob{State: payload.State, Queue: payload.Queue})
	if err != nil {
		logger.Printf("autosave: %v", err)
		return
	}
	logger.Printf("autosave id=%s step=%d queue=%d", id, payload.Step, len(payload.Queue.Entries))
}

func metricsHandler(rt *engine.Runtime, packID string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := rt.Metrics()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP idleforge_sim_step Current simulation step.\n")
		fmt.Fprintf(rw, "# TYPE idleforge_sim_step gauge\n")
		fmt.Fprintf(rw, "idleforge_sim_step{pack=%q} %d\n", packID, m.Step)

		fmt.Fprintf(rw, "# HELP idleforge_sim_queue_depth Pending command count.\n")
		fmt.Fprintf(rw, "# TYPE idleforge_sim_queue_depth gauge\n")
		fmt.Fprintf(rw, "idleforge_sim_queue_depth{pack=%q} %d\n", packID, m.QueueDepth)

		fmt.Fprintf(rw, "# HELP idleforge_sim_queue_capacity Command queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE idleforge_sim_queue_capacity gauge\n")
		fmt.Fprintf(rw, "idleforge_sim_queue_capacity{pack=%q} %d\n", packID, m.QueueCapacity)

		fmt.Fprintf(rw, "# HELP idleforge_sim_step_ms Last step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE idleforge_sim_step_ms gauge\n")
		fmt.Fprintf(rw, "idleforge_sim_step_ms{pack=%q} %.3f\n", packID, m.StepMS)

		fmt.Fprintf(rw, "# HELP idleforge_sim_catchup_steps Offline steps still pending.\n")
		fmt.Fprintf(rw, "# TYPE idleforge_sim_catchup_steps gauge\n")
		fmt.Fprintf(rw, "idleforge_sim_catchup_steps{pack=%q} %d\n", packID, m.CatchupSteps)

		fmt.Fprintf(rw, "# HELP idleforge_bus_events Event bus per-channel counters for the last step.\n")
		fmt.Fprintf(rw, "# TYPE idleforge_bus_events gauge\n")
		for ch, c := range m.Channels {
			fmt.Fprintf(rw, "idleforge_bus_events{pack=%q,channel=%q,kind=%q} %d\n", packID, ch, "published", c.Published)
			fmt.Fprintf(rw, "idleforge_bus_events{pack=%q,channel=%q,kind=%q} %d\n", packID, ch, "soft_limited", c.SoftLimited)
			fmt.Fprintf(rw, "idleforge_bus_events{pack=%q,channel=%q,kind=%q} %d\n", packID, ch, "overflowed", c.Overflowed)
		}
	}
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
