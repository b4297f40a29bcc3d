// Command masfro is the MAS-FRO process entrypoint: it loads Config, wires
// every core component in dependency order, and mounts the fixed HTTP
// contracts over them. The handlers here are intentionally thin; all
// decisioning lives in the wired packages.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/mas-fro/core/internal/clock"
	"github.com/mas-fro/core/internal/config"
	"github.com/mas-fro/core/pkg/bus"
	"github.com/mas-fro/core/pkg/graph"
	"github.com/mas-fro/core/pkg/hazard"
	"github.com/mas-fro/core/pkg/llm"
	"github.com/mas-fro/core/pkg/logging"
	"github.com/mas-fro/core/pkg/notifier"
	"github.com/mas-fro/core/pkg/orchestrator"
	"github.com/mas-fro/core/pkg/repository"
	"github.com/mas-fro/core/pkg/routing"
	"github.com/mas-fro/core/pkg/scheduler"
	"github.com/mas-fro/core/pkg/simulation"
	"github.com/mas-fro/core/pkg/spatial"
)

func main() {
	log, zapLogger := newLogger()
	defer zapLogger.Sync()

	if err := run(log); err != nil {
		log.Error(err, "masfro exited with error")
		os.Exit(1)
	}
}

func newLogger() (logr.Logger, *zap.Logger) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	zl, err := cfg.Build()
	if err != nil {
		zl = zap.NewNop()
	}
	return zapr.NewLogger(zl), zl
}

func run(log logr.Logger) error {
	configPath := envOr("MASFRO_CONFIG_PATH", "config.yaml")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	clk := clock.NewReal()

	store := graph.NewStore()
	if graphPath := envOr("MASFRO_GRAPH_PATH", "data/graph.json"); graphPath != "" {
		warn := func(msg string, kv ...interface{}) { log.Info(msg, kv...) }
		if err := store.Load(graphPath, cfg.BoundingBox(), warn); err != nil {
			log.Error(err, "graph load failed; starting with an empty, unloaded store",
				logging.NewFields().Str("path", graphPath).KeysAndValues()...)
		}
	}

	var waterways []spatial.Waterway
	if cfg.LowRAM {
		log.Info("MASFRO_LOW_RAM set; skipping waterway geometry index, river-risk priors default to zero")
	} else {
		waterways, err = loadWaterways(os.Getenv("MASFRO_WATERWAYS_PATH"))
		if err != nil {
			log.Error(err, "waterways load failed; river-risk priors default to zero")
		}
	}
	index := spatial.Build(store.AllNodes(), store.SnapshotEdges(func(graph.Edge) bool { return true }), waterways)

	var evacRepo repository.EvacuationRepository
	var floodRepo repository.FloodDataRepository
	if cfg.DatabaseURL != "" {
		pgEvac, err := repository.NewPostgresEvacuationRepository(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		evacRepo = pgEvac

		pgFlood, err := repository.NewPostgresFloodDataRepository(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		floodRepo = pgFlood
	} else {
		log.Info("DATABASE_URL not set; evacuation-center and collection-history endpoints are disabled")
	}

	fusion := hazard.NewWithCacheCapacities(store, index, clk, log, nil, cfg.Caches.StationMax, cfg.Caches.ScoutMax)
	fusion.SetWeights(cfg.RiskWeights())
	fusion.SetRiskRadius(cfg.Risk.RadiusM)

	routingEngine := routing.NewEngine(store, index, evacRepo, log)

	llmAdapter, err := llm.NewAdapter(llm.Config{
		Enabled:     cfg.LLM.Enabled,
		APIKey:      cfg.LLM.APIKey,
		TextModel:   cfg.LLM.TextModel,
		VisionModel: cfg.LLM.VisionModel,
	}, log)
	if err != nil {
		return err
	}

	var notif notifier.Notifier = notifier.NoopNotifier{}
	store.Subscribe(notifier.AsGraphListener(notif))

	messageBus := bus.New()

	orch := orchestrator.New(messageBus, clk, log, "orchestrator")
	orch.SetMaxConcurrentMissions(cfg.Orchestrator.MaxConcurrentMissions)
	orch.SetStepTimeout(time.Duration(cfg.Orchestrator.StepTimeoutS) * time.Second)

	sim := simulation.New(messageBus, fusion, routingEngine, clk, log, nil)

	sched := scheduler.New(clk, log, sim.IsRunning)
	sched.Register(orch, 0)
	sched.Register(newBusAgent("router", messageBus, clk, log, routerHandler(routingEngine)), 5)
	sched.Register(newBusAgent("scout", messageBus, clk, log, scoutHandler()), 5)
	sched.Register(newBusAgent("flood", messageBus, clk, log, floodHandler(floodRepo, clk)), 5)
	sched.Register(newBusAgent("hazard", messageBus, clk, log, hazardHandler(fusion)), 5)
	sched.Register(&fusionTick{fusion: fusion}, 10)

	app := &application{
		cfg:       cfg,
		log:       log,
		clock:     clk,
		store:     store,
		index:     index,
		fusion:    fusion,
		routing:   routingEngine,
		orch:      orch,
		sim:       sim,
		sched:     sched,
		llm:       llmAdapter,
		evacRepo:  evacRepo,
		floodRepo: floodRepo,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !cfg.Scheduler.Disabled {
		go func() {
			cadence := time.Duration(cfg.Scheduler.TickIntervalMS) * time.Millisecond
			if err := sched.Run(ctx, cadence); err != nil && ctx.Err() == nil {
				log.Error(err, "scheduler stopped unexpectedly")
			}
		}()
	} else {
		log.Info("scheduler disabled via MASFRO_DISABLE_SCHEDULER")
	}

	srv := &http.Server{
		Addr:         envOr("MASFRO_LISTEN_ADDR", ":8080"),
		Handler:      newRouter(app),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sig:
		log.Info("shutting down")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// fusionTick adapts HazardFusion into scheduler.Tickable. The first pass
// after process start forces the "all edges" candidate set (spec §4.4);
// every subsequent cadence tick narrows to edges near fresh inputs.
type fusionTick struct {
	fusion *hazard.Fusion
	ticked bool
}

func (t *fusionTick) Name() string { return "hazard_fusion" }

func (t *fusionTick) Tick(_ context.Context) error {
	firstPass := !t.ticked
	t.ticked = true
	_, err := t.fusion.Tick(firstPass)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// application bundles every wired component the HTTP handlers close over.
type application struct {
	cfg     *config.Config
	log     logr.Logger
	clock   clock.Clock
	store   *graph.Store
	index   *spatial.Index
	fusion  *hazard.Fusion
	routing *routing.Engine
	orch    *orchestrator.Orchestrator
	sim     *simulation.Manager
	sched   *scheduler.Scheduler
	llm     llm.Adapter

	evacRepo  repository.EvacuationRepository
	floodRepo repository.FloodDataRepository
}

func newRouter(app *application) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(app.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: app.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/api/health", app.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/route", app.handleRoute)
		r.Post("/evacuation-center", app.handleEvacuationCenter)
		r.Post("/feedback", app.handleFeedback)

		r.Group(func(r chi.Router) {
			r.Use(adminAuth(app.cfg.AdminAPIKey))
			r.Post("/scheduler/trigger", app.handleSchedulerTrigger)
			r.Get("/collections", app.handleListCollections)
			r.Post("/missions/assess-risk", app.handleMissionStart)
			r.Get("/missions/{id}", app.handleMissionStatus)
		})

		r.Route("/simulation", func(r chi.Router) {
			r.Use(adminAuth(app.cfg.AdminAPIKey))
			r.Post("/start", app.handleSimStart)
			r.Post("/stop", app.handleSimStop)
			r.Post("/reset", app.handleSimReset)
			r.Post("/tick", app.handleSimTick)
			r.Get("/status", app.handleSimStatus)
		})
	})

	return r
}

// requestLogger emits one structured line per request at Info level,
// mirroring the fields pkg/logging.Fields already standardizes elsewhere.
func requestLogger(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http_request",
				logging.NewFields().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Duration(time.Since(start)).
					KeysAndValues()...)
		})
	}
}
