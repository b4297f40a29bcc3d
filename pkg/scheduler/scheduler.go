// Package scheduler implements AgentScheduler (spec §4.7): a fixed-cadence
// driver over any component exposing the Tickable capability. The scheduler
// depends only on Tickable, never on a concrete agent type (spec §9
// "Multiple inheritance / duck typing over agents → capability
// interfaces").
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/mas-fro/core/internal/clock"
	"github.com/mas-fro/core/pkg/logging"
)

// Tickable is the capability contract every scheduled agent implements.
type Tickable interface {
	Name() string
	Tick(ctx context.Context) error
}

// HealthChecker is the optional capability an isolated agent is reinstated
// through (spec §5 Backpressure: "isolated ... until its health endpoint
// reports OK"). Agents that don't implement it are instead re-probed with
// an ordinary Tick call every probeInterval ticks, the same half-open
// pattern the external fetchers' circuit breaker uses.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

const (
	// maxConsecutiveFailures isolates an agent after this many ticks in a
	// row return an error. (The external fetcher circuit breaker uses its
	// own trigger of 5 consecutive failures.)
	maxConsecutiveFailures = 3
	// probeInterval is how many ticks a HealthChecker-less isolated agent
	// waits before a fresh probe Tick is attempted.
	probeInterval = 5
)

// SimulationRunning reports whether SimulationManager currently owns tick
// sequencing; when true the scheduler skips its own cadence entirely (spec
// §4.7). A nil value behaves as "never running".
type SimulationRunning func() bool

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masfro",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Total ticks driven per agent.",
	}, []string{"agent"})
	ticksErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "masfro",
		Subsystem: "scheduler",
		Name:      "ticks_errors_total",
		Help:      "Total tick errors per agent.",
	}, []string{"agent"})
	lastTickDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "masfro",
		Subsystem: "scheduler",
		Name:      "last_tick_duration_ms",
		Help:      "Duration of the most recent tick, per agent.",
	}, []string{"agent"})
)

// AgentStatus is one agent's observability snapshot (spec §4.7).
type AgentStatus struct {
	Name               string
	Priority           int
	TicksTotal         int64
	TicksErrors        int64
	LastTickDurationMS int64
	LastError          string
	Isolated           bool
}

type registration struct {
	agent    Tickable
	priority int
	mu       sync.Mutex // serializes this agent's own ticks

	status AgentStatus

	consecutiveFailures int
	isolated            bool
	ticksSinceIsolated  int
}

// Scheduler drives registered agents at a fixed cadence, never running two
// ticks of the same agent concurrently while allowing different agents to
// tick in parallel.
type Scheduler struct {
	mu    sync.RWMutex
	regs  []*registration
	clock clock.Clock
	log   logr.Logger

	isSimRunning SimulationRunning
}

// New constructs a Scheduler. isSimRunning may be nil (treated as
// always-false).
func New(clk clock.Clock, log logr.Logger, isSimRunning SimulationRunning) *Scheduler {
	if isSimRunning == nil {
		isSimRunning = func() bool { return false }
	}
	return &Scheduler{clock: clk, log: log.WithName("agent_scheduler"), isSimRunning: isSimRunning}
}

// Register adds an agent to the schedule with the given priority (lower
// values tick first within a cadence).
func (s *Scheduler) Register(agent Tickable, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs = append(s.regs, &registration{
		agent:    agent,
		priority: priority,
		status:   AgentStatus{Name: agent.Name(), Priority: priority},
	})
	sort.Slice(s.regs, func(i, j int) bool { return s.regs[i].priority < s.regs[j].priority })
}

// Run blocks, ticking all registered agents every cadence until ctx is
// canceled.
func (s *Scheduler) Run(ctx context.Context, cadence time.Duration) error {
	if cadence <= 0 {
		cadence = time.Second
	}
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tickAll(ctx)
		}
	}
}

// TickOnce runs a single cadence edge synchronously, for tests and for
// SimulationManager-driven step execution that still wants scheduler-style
// parallel-but-serialized dispatch.
func (s *Scheduler) TickOnce(ctx context.Context) {
	s.tickAll(ctx)
}

func (s *Scheduler) tickAll(ctx context.Context) {
	if s.isSimRunning() {
		return
	}

	s.mu.RLock()
	regs := append([]*registration(nil), s.regs...)
	s.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range regs {
		r := r
		g.Go(func() error {
			s.tickOne(gctx, r)
			return nil
		})
	}
	_ = g.Wait() // per-agent errors are isolated in tickOne; they never fail the group
}

func (s *Scheduler) tickOne(ctx context.Context, r *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isolated {
		r.ticksSinceIsolated++
		if hc, ok := r.agent.(HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				s.log.V(1).Info("isolated agent still unhealthy", logging.NewFields().
					Component("agent_scheduler").Str("agent", r.agent.Name()).Error(err).KeysAndValues()...)
				return
			}
			r.reinstate()
		} else if r.ticksSinceIsolated < probeInterval {
			return // no health endpoint: wait out the probe interval before a real retry
		}
	}

	start := s.clock.Now()
	err := r.agent.Tick(ctx)
	duration := s.clock.Now().Sub(start)

	r.status.TicksTotal++
	r.status.LastTickDurationMS = duration.Milliseconds()
	ticksTotal.WithLabelValues(r.agent.Name()).Inc()
	lastTickDuration.WithLabelValues(r.agent.Name()).Set(float64(duration.Milliseconds()))

	if err != nil {
		r.status.TicksErrors++
		r.status.LastError = err.Error()
		ticksErrors.WithLabelValues(r.agent.Name()).Inc()
		s.log.Error(err, "agent tick failed", logging.NewFields().Component("agent_scheduler").Str("agent", r.agent.Name()).KeysAndValues()...)

		r.consecutiveFailures++
		if r.isolated {
			r.ticksSinceIsolated = 0 // probe failed; wait out another full interval
		} else if r.consecutiveFailures >= maxConsecutiveFailures {
			r.isolated = true
			r.status.Isolated = true
			r.ticksSinceIsolated = 0
			s.log.Info("agent isolated after consecutive tick failures", logging.NewFields().
				Component("agent_scheduler").Str("agent", r.agent.Name()).Int("consecutive_failures", r.consecutiveFailures).KeysAndValues()...)
		}
		return
	}

	r.consecutiveFailures = 0
	r.reinstate()
}

// reinstate clears isolation; a no-op if the agent was never isolated.
// Caller must hold r.mu.
func (r *registration) reinstate() {
	if !r.isolated {
		return
	}
	r.isolated = false
	r.status.Isolated = false
	r.ticksSinceIsolated = 0
}

// Status returns a snapshot of every registered agent's counters (spec
// §4.7 "Expose via a status call").
func (s *Scheduler) Status() []AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentStatus, len(s.regs))
	for i, r := range s.regs {
		r.mu.Lock()
		out[i] = r.status
		r.mu.Unlock()
	}
	return out
}
