// Package flowgate is a host-side admission scheduler for TCP flows. It
// caps how many accepted connections may transmit at once: up to
// MaxActiveFlows run at their natural rate while the rest are throttled
// by a kernel-side receive-window override, and every epoch the oldest
// active flows swap places with the oldest paused ones.
//
// The package interposes on the accept and close paths of the monitored
// process — either through the net.Listener wrapper in this package or by
// calling OnAccept/OnClose directly from another choke point — and never
// alters the result of the underlying socket operation.
package flowgate

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/hossein/flowgate/pkg/flowgate/rwnd"
)

var ErrCongestionControl = errors.New("flowgate: congestion control algorithm did not take effect")

// Enforcer is the narrow contract with the kernel-side override map.
// Calls are best-effort: the in-process queues stay authoritative even if
// the substrate is momentarily inconsistent, because the next rotation
// pass reissues the correct instruction for any flow still scheduled.
type Enforcer interface {
	// Clear removes any window override; the flow transmits normally.
	Clear(k rwnd.FlowKey) error
	// SetZero installs a zero-window override; the flow is throttled.
	SetZero(k rwnd.FlowKey) error
}

// Gate is the scheduler context: registry, queues, configuration, and the
// substrate handle. One Gate serves the whole process; share it between
// the listener wrappers and the scheduler loop.
type Gate struct {
	cfg    Config
	reg    Registry
	queues admissionQueues
	sock   sockOps
	clk    clock.Clock
	m      *gateMetrics

	// Substrate bootstrap is lazy: the pinned map is opened on the first
	// qualifying accept and retried on the next one if opening fails.
	bootMu       sync.Mutex
	enforcer     Enforcer
	openEnforcer func() (Enforcer, error)

	// The first accepted flow of the process is a control channel (e.g.
	// iperf3's) and is exempted from scheduling, at most once.
	skippedFirst atomic.Bool

	closed    chan struct{}
	closeOnce sync.Once
	started   atomic.Bool
}

// Option adjusts a Gate at construction time.
type Option func(*Gate)

// WithEnforcer supplies a substrate handle up front, skipping the lazy
// pinned-map bootstrap.
func WithEnforcer(e Enforcer) Option {
	return func(g *Gate) { g.enforcer = e }
}

// WithPinPath overrides the pinned-map location used by the lazy
// bootstrap.
func WithPinPath(path string) Option {
	return func(g *Gate) {
		g.openEnforcer = func() (Enforcer, error) { return rwnd.OpenPinned(path) }
	}
}

// WithClock substitutes the clock driving the epoch ticker.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) { g.clk = c }
}

// New creates a Gate. The configuration is validated here so a missing or
// zero capacity/epoch is reported at startup instead of silently running
// a no-op scheduler.
func New(cfg Config, opts ...Option) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := &Gate{
		cfg:    cfg,
		sock:   newSockOps(),
		clk:    clock.New(),
		m:      newGateMetrics(),
		closed: make(chan struct{}),
	}
	g.openEnforcer = func() (Enforcer, error) { return rwnd.OpenPinned(rwnd.PinPath) }
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Start launches the scheduler loop. It runs until Close.
func (g *Gate) Start() error {
	if err := g.cfg.Validate(); err != nil {
		return err
	}
	if !g.started.CompareAndSwap(false, true) {
		return fmt.Errorf("flowgate: gate already started")
	}

	slog.Info("gate: scheduler started",
		"maxActiveFlows", g.cfg.MaxActiveFlows,
		"epoch", g.cfg.Epoch(),
	)
	go g.run()
	return nil
}

// Close stops the scheduler loop. Tracked flows are left as-is; the
// process is expected to be exiting.
func (g *Gate) Close() error {
	g.closeOnce.Do(func() {
		close(g.closed)
	})
	return nil
}

// OnAccept is the accept-side shim entry point. It is called after the
// real accept has succeeded for fd; whatever it returns, the caller must
// still hand the connection to the application unchanged. The returned
// error exists for logging only.
func (g *Gate) OnAccept(fd int) error {
	if err := g.cfg.Validate(); err != nil {
		// The socket stays usable; it just is not scheduled.
		return err
	}

	key, ok, err := g.sock.flowKey(fd)
	if err != nil {
		return err
	}
	if !ok {
		slog.Warn("gate: ignoring non-IPv4 connection", "fd", fd)
		return nil
	}

	if err := g.ensureEnforcer(); err != nil {
		slog.Error("gate: substrate bootstrap failed, flow not scheduled", "fd", fd, "err", err)
		return err
	}

	if g.reg.Len() == 0 && g.skippedFirst.CompareAndSwap(false, true) {
		slog.Info("gate: exempting first flow as control channel", "fd", fd, "flow", key)
		g.m.exempted.Inc()
		return nil
	}

	if err := g.forceCongestionControl(fd); err != nil {
		slog.Error("gate: congestion control setup failed, flow not scheduled", "fd", fd, "err", err)
		return err
	}

	g.reg.Register(fd, key)

	e := g.substrate()
	if g.queues.admit(fd, int(g.cfg.MaxActiveFlows), func() {
		// An excess flow must never transmit unthrottled, not even for
		// one epoch, so the override is installed before the admission
		// lock is released.
		if err := e.SetZero(key); err != nil {
			slog.Error("gate: pausing new flow failed", "fd", fd, "flow", key, "err", err)
		}
	}) {
		slog.Debug("gate: flow admitted active", "fd", fd, "flow", key)
	} else {
		slog.Debug("gate: flow admitted paused", "fd", fd, "flow", key)
	}
	g.m.admitted.Inc()
	return nil
}

// OnClose is the close-side shim entry point, called after the real close
// has succeeded for fd. It clears any override and drops the registry
// entry; the fd deliberately stays in whichever queue holds it until the
// next rotation pass discards it as a ghost.
func (g *Gate) OnClose(fd int) {
	e := g.substrate()
	g.reg.Visit(fd, func(key rwnd.FlowKey) {
		if e == nil {
			return
		}
		if err := e.Clear(key); err != nil {
			slog.Error("gate: clearing override on close failed", "fd", fd, "flow", key, "err", err)
		}
	})
	g.reg.Remove(fd)
	slog.Debug("gate: flow closed", "fd", fd)
}

// forceCongestionControl sets the required algorithm and reads it back;
// the substrate only acts on flows running rwnd.CongestionControl.
func (g *Gate) forceCongestionControl(fd int) error {
	if err := g.sock.setCongestionControl(fd, rwnd.CongestionControl); err != nil {
		return err
	}
	got, err := g.sock.congestionControl(fd)
	if err != nil {
		return err
	}
	if got != rwnd.CongestionControl {
		return fmt.Errorf("%w: want %q, got %q", ErrCongestionControl, rwnd.CongestionControl, got)
	}
	return nil
}

// ensureEnforcer performs the one-time substrate bootstrap. A failure
// leaves the enforcer unset so the next qualifying accept retries.
func (g *Gate) ensureEnforcer() error {
	g.bootMu.Lock()
	defer g.bootMu.Unlock()
	if g.enforcer != nil {
		return nil
	}
	e, err := g.openEnforcer()
	if err != nil {
		return err
	}
	slog.Info("gate: enforcement substrate ready")
	g.enforcer = e
	return nil
}

// substrate returns the enforcer handle, or nil before bootstrap.
func (g *Gate) substrate() Enforcer {
	g.bootMu.Lock()
	defer g.bootMu.Unlock()
	return g.enforcer
}
