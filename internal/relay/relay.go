// Package relay runs the poll loop that moves new Zabbix problems to the
// notification sink.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HerbHall/zbxrelay/internal/novelty"
	"github.com/HerbHall/zbxrelay/internal/zabbix"
	"go.uber.org/zap"
)

// State is a poll loop phase.
type State int

const (
	StateStartupDelay State = iota
	StateAwaitingAvailability
	StateAuthenticating
	StateCycling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStartupDelay:
		return "startup_delay"
	case StateAwaitingAvailability:
		return "awaiting_availability"
	case StateAuthenticating:
		return "authenticating"
	case StateCycling:
		return "cycling"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrUnavailable means the API never answered the availability probe.
	ErrUnavailable = errors.New("monitoring API unavailable")
	// ErrAuthentication means the startup login failed.
	ErrAuthentication = errors.New("initial authentication failed")
)

// Cycle results used for logs, metrics and status.
const (
	ResultOK           = "ok"
	ResultIdle         = "idle"
	ResultNotifyFailed = "notify_failed"
	ResultPanic        = "panic"
)

// Prober checks whether the monitoring API is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Authenticator acquires the API credential.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// authObserver is implemented by authenticators that report every login,
// including the re-logins an EventSource performs after a rejected token.
type authObserver interface {
	SetAuthObserver(fn func(error))
}

// EventSource returns the current active problems, newest first. It
// handles its own errors and returns an empty slice on failure.
type EventSource interface {
	FetchActiveProblems(ctx context.Context) []zabbix.Event
}

// MessageFormatter renders a batch. ok is false when nothing should be sent.
type MessageFormatter interface {
	Format(events []zabbix.Event) (text string, ok bool)
}

// Sender delivers one message.
type Sender interface {
	Deliver(ctx context.Context, text string) error
}

// VersionReporter is implemented by API clients that can report the
// server version.
type VersionReporter interface {
	APIVersion(ctx context.Context) (string, error)
}

// WatermarkStore persists the watermark across restarts.
type WatermarkStore interface {
	LoadWatermark(ctx context.Context) (int64, bool, error)
	SaveWatermark(ctx context.Context, id int64) error
}

// Config holds the loop timings.
type Config struct {
	StartupDelay       time.Duration
	ProbeAttempts      int
	ProbeDelay         time.Duration
	PollInterval       time.Duration
	CycleTimeout       time.Duration
	MonotonicWatermark bool
}

const (
	DefaultProbeAttempts = 30
	DefaultProbeDelay    = 10 * time.Second
	DefaultPollInterval  = 300 * time.Second
	DefaultCycleTimeout  = 2 * time.Minute
)

// Deps are the collaborators the loop drives. Versions, Store and Metrics
// are optional.
type Deps struct {
	Prober    Prober
	Auth      Authenticator
	Source    EventSource
	Formatter MessageFormatter
	Sender    Sender
	Versions  VersionReporter
	Store     WatermarkStore
	Metrics   *Metrics
}

// Status is a point-in-time view of the loop for the ops endpoints.
type Status struct {
	State        string    `json:"state"`
	Ready        bool      `json:"ready"`
	Watermark    int64     `json:"watermark"`
	WatermarkSet bool      `json:"watermark_set"`
	Cycles       int64     `json:"cycles"`
	LastCycleAt  time.Time `json:"last_cycle_at,omitzero"`
	LastResult   string    `json:"last_result,omitempty"`
	APIVersion   string    `json:"api_version,omitempty"`
}

// Relay is the poll loop. Run must be called at most once.
type Relay struct {
	cfg     Config
	deps    Deps
	filter  *novelty.Filter
	metrics *Metrics
	logger  *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	// authObserved is set when the authenticator reports logins itself.
	authObserved bool

	mu     sync.RWMutex
	state  State
	status Status
}

// New validates deps and creates a Relay in the StartupDelay state.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Relay, error) {
	var missing []error
	if deps.Prober == nil {
		missing = append(missing, errors.New("prober is required"))
	}
	if deps.Auth == nil {
		missing = append(missing, errors.New("authenticator is required"))
	}
	if deps.Source == nil {
		missing = append(missing, errors.New("event source is required"))
	}
	if deps.Formatter == nil {
		missing = append(missing, errors.New("formatter is required"))
	}
	if deps.Sender == nil {
		missing = append(missing, errors.New("sender is required"))
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}

	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = DefaultProbeAttempts
	}
	if cfg.ProbeDelay < 0 {
		cfg.ProbeDelay = DefaultProbeDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	var opts []novelty.Option
	if cfg.MonotonicWatermark {
		opts = append(opts, novelty.WithMonotonicWatermark())
	}
	filter := novelty.New(opts...)

	r := &Relay{
		cfg:     cfg,
		deps:    deps,
		filter:  filter,
		metrics: metrics,
		logger:  logger,
		sleep:   sleepContext,
		now:     time.Now,
	}
	filter.OnRegression = func(previous, latest int64) {
		r.metrics.WatermarkRegression.Inc()
		r.logger.Warn("newest event id is below the watermark",
			zap.Int64("watermark", previous),
			zap.Int64("latest", latest),
			zap.Bool("monotonic", cfg.MonotonicWatermark),
		)
	}
	if obs, ok := deps.Auth.(authObserver); ok {
		obs.SetAuthObserver(r.observeAuth)
		r.authObserved = true
	}
	r.setState(StateStartupDelay)
	return r, nil
}

// Run drives the loop until ctx is cancelled or startup fails. It returns
// nil on interruption, ErrUnavailable when every probe failed and
// ErrAuthentication when the startup login failed.
func (r *Relay) Run(ctx context.Context) error {
	defer r.setState(StateStopped)

	r.logger.Info("relay starting", zap.Duration("startup_delay", r.cfg.StartupDelay))
	if err := r.sleep(ctx, r.cfg.StartupDelay); err != nil {
		r.logger.Info("relay interrupted during startup delay")
		return nil
	}

	r.restoreWatermark(ctx)

	r.setState(StateAwaitingAvailability)
	up, err := r.awaitAvailability(ctx)
	if err != nil {
		r.logger.Info("relay interrupted while waiting for the API")
		return nil
	}
	if !up {
		r.logger.Error("monitoring API did not become available",
			zap.Int("attempts", r.cfg.ProbeAttempts),
		)
		return ErrUnavailable
	}
	r.logAPIVersion(ctx)

	r.setState(StateAuthenticating)
	if err := r.authenticate(ctx); err != nil {
		r.logger.Error("initial authentication failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	r.setState(StateCycling)
	r.logger.Info("relay cycling", zap.Duration("poll_interval", r.cfg.PollInterval))
	for ctx.Err() == nil {
		r.cycle(ctx)
		if err := r.sleep(ctx, r.cfg.PollInterval); err != nil {
			break
		}
	}
	r.logger.Info("relay stopped")
	return nil
}

// awaitAvailability probes until the API answers or the attempts run out.
// The error is non-nil only when ctx was cancelled.
func (r *Relay) awaitAvailability(ctx context.Context) (bool, error) {
	for attempt := 1; attempt <= r.cfg.ProbeAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		callCtx, cancel := r.callContext(ctx)
		err := r.deps.Prober.Probe(callCtx)
		cancel()
		if err == nil {
			r.logger.Info("monitoring API available", zap.Int("attempt", attempt))
			return true, nil
		}
		r.logger.Warn("monitoring API not available yet",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.cfg.ProbeAttempts),
			zap.Error(err),
		)

		if attempt < r.cfg.ProbeAttempts {
			if err := r.sleep(ctx, r.cfg.ProbeDelay); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}

func (r *Relay) authenticate(ctx context.Context) error {
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	err := r.deps.Auth.Authenticate(callCtx)
	if !r.authObserved {
		r.observeAuth(err)
	}
	return err
}

func (r *Relay) observeAuth(err error) {
	if err != nil {
		r.metrics.Auth.WithLabelValues("failed").Inc()
		return
	}
	r.metrics.Auth.WithLabelValues("ok").Inc()
}

func (r *Relay) logAPIVersion(ctx context.Context) {
	if r.deps.Versions == nil {
		return
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	v, err := r.deps.Versions.APIVersion(callCtx)
	if err != nil {
		r.logger.Warn("could not read API version", zap.Error(err))
		return
	}
	r.logger.Info("monitoring API version", zap.String("version", v))
	r.mu.Lock()
	r.status.APIVersion = v
	r.mu.Unlock()
}

func (r *Relay) restoreWatermark(ctx context.Context) {
	if r.deps.Store == nil {
		return
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	id, ok, err := r.deps.Store.LoadWatermark(callCtx)
	if err != nil {
		r.logger.Warn("could not load saved watermark, seeding from the first batch", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	r.filter.Restore(id)
	r.publishWatermark()
	r.logger.Info("watermark restored", zap.Int64("watermark", id))
}

// cycle runs one fetch, filter, format and notify pass. In-flight calls
// are detached from ctx so an interrupt lets them finish; a panic abandons
// the cycle only.
func (r *Relay) cycle(ctx context.Context) {
	start := r.now()
	result := ResultPanic

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("cycle failed",
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
		r.metrics.Cycles.WithLabelValues(result).Inc()
		r.metrics.CycleDuration.Observe(r.now().Sub(start).Seconds())
		r.recordCycle(start, result)
	}()

	callCtx, cancel := r.callContext(ctx)
	defer cancel()
	result = r.runCycle(callCtx)
}

func (r *Relay) runCycle(ctx context.Context) string {
	events := r.deps.Source.FetchActiveProblems(ctx)
	r.metrics.EventsFetched.Add(float64(len(events)))

	before, wasSet := r.filter.Watermark()
	fresh := r.filter.SelectNew(events)
	if after, set := r.filter.Watermark(); set && (!wasSet || after != before) {
		r.publishWatermark()
		r.saveWatermark(ctx, after)
	}

	r.logger.Debug("cycle fetched problems",
		zap.Int("fetched", len(events)),
		zap.Int("new", len(fresh)),
	)
	if len(fresh) == 0 {
		return ResultIdle
	}
	r.metrics.EventsNew.Add(float64(len(fresh)))

	text, ok := r.deps.Formatter.Format(fresh)
	if !ok {
		r.metrics.Notifications.WithLabelValues("skipped").Inc()
		r.logger.Warn("message too short, not sending", zap.Int("events", len(fresh)))
		return ResultOK
	}

	if err := r.deps.Sender.Deliver(ctx, text); err != nil {
		r.metrics.Notifications.WithLabelValues("failed").Inc()
		r.logger.Warn("notification failed",
			zap.Int("events", len(fresh)),
			zap.Int64("newest_event", fresh[0].ID),
			zap.Error(err),
		)
		return ResultNotifyFailed
	}
	r.metrics.Notifications.WithLabelValues("sent").Inc()
	r.logger.Info("notification sent",
		zap.Int("events", len(fresh)),
		zap.Int64("newest_event", fresh[0].ID),
	)
	return ResultOK
}

func (r *Relay) saveWatermark(ctx context.Context, id int64) {
	if r.deps.Store == nil {
		return
	}
	if err := r.deps.Store.SaveWatermark(ctx, id); err != nil {
		r.logger.Warn("could not save watermark", zap.Int64("watermark", id), zap.Error(err))
	}
}

// callContext detaches from ctx's cancellation and applies the cycle
// timeout.
func (r *Relay) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CycleTimeout)
}

func (r *Relay) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.status.State = s.String()
	r.status.Ready = s == StateCycling
	r.mu.Unlock()
	r.metrics.State.Set(float64(s))
}

func (r *Relay) publishWatermark() {
	id, set := r.filter.Watermark()
	r.mu.Lock()
	r.status.Watermark = id
	r.status.WatermarkSet = set
	r.mu.Unlock()
	r.metrics.Watermark.Set(float64(id))
}

func (r *Relay) recordCycle(at time.Time, result string) {
	r.mu.Lock()
	r.status.Cycles++
	r.status.LastCycleAt = at
	r.status.LastResult = result
	r.mu.Unlock()
}

// State returns the current loop state.
func (r *Relay) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Status returns a snapshot safe to read from other goroutines.
func (r *Relay) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
