package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/legacy-adapter/pkg/events"
	"github.com/Sternrassler/legacy-adapter/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	circuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "legacy_circuit_state",
		Help: "Circuit breaker state by name (0 closed, 1 open, 2 half-open)",
	}, []string{"name"})

	circuitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_circuit_rejections_total",
		Help: "Total calls rejected without contacting the upstream",
	}, []string{"name"})

	circuitTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legacy_circuit_transitions_total",
		Help: "Total circuit breaker state transitions by target state",
	}, []string{"name", "to"})
)

// publishTimeout bounds how long a transition event may wait on a full
// blocking subscriber.
const publishTimeout = 100 * time.Millisecond

// ErrOpen matches every *OpenError via errors.Is.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Rejecting calls
	StateHalfOpen              // One trial call in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Outcome is the result of a permitted call.
type Outcome int

const (
	// Success means the upstream answered; consecutive failures reset.
	Success Outcome = iota
	// Failure means the upstream is unhealthy.
	Failure
	// Ignore means the call never completed (e.g. the caller cancelled).
	Ignore
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Ignore:
		return "ignore"
	default:
		return "unknown"
	}
}

// OpenError is returned by Allow when the call must not reach the upstream.
type OpenError struct {
	Name       string
	State      State
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s: retry after %s", e.Name, e.State, e.RetryAfter)
}

// Is makes errors.Is(err, ErrOpen) true for every OpenError.
func (e *OpenError) Is(target error) bool {
	return target == ErrOpen
}

// Ticket identifies a permitted call. Reports carrying a ticket from an
// earlier generation are discarded.
type Ticket struct {
	generation uint64
	trial      bool
}

// Trial reports whether the ticket is the half-open probe.
func (t Ticket) Trial() bool {
	return t.trial
}

// Transition is published on every state change.
type Transition struct {
	Name       string    `json:"name"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	Failures   int       `json:"failures"`
	Generation uint64    `json:"generation"`
	At         time.Time `json:"at"`
}

// Snapshot is a consistent read of the breaker.
type Snapshot struct {
	Name                string        `json:"name"`
	State               State         `json:"-"`
	StateName           string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenedAt            time.Time     `json:"opened_at,omitzero"`
	RetryAfter          time.Duration `json:"retry_after"`
}

// Config holds the breaker thresholds.
type Config struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultConfig returns the default thresholds for name.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1 (got %d)", c.FailureThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset_timeout must be > 0 (got %s)", c.ResetTimeout)
	}
	return nil
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithEvents publishes every state transition on bus.
func WithEvents(bus *events.Bus[Transition]) Option {
	return func(b *Breaker) {
		b.bus = bus
	}
}

// WithLogger sets the breaker logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Breaker) {
		b.logger = logger
	}
}

// Breaker is a circuit breaker. All methods are safe for concurrent use;
// state transitions are serialized by one mutex.
type Breaker struct {
	mutex               sync.Mutex
	name                string
	state               State
	consecutiveFailures int
	openedAt            time.Time
	failureThreshold    int
	resetTimeout        time.Duration
	generation          uint64
	trialInFlight       bool

	now    func() time.Time
	bus    *events.Bus[Transition]
	logger zerolog.Logger
}

// New creates a breaker in the closed state.
func New(cfg Config, opts ...Option) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Breaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		now:              time.Now,
		logger:           logging.ForResource("breaker", cfg.Name),
	}
	for _, opt := range opts {
		opt(b)
	}

	circuitState.WithLabelValues(b.name).Set(float64(StateClosed))
	return b, nil
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Allow asks for permission to call the upstream.
//
// In the open state the first call after ResetTimeout moves the breaker to
// half-open and becomes the single trial call. While the trial is pending
// every other caller is rejected as if the breaker were open.
func (b *Breaker) Allow() (Ticket, error) {
	b.mutex.Lock()

	var transition *Transition
	ticket, err := b.allowLocked(&transition)

	b.mutex.Unlock()

	b.publish(transition)
	if err != nil {
		circuitRejections.WithLabelValues(b.name).Inc()
	}
	return ticket, err
}

func (b *Breaker) allowLocked(transition **Transition) (Ticket, error) {
	now := b.now()

	switch b.state {
	case StateClosed:
		return Ticket{generation: b.generation}, nil

	case StateOpen:
		elapsed := now.Sub(b.openedAt)
		if elapsed >= b.resetTimeout {
			*transition = b.setStateLocked(StateHalfOpen, now)
			b.trialInFlight = true
			return Ticket{generation: b.generation, trial: true}, nil
		}
		return Ticket{}, &OpenError{Name: b.name, State: StateOpen, RetryAfter: b.resetTimeout - elapsed}

	case StateHalfOpen:
		if b.trialInFlight {
			return Ticket{}, &OpenError{Name: b.name, State: StateHalfOpen, RetryAfter: b.resetTimeout}
		}
		// The previous trial was abandoned; this call becomes the probe.
		b.trialInFlight = true
		return Ticket{generation: b.generation, trial: true}, nil

	default:
		return Ticket{}, &OpenError{Name: b.name, State: b.state, RetryAfter: b.resetTimeout}
	}
}

// Report records the outcome of a call permitted by Allow.
func (b *Breaker) Report(t Ticket, outcome Outcome) {
	b.mutex.Lock()

	var transition *Transition
	if t.generation == b.generation {
		transition = b.reportLocked(t, outcome)
	}

	b.mutex.Unlock()

	b.publish(transition)
}

func (b *Breaker) reportLocked(t Ticket, outcome Outcome) *Transition {
	now := b.now()

	switch b.state {
	case StateClosed:
		switch outcome {
		case Success:
			b.consecutiveFailures = 0
		case Failure:
			b.consecutiveFailures++
			if b.consecutiveFailures >= b.failureThreshold {
				b.openedAt = now
				return b.setStateLocked(StateOpen, now)
			}
		}

	case StateHalfOpen:
		if !t.trial {
			return nil
		}
		switch outcome {
		case Success:
			b.consecutiveFailures = 0
			return b.setStateLocked(StateClosed, now)
		case Failure:
			b.consecutiveFailures++
			b.openedAt = now
			return b.setStateLocked(StateOpen, now)
		case Ignore:
			b.trialInFlight = false
		}
	}
	return nil
}

// setStateLocked moves to state `to`, invalidating outstanding tickets.
func (b *Breaker) setStateLocked(to State, now time.Time) *Transition {
	from := b.state
	b.state = to
	b.generation++
	b.trialInFlight = false

	circuitState.WithLabelValues(b.name).Set(float64(to))
	circuitTransitions.WithLabelValues(b.name, to.String()).Inc()

	var event *zerolog.Event
	switch to {
	case StateOpen:
		event = b.logger.Warn()
	case StateClosed:
		event = b.logger.Info()
	default:
		event = b.logger.Debug()
	}
	event.
		Str("from", from.String()).
		Str("to", to.String()).
		Int("consecutive_failures", b.consecutiveFailures).
		Msg("Circuit breaker state changed")

	return &Transition{
		Name:       b.name,
		From:       from,
		To:         to,
		Failures:   b.consecutiveFailures,
		Generation: b.generation,
		At:         now,
	}
}

func (b *Breaker) publish(t *Transition) {
	if t == nil || b.bus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := b.bus.Publish(ctx, *t); err != nil && !errors.Is(err, events.ErrClosed) {
		b.logger.Warn().Err(err).Msg("Failed to publish breaker transition")
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed still reports open until the next Allow.
func (b *Breaker) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.consecutiveFailures
}

// ResetTimeout returns the configured reset timeout.
func (b *Breaker) ResetTimeout() time.Duration {
	return b.resetTimeout
}

// Snapshot returns a consistent view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	s := Snapshot{
		Name:                b.name,
		State:               b.state,
		StateName:           b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
	}

	switch b.state {
	case StateOpen:
		s.OpenedAt = b.openedAt
		if remaining := b.resetTimeout - b.now().Sub(b.openedAt); remaining > 0 {
			s.RetryAfter = remaining
		}
	case StateHalfOpen:
		s.OpenedAt = b.openedAt
		if b.trialInFlight {
			s.RetryAfter = b.resetTimeout
		}
	}
	return s
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mutex.Lock()

	b.consecutiveFailures = 0
	b.openedAt = time.Time{}
	var transition *Transition
	if b.state != StateClosed {
		transition = b.setStateLocked(StateClosed, b.now())
	}

	b.mutex.Unlock()

	b.publish(transition)
}
