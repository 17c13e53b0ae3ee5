package selfreg

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/orgdeploy/pkg/observability"
	"github.com/platinummonkey/orgdeploy/pkg/orgmodel"
)

// DefaultWatchTimeout bounds a watch that never sees the organization
// propagation signal.
const DefaultWatchTimeout = 15 * time.Minute

// eventBuffer is sized so announcers never block on slow watch consumers.
const eventBuffer = 128

// Outcome describes how a watch ended.
type Outcome string

const (
	// OutcomePending means the watch is still running.
	OutcomePending Outcome = "PENDING"
	// OutcomeOrganizationDetected means a registration carried an
	// organization id, so organization-wide propagation has begun.
	OutcomeOrganizationDetected Outcome = "ORGANIZATION_DETECTED"
	// OutcomeTimedOut means the timeout elapsed; the accepted set is partial.
	OutcomeTimedOut Outcome = "TIMED_OUT"
	// OutcomeCancelled means the caller cancelled the watch.
	OutcomeCancelled Outcome = "CANCELLED"
)

var errMissingFields = errors.New("announcement requires externalId and accountId")

// Registration is one inbound self-registration announcement.
type Registration struct {
	ExternalID     string `json:"externalId"`
	AccountID      string `json:"accountId"`
	RoleARN        string `json:"roleArn"`
	Region         string `json:"region"`
	OrganizationID string `json:"organizationId,omitempty"`
}

// Watch is one live self-registration session. Events is a finite stream:
// it is closed when the watch ends, so consumers can range over it.
type Watch struct {
	externalID string

	events    chan orgmodel.RegisteredAccount
	done      chan struct{}
	cancelled chan struct{}
	orgSeen   chan struct{}

	cancelOnce sync.Once
	orgOnce    sync.Once

	mu       sync.Mutex
	closed   bool
	outcome  Outcome
	accepted []orgmodel.RegisteredAccount
}

// ExternalID returns the session identifier accounts announce with.
func (w *Watch) ExternalID() string { return w.externalID }

// Events streams accepted registrations in arrival order. Closed when the
// watch ends.
func (w *Watch) Events() <-chan orgmodel.RegisteredAccount { return w.events }

// Done is closed when the watch ends.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Cancel ends the watch early. Safe to call more than once.
func (w *Watch) Cancel() {
	w.cancelOnce.Do(func() { close(w.cancelled) })
}

// Outcome reports how the watch ended, or OutcomePending while running.
func (w *Watch) Outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

// Accepted returns a copy of every registration accepted so far.
func (w *Watch) Accepted() []orgmodel.RegisteredAccount {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]orgmodel.RegisteredAccount, len(w.accepted))
	copy(out, w.accepted)
	return out
}

// deliver appends the registration and forwards it to the event stream.
// Returns false once the watch has ended.
func (w *Watch) deliver(acct orgmodel.RegisteredAccount) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	w.accepted = append(w.accepted, acct)
	select {
	case w.events <- acct:
	default:
		// Buffer full: the registration is still in accepted, only the
		// live stream drops it.
	}
	return true
}

func (w *Watch) finish(outcome Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.outcome = outcome
	close(w.events)
	close(w.done)
}

// Monitor owns self-registration watch sessions and routes announcements
// into them.
type Monitor struct {
	store   SessionStore
	log     *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration

	mu      sync.Mutex
	watches map[string]*Watch
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(mon *Monitor) { mon.metrics = m }
}

// WithDefaultTimeout overrides the watch timeout used when the caller does
// not supply one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(mon *Monitor) { mon.timeout = d }
}

// NewMonitor creates a self-registration monitor.
func NewMonitor(store SessionStore, log *observability.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		store:   store,
		log:     log,
		timeout: DefaultWatchTimeout,
		watches: make(map[string]*Watch),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewExternalID mints a fresh session identifier.
func NewExternalID() string {
	return uuid.NewString()
}

// Watch opens a session for the external id and starts collecting
// announcements. A zero timeout uses the monitor default. Each external id
// can be watched exactly once; ended sessions cannot be restarted.
func (m *Monitor) Watch(ctx context.Context, externalID string, timeout time.Duration) (*Watch, error) {
	if externalID == "" {
		return nil, errors.New("external id is required")
	}
	if timeout <= 0 {
		timeout = m.timeout
	}

	if err := m.store.Begin(ctx, externalID); err != nil {
		return nil, err
	}

	w := &Watch{
		externalID: externalID,
		events:     make(chan orgmodel.RegisteredAccount, eventBuffer),
		done:       make(chan struct{}),
		cancelled:  make(chan struct{}),
		orgSeen:    make(chan struct{}),
		outcome:    OutcomePending,
	}

	m.mu.Lock()
	m.watches[externalID] = w
	m.mu.Unlock()

	m.log.WithFields(map[string]interface{}{
		"external_id": externalID,
		"timeout":     timeout.String(),
	}).Info("self-registration watch opened")

	go m.run(w, timeout)
	return w, nil
}

func (m *Monitor) run(w *Watch, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var outcome Outcome
	select {
	case <-w.orgSeen:
		outcome = OutcomeOrganizationDetected
	case <-timer.C:
		outcome = OutcomeTimedOut
	case <-w.cancelled:
		outcome = OutcomeCancelled
	}

	m.mu.Lock()
	delete(m.watches, w.externalID)
	m.mu.Unlock()

	// Background context: the watch may end because its caller went away.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.End(ctx, w.externalID); err != nil {
		m.log.WithError(err).WithField("external_id", w.externalID).
			Warn("failed to end self-registration session")
	}

	w.finish(outcome)

	m.log.WithFields(map[string]interface{}{
		"external_id": w.externalID,
		"outcome":     string(outcome),
		"accepted":    len(w.Accepted()),
	}).Info("self-registration watch ended")
}

// Lookup returns the live watch for an external id.
func (m *Monitor) Lookup(externalID string) (*Watch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[externalID]
	return w, ok
}

// Announce routes one announcement into its watch session. Announcements
// for unknown or ended sessions return ErrNoSession; repeat announcements
// from the same account are accepted as no-ops.
func (m *Monitor) Announce(ctx context.Context, reg Registration) error {
	if reg.ExternalID == "" || reg.AccountID == "" {
		m.countAnnouncement("invalid")
		return errMissingFields
	}

	w, ok := m.Lookup(reg.ExternalID)
	if !ok {
		m.countAnnouncement("rejected")
		return ErrNoSession
	}

	first, err := m.store.MarkRegistered(ctx, reg.ExternalID, reg.AccountID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			m.countAnnouncement("rejected")
		}
		return err
	}
	if !first {
		m.countAnnouncement("duplicate")
		return nil
	}

	acct := orgmodel.RegisteredAccount{
		AccountID:        reg.AccountID,
		RoleARN:          reg.RoleARN,
		ExternalID:       reg.ExternalID,
		Region:           reg.Region,
		OrganizationID:   reg.OrganizationID,
		RegistrationType: orgmodel.RegistrationSelf,
	}
	if !w.deliver(acct) {
		m.countAnnouncement("rejected")
		return ErrNoSession
	}
	m.countAnnouncement("accepted")

	m.log.WithFields(map[string]interface{}{
		"external_id":     reg.ExternalID,
		"account_id":      reg.AccountID,
		"organization_id": reg.OrganizationID,
	}).Info("self-registration accepted")

	if reg.OrganizationID != "" {
		w.orgOnce.Do(func() { close(w.orgSeen) })
	}
	return nil
}

func (m *Monitor) countAnnouncement(outcome string) {
	if m.metrics != nil {
		m.metrics.SelfRegistrationsTotal.WithLabelValues(outcome).Inc()
	}
}
