// Package monitor watches custodial wallet balances. Each watched wallet
// gets one time-boxed polling session; starting monitoring again extends the
// window instead of stacking a second timer.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/goalstake/pledge_layer/internal/app/domain/goal"
	"github.com/goalstake/pledge_layer/internal/app/metrics"
	"github.com/goalstake/pledge_layer/internal/app/storage"
	"github.com/goalstake/pledge_layer/internal/app/system"
	"github.com/goalstake/pledge_layer/pkg/logger"
)

const (
	defaultWindow   = 30 * time.Minute
	defaultInterval = 30 * time.Second
)

// ErrGoalNotActive rejects monitoring for wallets whose goal is not active.
var ErrGoalNotActive = errors.New("wallet's goal is not active")

// ErrStartThrottled rejects monitoring starts arriving faster than the abuse
// guard allows.
var ErrStartThrottled = errors.New("monitoring start throttled")

// BalanceReader reads a live on-network balance for an address.
type BalanceReader interface {
	Balance(ctx context.Context, network, address string) (float64, error)
}

// BalanceReaderFunc adapts a function to the BalanceReader interface.
type BalanceReaderFunc func(ctx context.Context, network, address string) (float64, error)

func (f BalanceReaderFunc) Balance(ctx context.Context, network, address string) (float64, error) {
	return f(ctx, network, address)
}

// BalanceChange is published whenever a polled balance differs from the
// cached one.
type BalanceChange struct {
	WalletID  string    `json:"wallet_id"`
	Balance   float64   `json:"balance"`
	Timestamp time.Time `json:"timestamp"`
}

// Session describes an active monitoring window.
type Session struct {
	WalletID     string        `json:"wallet_id"`
	GoalID       string        `json:"goal_id"`
	ExpiresAt    time.Time     `json:"expires_at"`
	PollInterval time.Duration `json:"-"`
}

type session struct {
	walletID  string
	goalID    string
	expiresAt time.Time
	cancel    context.CancelFunc
}

var _ system.Service = (*Monitor)(nil)

// Monitor schedules per-wallet balance polling. Sessions are process-local;
// a restart drops them and callers re-arm via the monitoring endpoint.
type Monitor struct {
	goals   storage.GoalStore
	wallets storage.WalletStore
	reader  BalanceReader
	log     *logger.Logger

	window   time.Duration
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	limiters map[string]*rate.Limiter
	subs     map[string]map[int]chan BalanceChange
	subSeq   int
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

// New creates a balance monitor.
func New(goals storage.GoalStore, wallets storage.WalletStore, reader BalanceReader, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.NewDefault("balance-monitor")
	}
	return &Monitor{
		goals:    goals,
		wallets:  wallets,
		reader:   reader,
		log:      log,
		window:   defaultWindow,
		interval: defaultInterval,
		now:      time.Now,
		sessions: make(map[string]*session),
		limiters: make(map[string]*rate.Limiter),
		subs:     make(map[string]map[int]chan BalanceChange),
	}
}

// WithTimings overrides the session window and poll interval; used by tests.
func (m *Monitor) WithTimings(window, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if window > 0 {
		m.window = window
	}
	if interval > 0 {
		m.interval = interval
	}
}

// WithClock overrides the time source; used by tests.
func (m *Monitor) WithClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Monitor) Name() string { return "balance-monitor" }

// Start begins the monitor lifecycle. Sessions armed before Start attach to
// the background context and are still released on Stop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.baseCtx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.running = true
	return nil
}

// Stop cancels every active session and waits for their pollers to exit.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.log.Info("balance monitor stopped")
	return nil
}

// StartMonitoring arms or extends the monitoring session for a wallet. The
// call is idempotent with respect to the number of running timers: an
// existing session has its expiry reset, never a second poller.
func (m *Monitor) StartMonitoring(ctx context.Context, walletID string) (Session, error) {
	w, err := m.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return Session{}, err
	}
	g, err := m.goals.GetGoal(ctx, w.GoalID)
	if err != nil {
		return Session{}, err
	}
	if g.Status != goal.StatusActive {
		return Session{}, ErrGoalNotActive
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, ok := m.limiters[walletID]
	if !ok {
		// one start per 5s with a small burst absorbs UI refreshes
		limiter = rate.NewLimiter(rate.Every(5*time.Second), 3)
		m.limiters[walletID] = limiter
	}
	if !limiter.Allow() {
		return Session{}, ErrStartThrottled
	}

	expiresAt := m.now().Add(m.window)
	if existing, ok := m.sessions[walletID]; ok {
		existing.expiresAt = expiresAt
		return Session{WalletID: walletID, GoalID: g.ID, ExpiresAt: expiresAt, PollInterval: m.interval}, nil
	}

	base := m.baseCtx
	if base == nil {
		base = context.Background()
	}
	pollCtx, cancel := context.WithCancel(base)
	sess := &session{
		walletID:  walletID,
		goalID:    g.ID,
		expiresAt: expiresAt,
		cancel:    cancel,
	}
	m.sessions[walletID] = sess
	metrics.MonitorSessionsActive.Inc()

	m.wg.Add(1)
	go m.poll(pollCtx, sess)

	m.log.WithField("wallet_id", walletID).WithField("goal_id", g.ID).Info("balance monitoring started")
	return Session{WalletID: walletID, GoalID: g.ID, ExpiresAt: expiresAt, PollInterval: m.interval}, nil
}

// StopMonitoring cancels a wallet's session if one exists.
func (m *Monitor) StopMonitoring(walletID string) {
	m.mu.Lock()
	sess, ok := m.sessions[walletID]
	if ok {
		delete(m.sessions, walletID)
	}
	m.mu.Unlock()

	if ok {
		sess.cancel()
		metrics.MonitorSessionsActive.Dec()
	}
}

// ActiveSession returns the current session for a wallet, if any.
func (m *Monitor) ActiveSession(walletID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[walletID]
	if !ok {
		return Session{}, false
	}
	return Session{
		WalletID:     sess.walletID,
		GoalID:       sess.goalID,
		ExpiresAt:    sess.expiresAt,
		PollInterval: m.interval,
	}, true
}

func (m *Monitor) poll(ctx context.Context, sess *session) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.dropSession(sess.walletID, sess)
			return
		case <-ticker.C:
			m.mu.Lock()
			expired := !m.now().Before(sess.expiresAt)
			m.mu.Unlock()
			if expired {
				m.dropSession(sess.walletID, sess)
				m.log.WithField("wallet_id", sess.walletID).Info("monitoring session expired")
				return
			}
			m.tick(ctx, sess.walletID)
		}
	}
}

// dropSession removes the session from the index if it is still the one this
// poller owns, and releases its timer.
func (m *Monitor) dropSession(walletID string, sess *session) {
	m.mu.Lock()
	current, ok := m.sessions[walletID]
	if ok && current == sess {
		delete(m.sessions, walletID)
		ok = true
	} else {
		ok = false
	}
	m.mu.Unlock()

	sess.cancel()
	if ok {
		metrics.MonitorSessionsActive.Dec()
	}
}

// tick reads the live balance and persists it when it changed. The write is
// last-write-wins against manual balance updates; the cache is eventually
// consistent, not a ledger of record.
func (m *Monitor) tick(ctx context.Context, walletID string) {
	tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	w, err := m.wallets.GetWallet(tickCtx, walletID)
	if err != nil {
		m.log.WithError(err).WithField("wallet_id", walletID).Warn("monitored wallet lookup failed")
		return
	}

	balance, err := m.reader.Balance(tickCtx, w.Network, w.Address)
	if err != nil {
		m.log.WithError(err).
			WithField("wallet_id", walletID).
			WithField("network", w.Network).
			Warn("balance read failed")
		return
	}

	if balance == w.LastBalance {
		return
	}

	now := m.now().UTC()
	w.LastBalance = balance
	w.LastBalanceUpdate = now
	if _, err := m.wallets.UpdateWallet(tickCtx, w); err != nil {
		m.log.WithError(err).WithField("wallet_id", walletID).Warn("persist balance failed")
		return
	}

	metrics.BalanceChangesTotal.Inc()
	m.publish(BalanceChange{WalletID: walletID, Balance: balance, Timestamp: now})
}

// Subscribe registers for balance-change events of one wallet. The returned
// cancel function must be called to release the channel.
func (m *Monitor) Subscribe(walletID string) (<-chan BalanceChange, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subSeq++
	id := m.subSeq
	ch := make(chan BalanceChange, 16)
	if m.subs[walletID] == nil {
		m.subs[walletID] = make(map[int]chan BalanceChange)
	}
	m.subs[walletID][id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if subs, ok := m.subs[walletID]; ok {
			if ch, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(m.subs, walletID)
			}
		}
	}
	return ch, cancel
}

func (m *Monitor) publish(event BalanceChange) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range m.subs[event.WalletID] {
		select {
		case ch <- event:
		default:
			// slow subscriber, drop rather than block the poller
		}
	}
}
