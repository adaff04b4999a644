package bufman

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-daq-bufman/internal/device"
	"github.com/randomizedcoder/go-daq-bufman/internal/logging"
	"github.com/randomizedcoder/go-daq-bufman/internal/mailbox"
	"github.com/randomizedcoder/go-daq-bufman/internal/ring"
	"github.com/randomizedcoder/go-daq-bufman/internal/supervisor"
)

// Callbacks contains optional hooks invoked from the manager's goroutines.
// They must not block and must not call back into the Manager's command
// methods.
type Callbacks struct {
	// OnStateChange is called after every run state change.
	OnStateChange func(oldState, newState State)

	// OnRound is called by the dispatcher after each slot is released.
	OnRound func(RoundInfo)

	// OnConsistencyFault is called when a frame's sequence number is not
	// the expected next value.
	OnConsistencyFault func(expected, observed uint64)
}

// RoundInfo describes one dispatch round.
type RoundInfo struct {
	Seq               uint64
	Slot              int
	Serviced          int           // local consumers that received the frame
	Obligatory        int           // of those, how many were waited for
	ExternalDelivered int           // external channels that took a copy
	ExternalSkipped   int           // external channels still holding an older copy
	Hold              time.Duration // expose to release
	ObligatoryWait    time.Duration
}

// Manager owns the frame ring and the goroutines around it.
type Manager struct {
	cfg       Config
	store     *ring.Store
	device    device.Device
	logger    *slog.Logger
	callbacks Callbacks
	now       func() time.Time

	// run state, guarded by mu
	mu          sync.Mutex
	stateCond   *sync.Cond
	state       State
	hasRun      bool
	runStart    time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	stoppedAt   time.Time

	// runStartNano mirrors runStart for the log handler, which must not
	// take mu.
	runStartNano atomic.Int64

	statsMu  sync.Mutex
	counters counters

	regMu     sync.Mutex
	locals    []*registration
	externals []*ExternalChannel
	regClosed bool
	reqNotify chan struct{}

	commands chan commandRequest
	status   *mailbox.Cell[Status]

	tasks   []supervisor.Task
	handles []*supervisor.Handle
	jitter  *supervisor.JitterSource

	loopCtx    context.Context
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
	done       chan struct{}
	doneOnce   sync.Once

	endOfStream atomic.Bool
	faults      atomic.Uint64
	stalls      atomic.Uint64
	rounds      atomic.Uint64
}

// New allocates the ring and returns an idle manager.
func New(cfg Config) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("bufman: %w", err)
	}

	store, err := ring.New(cfg.Buffers, cfg.Channels, cfg.Samples)
	if err != nil {
		return nil, err
	}

	base := cfg.Logger
	if base == nil {
		base = logging.Discard()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	m := &Manager{
		cfg:       cfg,
		store:     store,
		device:    cfg.Device,
		callbacks: cfg.Callbacks,
		now:       now,
		state:     StateIdle,
		reqNotify: make(chan struct{}, 1),
		commands:  make(chan commandRequest, 16),
		status:    mailbox.New[Status](),
		jitter:    supervisor.NewJitterSource(seed),
		done:      make(chan struct{}),
	}
	m.stateCond = sync.NewCond(&m.mu)
	m.logger = slog.New(logging.NewElapsedHandler(base.Handler(), m.sinceRunStart)).
		With("component", "bufman")
	return m, nil
}

// Attach adds an auxiliary task. Tasks attached before Start are started
// with the loops; later ones start immediately. All are stopped by End.
func (m *Manager) Attach(task supervisor.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateEnded:
		return ErrManagerEnded
	case StateIdle:
		m.tasks = append(m.tasks, task)
	default:
		m.tasks = append(m.tasks, task)
		m.handles = append(m.handles, m.startTaskLocked(len(m.tasks)-1, task))
	}
	return nil
}

func (m *Manager) startTaskLocked(id int, task supervisor.Task) *supervisor.Handle {
	backoff := m.cfg.TaskBackoff
	if backoff.Initial <= 0 {
		backoff = supervisor.DefaultBackoffConfig()
	}
	sup := supervisor.New(supervisor.Config{
		Task:        task,
		Backoff:     m.jitter.Backoff(id, backoff),
		Logger:      m.logger.With("task", task.Name()),
		Callbacks:   m.cfg.TaskCallbacks,
		MaxRestarts: m.cfg.TaskMaxRestarts,
	})
	return supervisor.Start(m.loopCtx, sup)
}

// Tasks returns the handles of started tasks.
func (m *Manager) Tasks() []*supervisor.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*supervisor.Handle, len(m.handles))
	copy(out, m.handles)
	return out
}

// Start launches the producer, dispatcher, status publisher and command
// goroutines and enters Active. Cancelling ctx later is equivalent to End.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateIdle {
		st := m.state
		m.mu.Unlock()
		if st == StateEnded {
			return ErrManagerEnded
		}
		return ErrAlreadyStarted
	}

	m.loopCtx, m.loopCancel = context.WithCancel(context.WithoutCancel(ctx))
	for i, task := range m.tasks {
		m.handles = append(m.handles, m.startTaskLocked(i, task))
	}
	old := m.setStateLocked(StateActive)
	m.mu.Unlock()

	m.wg.Add(3)
	go m.produce(m.loopCtx)
	go m.dispatch(m.loopCtx)
	go m.publishStatus(m.loopCtx)
	go m.commandLoop()

	context.AfterFunc(ctx, func() {
		m.Submit(CmdEnd)
	})

	m.notifyState(old, StateActive)
	m.logger.Info("manager_started",
		"buffers", m.cfg.Buffers,
		"channels", m.cfg.Channels,
		"samples", m.cfg.Samples,
	)
	return nil
}

// Done is closed once End has completed.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// State returns the current run state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Store exposes the ring for inspection.
func (m *Manager) Store() *ring.Store {
	return m.store
}

// Logger returns the manager's logger, which carries the elapsed run time.
func (m *Manager) Logger() *slog.Logger {
	return m.logger
}

// ConsistencyFaults returns the number of sequence faults seen.
func (m *Manager) ConsistencyFaults() uint64 {
	return m.faults.Load()
}

// Stalls returns the number of obligatory wait stall warnings.
func (m *Manager) Stalls() uint64 {
	return m.stalls.Load()
}

// Rounds returns the number of completed dispatch rounds.
func (m *Manager) Rounds() uint64 {
	return m.rounds.Load()
}

// setStateLocked changes the state and wakes waiters. m.mu must be held.
// The caller reports the change with notifyState after unlocking.
func (m *Manager) setStateLocked(s State) State {
	old := m.state
	m.state = s
	m.stateCond.Broadcast()
	return old
}

func (m *Manager) notifyState(old, new State) {
	if old == new {
		return
	}
	m.logger.Info("state_changed", "from", old.String(), "to", new.String())
	if m.callbacks.OnStateChange != nil {
		m.callbacks.OnStateChange(old, new)
	}
}

// waitRunning blocks until the state is Running. It returns false when
// sampling is over or ctx is done.
func (m *Manager) waitRunning(ctx context.Context) bool {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.stateCond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	for m.state != StateRunning {
		if m.state.IsTerminal() || ctx.Err() != nil {
			return false
		}
		m.stateCond.Wait()
	}
	return true
}

func (m *Manager) sinceRunStart() time.Duration {
	start := m.runStartNano.Load()
	if start == 0 {
		return 0
	}
	return m.now().Sub(time.Unix(0, start))
}

// elapsedLocked returns run time excluding pauses. m.mu must be held.
func (m *Manager) elapsedLocked() time.Duration {
	if !m.hasRun {
		return 0
	}
	end := m.now()
	switch {
	case !m.stoppedAt.IsZero():
		end = m.stoppedAt
	case m.state == StatePaused:
		end = m.pausedAt
	}
	return end.Sub(m.runStart) - m.pausedTotal
}

// Elapsed returns the run time so far, excluding pauses.
func (m *Manager) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsedLocked()
}
