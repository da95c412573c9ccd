package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib/fetcher"
	"github.com/fiffu/listingwatch/lib/models"
	"github.com/fiffu/listingwatch/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Notifier delivers one classified change through a linked channel.
type Notifier interface {
	Deliver(ctx context.Context, channel *models.Notifier, watch *models.Watch, change models.Change) error
}

// FetcherFactory binds a fetcher to a watch's query.
type FetcherFactory interface {
	NewFetcher(q models.Query) fetcher.Fetcher
}

// Engine runs one worker per active watch and owns their lifecycle.
type Engine struct {
	log       *zap.Logger
	repo      store.Repository
	fetchers  FetcherFactory
	notifier  Notifier
	scheduler *Scheduler
	pending   *PendingQueue
	metrics   *Metrics
	registry  *Registry

	retention  time.Duration // 0 disables the janitor
	sweepEvery time.Duration
	now        func() time.Time

	mu            sync.Mutex
	ownerLocks    map[uint]*ownerLock
	janitorCancel context.CancelFunc
}

func NewEngine(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	repo store.Repository,
	fetchers FetcherFactory,
	notifier Notifier,
	metrics *Metrics,
) *Engine {
	e := New(cfg, log, repo, fetchers, notifier, metrics)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := e.Boot(ctx)
			if err != nil {
				return err
			}
			log.Sugar().Infow("Monitoring engine started", "workers", n)
			e.startJanitor()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Sugar().Info("Trying to stop monitoring engine")
			e.stopJanitor()
			e.StopAll()
			return e.registry.Wait(ctx)
		},
	})

	return e
}

// New builds an engine without lifecycle hooks.
func New(
	cfg *config.Config,
	log *zap.Logger,
	repo store.Repository,
	fetchers FetcherFactory,
	notifier Notifier,
	metrics *Metrics,
) *Engine {
	e := &Engine{
		log:        log,
		repo:       repo,
		fetchers:   fetchers,
		notifier:   notifier,
		scheduler:  NewScheduler(cfg),
		pending:    NewPendingQueue(repo),
		metrics:    metrics,
		retention:  time.Duration(cfg.Monitor.RetentionHours) * time.Hour,
		sweepEvery: time.Duration(cfg.Monitor.RetentionSweepMins) * time.Minute,
		now:        func() time.Time { return time.Now().UTC() },
		ownerLocks: make(map[uint]*ownerLock),
	}
	e.registry = NewRegistry(e.runWorker)
	e.registry.gauge = func(n int) { metrics.WorkersActive.Set(float64(n)) }
	return e
}

// Boot starts a worker for every active watch.
func (e *Engine) Boot(ctx context.Context) (int, error) {
	ids, err := e.repo.ActiveWatchIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		e.StartWatch(id)
	}
	return len(ids), nil
}

// StartWatch is idempotent; it reports whether a new worker was spawned.
func (e *Engine) StartWatch(watchID uint) bool {
	return e.registry.Start(watchID)
}

func (e *Engine) StopWatch(watchID uint) {
	e.registry.Stop(watchID)
}

func (e *Engine) StopAll() {
	e.registry.StopAll()
}

func (e *Engine) Running(watchID uint) bool {
	return e.registry.Running(watchID)
}

// OnDeliveryChannelLinked makes every active watch of the owner run a cycle
// promptly so the pending backlog is flushed.
func (e *Engine) OnDeliveryChannelLinked(ctx context.Context, userID uint) error {
	ids, err := e.repo.ActiveWatchIDsForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		e.registry.Wake(id)
	}
	e.log.Sugar().Infow("Delivery channel linked", "user_id", userID, "watches", len(ids))
	return nil
}

func (e *Engine) runWorker(ctx context.Context, watchID uint, alarm *alarmClock) {
	w := &watchWorker{
		Engine:  e,
		watchID: watchID,
		alarm:   alarm,
		log:     e.log.Sugar().With("watch_id", watchID),
	}
	w.run(ctx)
}

type ownerLock struct {
	sync.Mutex
	refs int
}

// lockOwner serialises deliveries for one owner across that owner's
// watches. The returned func unlocks; the entry is dropped once nobody holds
// or waits on it.
func (e *Engine) lockOwner(userID uint) func() {
	e.mu.Lock()
	l, ok := e.ownerLocks[userID]
	if !ok {
		l = &ownerLock{}
		e.ownerLocks[userID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()

		e.mu.Lock()
		defer e.mu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(e.ownerLocks, userID)
		}
	}
}
