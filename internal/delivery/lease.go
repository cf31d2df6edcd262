package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rohits-web03/clientvault/internal/apperr"
	"github.com/rohits-web03/clientvault/internal/config"
	"github.com/rohits-web03/clientvault/internal/logging"
)

// Locker serializes bundle builds per owner. Acquire either returns a
// release func or fails with BuildInProgress once the wait is exhausted.
type Locker interface {
	Acquire(ctx context.Context, ownerID uuid.UUID) (release func(), err error)
}

func errBuildInProgress() error {
	return apperr.New(apperr.KindBuildInProgress, "lease.acquire", "A bundle build for this account is already running")
}

// NewLocker picks the lease backend named in cfg.
func NewLocker(cfg config.DeliveryConfig, store LeaseStore, log logging.Logger) Locker {
	if cfg.LeaseBackend == "memory" || store == nil {
		return NewMemoryLocker(cfg.LeaseWait)
	}
	return NewDBLocker(store, cfg.LeaseTTL, cfg.LeaseWait, log)
}

// DBLocker holds leases as rows in the catalog database, so builds are
// serialized across processes. A held lease is extended every ttl/2 until
// released; a crashed holder's lease lapses after ttl.
type DBLocker struct {
	store LeaseStore
	ttl   time.Duration
	wait  time.Duration
	poll  time.Duration
	log   logging.Logger
	now   func() time.Time
}

func NewDBLocker(store LeaseStore, ttl, wait time.Duration, log logging.Logger) *DBLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &DBLocker{
		store: store,
		ttl:   ttl,
		wait:  wait,
		poll:  250 * time.Millisecond,
		log:   log,
		now:   time.Now,
	}
}

func (l *DBLocker) Acquire(ctx context.Context, ownerID uuid.UUID) (func(), error) {
	holder := uuid.NewString()
	deadline := l.now().Add(l.wait)
	for {
		ok, err := l.store.TryAcquire(ctx, ownerID, holder, l.now(), l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !l.now().Before(deadline) {
			return nil, errBuildInProgress()
		}
		if err := sleepCtx(ctx, l.poll); err != nil {
			return nil, apperr.Wrap(apperr.KindOf(err), "lease.acquire", err)
		}
	}

	keepCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(l.ttl / 2)
		defer t.Stop()
		for {
			select {
			case <-keepCtx.Done():
				return
			case <-t.C:
				ok, err := l.store.Extend(keepCtx, ownerID, holder, l.now().Add(l.ttl))
				if err != nil || !ok {
					l.log.Warn(keepCtx, "build lease not extended", "owner", ownerID, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := l.store.Release(rctx, ownerID, holder); err != nil {
				l.log.Warn(rctx, "build lease not released", "owner", ownerID, "error", err)
			}
		})
	}, nil
}

// MemoryLocker serializes builds within one process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[uuid.UUID]chan struct{}
	wait time.Duration
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{held: make(map[uuid.UUID]chan struct{}), wait: wait}
}

func (m *MemoryLocker) Acquire(ctx context.Context, ownerID uuid.UUID) (func(), error) {
	var timeout <-chan time.Time
	if m.wait > 0 {
		t := time.NewTimer(m.wait)
		defer t.Stop()
		timeout = t.C
	}
	for {
		m.mu.Lock()
		ch, busy := m.held[ownerID]
		if !busy {
			ch = make(chan struct{})
			m.held[ownerID] = ch
			m.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					m.mu.Lock()
					delete(m.held, ownerID)
					m.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		m.mu.Unlock()

		if timeout == nil {
			return nil, errBuildInProgress()
		}
		select {
		case <-ch:
		case <-timeout:
			return nil, errBuildInProgress()
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindOf(ctx.Err()), "lease.acquire", ctx.Err())
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
