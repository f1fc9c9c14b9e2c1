package listener

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/engine"
	"ad-decision-engine/internal/storage"
)

// DefaultDebounce is the minimum spacing between two snapshot rebuilds.
const DefaultDebounce = 200 * time.Millisecond

// Waiter blocks until the next change notification and returns its channel.
type Waiter interface {
	WaitForNotification(ctx context.Context) (string, error)
}

// ConnectFunc opens a listening connection; release returns it.
type ConnectFunc func(ctx context.Context) (w Waiter, release func(), err error)

// Listener rebuilds the snapshot on change notifications. Bursts are
// coalesced: a notification inside the debounce window schedules one trailing
// rebuild instead of being dropped.
type Listener struct {
	refresh  func(ctx context.Context) error
	backoff  time.Duration
	debounce time.Duration
	clock    clock.Clock

	refreshMu sync.Mutex
	mu        sync.Mutex
	last      time.Time
	trailing  *clock.Timer
}

func New(refresh func(ctx context.Context) error, backoff time.Duration, clk clock.Clock) *Listener {
	if clk == nil {
		clk = clock.New()
	}
	return &Listener{refresh: refresh, backoff: backoff, debounce: DefaultDebounce, clock: clk}
}

// Run consumes notifications until ctx is done, reconnecting with jittered
// backoff after connection or wait errors.
func (l *Listener) Run(ctx context.Context, connect ConnectFunc) {
	defer l.stopTrailing()
	for {
		w, release, err := connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !l.sleep(ctx, err, "listen connect error") {
				return
			}
			continue
		}

		err = l.consume(ctx, w)
		release()
		if ctx.Err() != nil {
			log.Info().Msg("listener stopped")
			return
		}
		if !l.sleep(ctx, err, "notify wait error") {
			return
		}
	}
}

func (l *Listener) consume(ctx context.Context, w Waiter) error {
	for {
		ch, err := w.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.notify(ctx, ch)
	}
}

func (l *Listener) sleep(ctx context.Context, err error, msg string) bool {
	backoff := jitter(l.backoff)
	log.Error().Err(err).Dur("retry_in", backoff).Msg(msg)
	select {
	case <-ctx.Done():
		return false
	case <-l.clock.After(backoff):
		return true
	}
}

func (l *Listener) notify(ctx context.Context, channel string) {
	l.mu.Lock()
	if !l.last.IsZero() {
		if since := l.clock.Since(l.last); since < l.debounce {
			if l.trailing == nil {
				l.trailing = l.clock.AfterFunc(l.debounce-since, func() {
					l.mu.Lock()
					l.trailing = nil
					l.mu.Unlock()
					l.rebuild(ctx, "debounced")
				})
			}
			l.mu.Unlock()
			return
		}
	}
	l.mu.Unlock()
	l.rebuild(ctx, channel)
}

func (l *Listener) rebuild(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	l.mu.Lock()
	l.last = l.clock.Now()
	l.mu.Unlock()

	log.Info().Str("reason", reason).Msg("db change; refreshing snapshot")
	if err := l.refresh(ctx); err != nil {
		log.Error().Err(err).Msg("refresh snapshot error")
	}
}

func (l *Listener) stopTrailing() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.trailing != nil {
		l.trailing.Stop()
		l.trailing = nil
	}
}

type pgxWaiter struct{ conn *pgxpool.Conn }

func (w pgxWaiter) WaitForNotification(ctx context.Context) (string, error) {
	n, err := w.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", err
	}
	return n.Channel, nil
}

// PgxConnect acquires a pooled connection and LISTENs on channel.
func PgxConnect(pool *pgxpool.Pool, channel string) ConnectFunc {
	return func(ctx context.Context) (Waiter, func(), error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("acquire conn for listen: %w", err)
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			conn.Release()
			return nil, nil, fmt.Errorf("listen %s: %w", channel, err)
		}
		log.Info().Str("channel", channel).Msg("listening for DB changes")
		return pgxWaiter{conn: conn}, conn.Release, nil
	}
}

// ListenAndRefresh keeps eng in sync with st until ctx is done.
func ListenAndRefresh(ctx context.Context, st *storage.Store, eng *engine.DeliveryEngine, channel string, baseBackoff time.Duration) {
	if channel == "" {
		channel = st.ListenChannel()
	}
	l := New(func(ctx context.Context) error { return eng.BuildSnapshot(ctx, st) }, baseBackoff, nil)
	l.Run(ctx, PgxConnect(st.PgxPool(), channel))
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
