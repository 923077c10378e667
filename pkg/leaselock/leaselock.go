// Package leaselock keeps two workers from processing the same event at
// once. A lease is a row in lkgb_locks that its holder renews while it
// works; a crashed holder's lease simply expires.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy     = errors.New("leaselock: key is held by someone else")
	ErrLost     = errors.New("leaselock: lease lost")
	ErrEmptyKey = errors.New("leaselock: empty key")
)

// BusyError names the current holder of a key. It matches ErrBusy.
type BusyError struct {
	Key    string
	Holder string
	Until  time.Time
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("leaselock: %s is held by %s until %s", e.Key, e.Holder, e.Until.Format(time.RFC3339))
}

func (e *BusyError) Unwrap() error { return ErrBusy }

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Locker hands out leases stored in lkgb_locks.
type Locker struct {
	db dbConn
}

func New(db dbConn) *Locker {
	return &Locker{db: db}
}

type Options struct {
	TTL        time.Duration // default 5m
	RenewEvery time.Duration // default TTL/2

	// Wait polls until the key is free instead of failing with ErrBusy.
	Wait         bool
	WaitInterval time.Duration // default 250ms
	WaitJitter   time.Duration

	// Holder prefixes the holder id, e.g. "worker-".
	Holder string
}

func (o Options) normalize() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	o.WaitJitter = max(o.WaitJitter, 0)
	return o
}

const renewTries = 3

// Lease is a held key. Its context ends when the lease is released or
// lost; context.Cause tells the two apart.
type Lease struct {
	key    string
	holder string
	ttl    time.Duration

	locker  *Locker
	ctx     context.Context
	cancel  context.CancelCauseFunc
	release sync.Once
	renewer chan struct{} // closed when the renew loop has exited
}

func (l *Lease) Key() string              { return l.key }
func (l *Lease) Holder() string           { return l.holder }
func (l *Lease) Context() context.Context { return l.ctx }

// WithLease runs fn while holding key and releases the key afterwards, even
// when ctx is already cancelled. fn's context ends if the lease is lost.
func (c *Locker) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer lease.Release(context.WithoutCancel(ctx))
	return fn(lease.ctx)
}

// Acquire takes key. A key held by someone else fails with *BusyError
// unless opts.Wait is set.
func (c *Locker) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	opts = opts.normalize()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	holder := opts.Holder + id

	for {
		busy, err := c.take(ctx, key, holder, opts.TTL)
		if err != nil {
			return nil, err
		}
		if busy == nil {
			break
		}
		if !opts.Wait {
			return nil, busy
		}
		if err := pause(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		key:     key,
		holder:  holder,
		ttl:     opts.TTL,
		locker:  c,
		ctx:     leaseCtx,
		cancel:  cancel,
		renewer: make(chan struct{}),
	}
	go l.keepAlive(opts.RenewEvery)
	return l, nil
}

// take inserts or steals an expired row for key. It returns a *BusyError
// describing the current holder when the key is taken.
func (c *Locker) take(ctx context.Context, key, holder string, ttl time.Duration) (*BusyError, error) {
	for range 3 {
		var got string
		err := c.db.QueryRow(ctx, acquireSQL, key, holder, ttl.Milliseconds()).Scan(&got)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}

		busy := &BusyError{Key: key}
		err = c.db.QueryRow(ctx, holderSQL, key).Scan(&busy.Holder, &busy.Until)
		if errors.Is(err, pgx.ErrNoRows) {
			continue // released in between
		}
		if err != nil {
			return nil, err
		}
		return busy, nil
	}
	return &BusyError{Key: key, Holder: "unknown", Until: time.Now()}, nil
}

// Release gives the key up and waits for the renew loop to stop. Releasing
// twice is harmless.
func (l *Lease) Release(ctx context.Context) error {
	l.release.Do(func() { l.cancel(context.Canceled) })
	<-l.renewer

	_, err := l.locker.db.Exec(ctx, releaseSQL, l.key, l.holder)
	return err
}

func (l *Lease) keepAlive(every time.Duration) {
	defer close(l.renewer)

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-t.C:
			if err := l.renew(); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

// renew extends the lease, retrying transient database errors. A row that
// is gone or belongs to someone else is ErrLost.
func (l *Lease) renew() error {
	return util.RetryErrWithBackoff(l.ctx, renewTries, 200*time.Millisecond, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		var got string
		err := l.locker.db.QueryRow(ctx, renewSQL, l.key, l.holder, l.ttl.Milliseconds()).Scan(&got)
		if errors.Is(err, pgx.ErrNoRows) {
			return util.Permanent(ErrLost)
		}
		return err
	})
}

func pause(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
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

const acquireSQL = `
INSERT INTO lkgb_locks (lock_key, holder, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
WHERE lkgb_locks.expires_at < now() OR lkgb_locks.holder = EXCLUDED.holder
RETURNING lock_key`

const holderSQL = `SELECT holder, expires_at FROM lkgb_locks WHERE lock_key = $1`

const renewSQL = `
UPDATE lkgb_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND holder = $2
RETURNING lock_key`

const releaseSQL = `DELETE FROM lkgb_locks WHERE lock_key = $1 AND holder = $2`
