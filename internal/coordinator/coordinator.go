// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package coordinator keeps the local lock inventory synchronized with the
// Kevo cloud. It merges periodic REST polls with websocket pushes, filters
// the view down to the managed subset, and persists every observed change.
package coordinator // import "github.com/stewjoel/home-assistant-kevo-master/internal/coordinator"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stewjoel/home-assistant-kevo-master/internal/db"
	"github.com/stewjoel/home-assistant-kevo-master/internal/kevo"
	"github.com/stewjoel/home-assistant-kevo-master/internal/logging"
	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
)

// DefaultPollInterval is how often the cloud inventory is re-fetched when
// no interval is configured. Pushes arrive independently of this.
const DefaultPollInterval = 30 * time.Second

const settlePollInterval = 250 * time.Millisecond

// SubscriberFunc is invoked with a fresh snapshot whenever a lock changes.
type SubscriberFunc func(model.Lock)

// Store is the subset of the db layer the coordinator needs.
type Store interface {
	UpsertLock(lock model.Lock) error
	UpdateLockState(lockID, boltState string, locked, jammed bool, batteryLevel float64) error
	GetManagedLocks() ([]model.Lock, error)
	LogAction(action, details string) error
}

// Coordinator owns the background synchronization between the cloud client
// and the local store.
type Coordinator struct {
	client *kevo.Client
	store  Store

	interval time.Duration
	managed  map[string]bool // empty means all locks

	mu      sync.RWMutex
	locks   map[string]model.Lock
	lastErr error

	subMu  sync.Mutex
	subs   map[int]SubscriberFunc
	nextID int

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPollInterval overrides the default poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithManagedSubset restricts the coordinator to the given lock ids. An
// empty set means every lock the account can see.
func WithManagedSubset(ids []string) Option {
	return func(c *Coordinator) {
		c.managed = make(map[string]bool, len(ids))
		for _, id := range ids {
			c.managed[id] = true
		}
	}
}

// New builds a Coordinator for the given client and store.
func New(client *kevo.Client, store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:   client,
		store:    store,
		interval: DefaultPollInterval,
		managed:  make(map[string]bool),
		locks:    make(map[string]model.Lock),
		subs:     make(map[int]SubscriberFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start performs an initial poll, opens the push channel, and launches the
// background poll loop. It returns once the initial inventory is loaded.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.poll(ctx); err != nil {
		return fmt.Errorf("coordinator: initial sync: %w", err)
	}

	unregister := c.client.RegisterCallback(c.onPush)
	if err := c.client.Subscribe(ctx); err != nil {
		unregister()
		return fmt.Errorf("coordinator: subscribe: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		defer unregister()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.poll(runCtx); err != nil {
					logging.Warnf("inventory poll failed: %v", err)
				}
			case <-runCtx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop tears down the poll loop and the push channel.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	c.client.Close()
}

// Err returns the sticky error from the last failed sync, if any. An
// ErrAuth here means the session is dead and a new login is required.
func (c *Coordinator) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// tracked reports whether the given lock id is part of the managed subset.
func (c *Coordinator) tracked(id string) bool {
	return len(c.managed) == 0 || c.managed[id]
}

// poll refreshes the inventory from the cloud and folds it into the local
// snapshot and store.
func (c *Coordinator) poll(ctx context.Context) error {
	locks, err := c.client.GetLocks(ctx)
	if err != nil {
		c.mu.Lock()
		if errors.Is(err, kevo.ErrAuth) || errors.Is(err, kevo.ErrNotLoggedIn) {
			c.lastErr = err
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.lastErr = nil
	var changed []model.Lock
	for _, l := range locks {
		if !c.tracked(l.ID()) {
			continue
		}
		snap := snapshotOf(l)
		prev, known := c.locks[snap.LockID]
		snap.Managed = true
		if known {
			snap.Managed = prev.Managed
		}
		c.locks[snap.LockID] = snap
		if !known || stateDiffers(prev, snap) {
			changed = append(changed, snap)
		}
	}
	c.mu.Unlock()

	for _, snap := range changed {
		if err := c.store.UpsertLock(snap); err != nil {
			logging.Errorf("failed to persist lock %s: %v", snap.LockID, err)
		}
		c.publish(snap)
	}
	return nil
}

// onPush folds a websocket update into the snapshot and store.
func (c *Coordinator) onPush(l *kevo.Lock) {
	if !c.tracked(l.ID()) {
		return
	}
	snap := snapshotOf(l)

	c.mu.Lock()
	if prev, known := c.locks[snap.LockID]; known {
		snap.Managed = prev.Managed
	} else {
		snap.Managed = true
	}
	c.locks[snap.LockID] = snap
	c.mu.Unlock()

	if err := c.store.UpdateLockState(snap.LockID, snap.BoltState, snap.Locked, snap.Jammed, snap.BatteryLevel); err != nil {
		logging.Errorf("failed to persist state for lock %s: %v", snap.LockID, err)
	}
	c.publish(snap)
}

// Snapshot returns the current view of all tracked locks.
func (c *Coordinator) Snapshot() []model.Lock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Lock, 0, len(c.locks))
	for _, l := range c.locks {
		out = append(out, l)
	}
	return out
}

// LockSnapshot returns the current view of one lock.
func (c *Coordinator) LockSnapshot(lockID string) (model.Lock, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.locks[lockID]
	return l, ok
}

// Subscribe registers a callback fired on every tracked lock change. The
// returned function unregisters it.
func (c *Coordinator) Subscribe(fn SubscriberFunc) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Coordinator) publish(snap model.Lock) {
	c.subMu.Lock()
	subs := make([]SubscriberFunc, 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// SendCommand issues a Lock or Unlock command and records it in the audit
// trail. The bolt movement itself is reported asynchronously; use
// WaitSettled to block until it finishes.
func (c *Coordinator) SendCommand(ctx context.Context, lockID, command string) error {
	lock := c.client.LockByID(lockID)
	if lock == nil {
		return fmt.Errorf("coordinator: unknown lock %s", lockID)
	}
	if err := c.client.SendCommand(ctx, lockID, command); err != nil {
		return err
	}
	_ = c.store.LogAction("SEND_COMMAND", fmt.Sprintf("lock: %s (%s), command: %s", lock.Name(), lockID, command))
	return nil
}

// WaitSettled blocks until the lock reports neither locking nor unlocking,
// or until the context expires.
func (c *Coordinator) WaitSettled(ctx context.Context, lockID string) error {
	lock := c.client.LockByID(lockID)
	if lock == nil {
		return fmt.Errorf("coordinator: unknown lock %s", lockID)
	}

	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()
	for {
		locking, unlocking := lock.InFlight()
		if !locking && !unlocking {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// snapshotOf converts a live client lock into a model snapshot.
func snapshotOf(l *kevo.Lock) model.Lock {
	return model.Lock{
		LockID:       l.ID(),
		Name:         l.Name(),
		Brand:        l.Brand(),
		Firmware:     l.Firmware(),
		BatteryLevel: l.BatteryLevel(),
		BoltState:    l.BoltState(),
		Locked:       l.IsLocked(),
		Jammed:       l.IsJammed(),
		LastSeen:     time.Now(),
	}
}

// stateDiffers reports whether the observable lock state changed between
// two snapshots. LastSeen and Managed are excluded.
func stateDiffers(a, b model.Lock) bool {
	return a.Name != b.Name ||
		a.BoltState != b.BoltState ||
		a.Locked != b.Locked ||
		a.Jammed != b.Jammed ||
		a.BatteryLevel != b.BatteryLevel ||
		a.Firmware != b.Firmware
}

// RestoreManaged loads the persisted managed flags from the store and
// applies them to the in-memory snapshot. Useful when the coordinator is
// started with an empty subset but the store carries preferences.
func (c *Coordinator) RestoreManaged() error {
	if c.store == nil {
		return nil
	}
	managed, err := c.store.GetManagedLocks()
	if err != nil {
		return err
	}
	set := make(map[string]bool, len(managed))
	for _, l := range managed {
		set[l.LockID] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, l := range c.locks {
		l.Managed = set[id]
		c.locks[id] = l
	}
	return nil
}

// ensure the db package-level store satisfies the Store interface.
var _ Store = db.PackageStore{}
