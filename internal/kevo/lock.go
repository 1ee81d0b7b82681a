// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package kevo

import (
	"context"
	"sync"
)

// Lock is the client-side snapshot of a Kevo lock. Fields are updated both
// by GetLocks polls and by websocket pushes; use the accessor methods for
// concurrency-safe reads.
type Lock struct {
	mu sync.RWMutex

	client *Client

	id           string
	name         string
	brand        string
	firmware     string
	batteryLevel float64
	boltState    string
	locked       bool
	jammed       bool
	locking      bool
	unlocking    bool
}

// newLock builds a Lock from a REST inventory row.
func newLock(c *Client, id, name, firmware string, battery float64, boltState, brand string) *Lock {
	l := &Lock{
		client:       c,
		id:           id,
		name:         name,
		brand:        brand,
		firmware:     firmware,
		batteryLevel: battery,
		boltState:    boltState,
	}
	l.locked, l.jammed = boltFlags(boltState)
	return l
}

// boltFlags maps a reported bolt state onto (locked, jammed) flags.
// Unknown states report as neither; the websocket reader logs those.
func boltFlags(state string) (locked, jammed bool) {
	switch state {
	case BoltStateLocked:
		return true, false
	case BoltStateUnlocked:
		return false, false
	case BoltStateJam:
		return false, true
	case BoltStateLockJam:
		return true, true
	case BoltStateUnlockJam:
		return false, true
	}
	return false, false
}

// knownBoltState reports whether the cloud sent a bolt state we understand.
func knownBoltState(state string) bool {
	switch state {
	case BoltStateLocked, BoltStateUnlocked, BoltStateJam, BoltStateLockJam, BoltStateUnlockJam:
		return true
	}
	return false
}

// ID returns the lock id.
func (l *Lock) ID() string { return l.id }

// Name returns the lock name as configured on mykevo.com.
func (l *Lock) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// Brand returns the lock brand.
func (l *Lock) Brand() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.brand
}

// Firmware returns the firmware version.
func (l *Lock) Firmware() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.firmware
}

// BatteryLevel returns the battery level as a percentage from 0 to 100.
func (l *Lock) BatteryLevel() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.batteryLevel
}

// BoltState returns the raw bolt state string last reported by the cloud.
func (l *Lock) BoltState() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.boltState
}

// IsLocked reports whether the bolt is thrown.
func (l *Lock) IsLocked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.locked
}

// IsJammed reports whether the bolt is jammed.
func (l *Lock) IsJammed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.jammed
}

// InFlight reports whether a lock or unlock command is still being
// delivered to the lock.
func (l *Lock) InFlight() (locking, unlocking bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.locking, l.unlocking
}

// Lock sends a Lock command for this lock.
func (l *Lock) Lock(ctx context.Context) error {
	return l.client.SendCommand(ctx, l.id, CommandLock)
}

// Unlock sends an Unlock command for this lock.
func (l *Lock) Unlock(ctx context.Context) error {
	return l.client.SendCommand(ctx, l.id, CommandUnlock)
}

// applyREST refreshes the mutable fields from a REST inventory row.
func (l *Lock) applyREST(name, firmware string, battery float64, boltState, brand string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.name = name
	l.firmware = firmware
	l.batteryLevel = battery
	l.brand = brand
	l.boltState = boltState
	l.locked, l.jammed = boltFlags(boltState)
}

// applyStatus folds a websocket LockStatus message into the snapshot.
// The command block, when present, drives the in-flight flags: a command
// being processed or delivered means the bolt is moving; a complete or
// cancelled command settles it.
func (l *Lock) applyStatus(msg lockStatusData) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.batteryLevel = msg.BatteryLevel
	l.boltState = msg.BoltState
	if msg.BoltState == BoltStateJam {
		// A plain jam report says nothing about the bolt position, so
		// keep the last known locked flag.
		l.jammed = true
	} else {
		l.locked, l.jammed = boltFlags(msg.BoltState)
	}

	if msg.Command == nil {
		return
	}
	switch msg.Command.Status {
	case CommandStatusComplete, CommandStatusCancelled:
		l.locking = false
		l.unlocking = false
	case CommandStatusProcessing, CommandStatusDelivered:
		if msg.Command.Type == CommandLock {
			l.locking = true
			l.unlocking = false
		} else {
			l.locking = false
			l.unlocking = true
		}
	}
}
