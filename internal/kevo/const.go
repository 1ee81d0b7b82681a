// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package kevo

// Default endpoints of the unikey cloud behind mykevo.com. They can be
// overridden through Config for testing or if the vendor moves hosts.
const (
	DefaultAPIBaseURL   = "https://resi-prd-api.unikey.com"
	DefaultLoginBaseURL = "https://identity.unikey.com"
	DefaultWSBaseURL    = "wss://resi-prd-ws.unikey.com"

	// RedirectURI is the OAuth redirect target registered for the web client.
	RedirectURI = "https://mykevo.com/#/token"
)

// OAuth client registration of the mykevo.com web frontend. The websocket
// handshake signs its nonces with the decoded client secret.
const (
	DefaultClientID     = "cfced1b2-8cbe-48d2-9aaa-8b8e28895c9e"
	DefaultClientSecret = "YXZXZTlXQ1lhcHRseWNpSXF1Z2dXbXNLQnBUZWJZc0s="
	DefaultTenantID     = "e0e90bcd-f1b4-45ae-8e06-9e17e5ff2370"
)

// Bolt states reported by the cloud for a lock.
const (
	BoltStateLocked    = "Locked"
	BoltStateUnlocked  = "Unlocked"
	BoltStateJam       = "BoltJam"
	BoltStateLockJam   = "LockedBoltJam"
	BoltStateUnlockJam = "UnlockedBoltJam"
)

// Commands accepted by the lock command endpoint.
const (
	CommandLock   = "Lock"
	CommandUnlock = "Unlock"
)

// Delivery states of an in-flight command as reported over the websocket.
const (
	CommandStatusProcessing = "Processing"
	CommandStatusDelivered  = "Delivered"
	CommandStatusComplete   = "Complete"
	CommandStatusCancelled  = "Cancelled"
)
