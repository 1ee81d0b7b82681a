// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package kevo contains shared client errors and helpers.
package kevo

import "errors"

// ErrAuth is returned when the cloud rejects the credentials, either at
// login or after a token refresh was attempted and still refused.
var ErrAuth = errors.New("kevo: authentication failed")

// ErrPermission is returned when the account holds no eKey grant for the
// requested lock or operation.
var ErrPermission = errors.New("kevo: permission denied")

// ErrNotLoggedIn is returned when an API call is made before Login or
// Resume established a session.
var ErrNotLoggedIn = errors.New("kevo: not logged in")
