// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package tui provides the terminal user interface for Kevoctl.
// This file, tui.go, is the entry point for the watch dashboard.
package tui // import "github.com/stewjoel/home-assistant-kevo-master/internal/tui"

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/stewjoel/home-assistant-kevo-master/internal/coordinator"
	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
)

// Run starts the watch dashboard against an already-started coordinator.
// It blocks until the user quits.
func Run(co *coordinator.Coordinator) error {
	updates := make(chan lockUpdateMsg, 32)
	unsubscribe := co.Subscribe(func(snap model.Lock) {
		// Drop updates instead of blocking the coordinator's publish path
		// when the UI is busy; the next update carries fresh state anyway.
		select {
		case updates <- lockUpdateMsg{lock: snap}:
		default:
		}
	})
	defer unsubscribe()

	m := newWatchModel(co, updates)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}
