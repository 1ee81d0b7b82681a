// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"strconv"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/stewjoel/home-assistant-kevo-master/internal/db"
	"github.com/stewjoel/home-assistant-kevo-master/internal/i18n"
)

// auditCmd prints the recorded action trail, newest first.
var auditCmd = &cobra.Command{
	Use:   "audit [count]",
	Short: "Show the audit log of recorded actions",
	Long: `Prints the audit trail of actions Kevoctl has recorded: logins, sent
lock commands, manage-flag changes and restores. An optional count
limits the output to the most recent entries.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		limit := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				log.Fatalf("%s", i18n.T("audit.error_count", args[0]))
			}
			limit = n
		}

		entries, err := db.GetAllAuditLogEntries()
		if err != nil {
			log.Fatalf("%s", i18n.T("audit.error_list", err))
		}
		if len(entries) == 0 {
			fmt.Println(i18n.T("audit.empty"))
			return
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		for _, e := range entries {
			fmt.Printf("%-25s %-14s %-16s %s\n", e.Timestamp, e.Username, e.Action, e.Details)
		}
	},
}
