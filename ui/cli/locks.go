// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// locks.go implements the inventory-facing commands: 'locks', 'manage',
// and the 'lock'/'unlock' command pair.

package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/stewjoel/home-assistant-kevo-master/internal/db"
	"github.com/stewjoel/home-assistant-kevo-master/internal/i18n"
	"github.com/stewjoel/home-assistant-kevo-master/internal/kevo"
	"github.com/stewjoel/home-assistant-kevo-master/internal/model"
)

// settleProbe is how often 'lock'/'unlock' re-poll the cloud while
// waiting for the bolt to reach its target state.
const settleProbe = 2 * time.Second

// locksCmd lists the lock inventory. By default it reads the local
// database so it works without a live session; --sync refreshes from the
// cloud first.
var locksCmd = &cobra.Command{
	Use:     "locks",
	Short:   "List known locks and their last seen state",
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		managedOnly, _ := cmd.Flags().GetBool("managed")
		sync, _ := cmd.Flags().GetBool("sync")

		if sync {
			if err := syncFromCloud(cmd.Context()); err != nil {
				log.Fatalf("%s", i18n.T("locks.error_sync", err))
			}
		}

		var (
			locks []model.Lock
			err   error
		)
		if managedOnly {
			locks, err = db.GetManagedLocks()
		} else {
			locks, err = db.GetAllLocks()
		}
		if err != nil {
			log.Fatalf("%s", i18n.T("locks.error_list", err))
		}
		if len(locks) == 0 {
			fmt.Println(i18n.T("locks.none_hint"))
			return
		}

		fmt.Printf("%-24s %-38s %-12s %7s  %-8s %s\n",
			i18n.T("locks.header_name"), "ID",
			i18n.T("locks.header_state"), i18n.T("locks.header_battery"),
			i18n.T("locks.header_managed"), i18n.T("locks.header_last_seen"))
		for _, l := range locks {
			managed := "-"
			if l.Managed {
				managed = "yes"
			}
			lastSeen := "-"
			if !l.LastSeen.IsZero() {
				lastSeen = l.LastSeen.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("%-24s %-38s %-12s %6.0f%%  %-8s %s\n",
				l.Name, l.LockID, describeState(l), l.BatteryLevel, managed, lastSeen)
		}
	},
}

// manageCmd flips the managed flag on a lock. Unmanaged locks are kept in
// the inventory but skipped by the watch dashboard and state polling.
var manageCmd = &cobra.Command{
	Use:   "manage <lock-id-or-name>",
	Short: "Start (or with --off, stop) managing a lock",
	Long: `Marks a lock as managed. Managed locks are polled for state, followed
on the websocket feed, and shown in the watch dashboard. Use --off to
park a lock without deleting its history.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		off, _ := cmd.Flags().GetBool("off")

		target, err := resolveStoredLock(args[0])
		if err != nil {
			log.Fatalf("%s", i18n.T("locks.error_resolve", err))
		}
		if err := db.SetLockManaged(target.LockID, !off); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				log.Fatalf("%s", i18n.T("locks.error_unknown", args[0]))
			}
			log.Fatalf("%s", i18n.T("manage.error", err))
		}
		if off {
			fmt.Println(i18n.T("manage.now_unmanaged", target.String()))
		} else {
			fmt.Println(i18n.T("manage.now_managed", target.String()))
		}
	},
}

// forgetCmd removes a lock row entirely. Unlike 'manage --off' this also
// drops the stored state and is meant for locks that left the account.
var forgetCmd = &cobra.Command{
	Use:     "forget <lock-id-or-name>",
	Short:   "Remove a lock from the local inventory",
	Args:    cobra.ExactArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		target, err := resolveStoredLock(args[0])
		if err != nil {
			log.Fatalf("%s", i18n.T("locks.error_resolve", err))
		}
		if err := db.DeleteLock(target.LockID); err != nil {
			log.Fatalf("%s", i18n.T("forget.error", err))
		}
		fmt.Println(i18n.T("forget.success", target.String()))
	},
}

// lockCmd sends a Lock command and waits for the bolt to settle.
var lockCmd = &cobra.Command{
	Use:     "lock <lock-id-or-name>",
	Short:   "Lock a lock",
	Args:    cobra.ExactArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		runBoltCommand(cmd, args[0], kevo.CommandLock)
	},
}

// unlockCmd sends an Unlock command and waits for the bolt to settle.
var unlockCmd = &cobra.Command{
	Use:     "unlock <lock-id-or-name>",
	Short:   "Unlock a lock",
	Args:    cobra.ExactArgs(1),
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		runBoltCommand(cmd, args[0], kevo.CommandUnlock)
	},
}

// runBoltCommand is the shared body of 'lock' and 'unlock': resume the
// session, resolve the target against the live cloud inventory, send the
// command, then poll until the bolt reports the expected end state.
func runBoltCommand(cmd *cobra.Command, targetArg, command string) {
	noWait, _ := cmd.Flags().GetBool("no-wait")
	timeoutSec, _ := cmd.Flags().GetInt("timeout")

	client, err := resumeClient()
	if err != nil {
		log.Fatalf("%s", i18n.T("session.error_resume", err))
	}
	if _, err := client.GetLocks(cmd.Context()); err != nil {
		fatalCloudError(err)
	}
	defer persistSession(client)

	target, err := resolveCloudLock(client, targetArg)
	if err != nil {
		log.Fatalf("%s", i18n.T("locks.error_resolve", err))
	}

	fmt.Println(i18n.T("command.sending", command, target.Name()))
	if err := client.SendCommand(cmd.Context(), target.ID(), command); err != nil {
		fatalCloudError(err)
	}
	if err := db.LogAction("SEND_COMMAND",
		fmt.Sprintf("lock: %s (%s), command: %s", target.Name(), target.ID(), command)); err != nil {
		log.Warnf("could not write audit entry: %v", err)
	}

	if noWait {
		fmt.Println(i18n.T("command.sent"))
		return
	}

	want := kevo.BoltStateLocked
	if command == kevo.CommandUnlock {
		want = kevo.BoltStateUnlocked
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(timeoutSec)*time.Second)
	defer cancel()
	if err := waitForBoltState(ctx, client, target, want); err != nil {
		log.Fatalf("%s", i18n.T("command.error_settle", err))
	}
	if err := db.UpsertLock(snapshotLock(target)); err != nil {
		log.Warnf("could not persist lock state: %v", err)
	}
	fmt.Println(i18n.T("command.settled", target.Name(), target.BoltState()))
}

// waitForBoltState polls the cloud until the lock reaches the wanted bolt
// state, reports a jam, or the context times out.
func waitForBoltState(ctx context.Context, client *kevo.Client, target *kevo.Lock, want string) error {
	ticker := time.NewTicker(settleProbe)
	defer ticker.Stop()
	for {
		if _, err := client.GetLocks(ctx); err != nil {
			return err
		}
		if target.IsJammed() {
			return fmt.Errorf("bolt reports a jam (%s)", target.BoltState())
		}
		locking, unlocking := target.InFlight()
		if target.BoltState() == want && !locking && !unlocking {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %q (last state %q)", want, target.BoltState())
		case <-ticker.C:
		}
	}
}

// syncFromCloud refreshes the stored inventory from the live account.
func syncFromCloud(ctx context.Context) error {
	client, err := resumeClient()
	if err != nil {
		return err
	}
	locks, err := client.GetLocks(ctx)
	if err != nil {
		return err
	}
	defer persistSession(client)
	for _, l := range locks {
		if err := db.UpsertLock(snapshotLock(l)); err != nil {
			return err
		}
	}
	return nil
}

// resolveStoredLock finds a lock in the local database by exact ID or by
// case-insensitive name.
func resolveStoredLock(target string) (*model.Lock, error) {
	if l, err := db.GetLock(target); err != nil {
		return nil, err
	} else if l != nil {
		return l, nil
	}
	locks, err := db.GetAllLocks()
	if err != nil {
		return nil, err
	}
	var match *model.Lock
	for i := range locks {
		if strings.EqualFold(locks[i].Name, target) {
			if match != nil {
				return nil, fmt.Errorf("name %q matches more than one lock, use the ID", target)
			}
			match = &locks[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no lock matches %q", target)
	}
	return match, nil
}

// resolveCloudLock finds a lock in the client's live inventory by exact
// ID or by case-insensitive name.
func resolveCloudLock(client *kevo.Client, target string) (*kevo.Lock, error) {
	if l := client.LockByID(target); l != nil {
		return l, nil
	}
	var match *kevo.Lock
	for _, l := range client.Locks() {
		if strings.EqualFold(l.Name(), target) {
			if match != nil {
				return nil, fmt.Errorf("name %q matches more than one lock, use the ID", target)
			}
			match = l
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no lock matches %q", target)
	}
	return match, nil
}

// describeState renders the one-word state column for the lock table.
func describeState(l model.Lock) string {
	switch {
	case l.Jammed:
		return i18n.T("locks.state_jammed")
	case l.Locked:
		return i18n.T("locks.state_locked")
	case l.BoltState == "":
		return "-"
	default:
		return i18n.T("locks.state_unlocked")
	}
}

// fatalCloudError maps the client's sentinel errors onto actionable
// messages before giving up.
func fatalCloudError(err error) {
	switch {
	case errors.Is(err, kevo.ErrAuth), errors.Is(err, kevo.ErrNotLoggedIn):
		log.Fatalf("%s", i18n.T("session.expired_hint"))
	case errors.Is(err, kevo.ErrPermission):
		log.Fatalf("%s", i18n.T("command.error_permission"))
	default:
		log.Fatalf("%s", i18n.T("command.error_cloud", err))
	}
}
