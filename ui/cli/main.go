// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface (CLI) for the Kevoctl
// application using the Cobra library. It defines the root command,
// subcommands (like login, locks, lock/unlock), flags, and the main
// entry point for execution.

package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"runtime/debug"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stewjoel/home-assistant-kevo-master/internal/config"
	"github.com/stewjoel/home-assistant-kevo-master/internal/coordinator"
	"github.com/stewjoel/home-assistant-kevo-master/internal/db"
	"github.com/stewjoel/home-assistant-kevo-master/internal/i18n"
	"github.com/stewjoel/home-assistant-kevo-master/internal/kevo"
	"github.com/stewjoel/home-assistant-kevo-master/internal/logging"
	"github.com/stewjoel/home-assistant-kevo-master/internal/tui"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)
var cfgFile string
var fullRestore bool // Flag for the restore command

var verbose bool
var showVersionFlag bool

var appConfig config.Config

func setupDefaultServices(cmd *cobra.Command, args []string) error {
	// Load optional config file argument from cli
	optional_config_path, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	// Load config
	defauls := map[string]any{
		"database.type": "sqlite",
		"database.dsn":  "./kevoctl.db",
		"language":      "en",
	}

	appConfig, err = config.LoadConfig[config.Config](cmd, defauls, optional_config_path)
	// A "file not found" error is expected on first run, so we handle it
	// specifically and persist a default config for subsequent runs.
	if errors.As(err, &viper.ConfigFileNotFoundError{}) {
		if writeErr := config.WriteConfigFile(&appConfig, false); writeErr != nil {
			// Log a warning but don't fail, as the app can run on defaults.
			log.Warnf("Warning: could not write default config file: %v", writeErr)
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// If no config file was used (viper didn't load one), always write a default
	// config for the user so subsequent runs have a persisted file to inspect.
	if viper.ConfigFileUsed() == "" {
		if writeErr := config.WriteConfigFile(&appConfig, false); writeErr != nil {
			log.Warnf("Warning: could not write default config file: %v", writeErr)
		}
	}

	// Post-process config to ensure critical values are not empty, falling back
	// to defaults. This handles cases where the user's config file has empty
	// values for these fields. We also update viper's internal state to ensure
	// subsequent saves are correct.
	if appConfig.Database.Type == "" {
		appConfig.Database.Type = defauls["database.type"].(string)
		viper.Set("database.type", appConfig.Database.Type)
	}
	if appConfig.Database.DSN == "" {
		appConfig.Database.DSN = defauls["database.dsn"].(string)
		viper.Set("database.dsn", appConfig.Database.DSN)
	}
	if appConfig.Language == "" {
		appConfig.Language = defauls["language"].(string)
		viper.Set("language", appConfig.Language)
	}

	// Initialize i18n
	i18n.Init(appConfig.Language)

	// Initialize the database if not already initialized by tests or earlier setup.
	if !db.IsInitialized() {
		if err := db.InitDB(appConfig.Database.Type, appConfig.Database.DSN); err != nil {
			return errors.New(i18n.T("config.error_init_db", err))
		}
	}

	return nil
}

// Execute runs the CLI entrypoint. The cmd/kevoctl main package should
// call this function and handle process exit.
func Execute() error {
	rootCmd := NewRootCmd()

	if err := rootCmd.Execute(); err != nil {
		return err
	}

	return nil
}

func applyDefaultFlags(cmd *cobra.Command) {
	// Avoid redefining flags if they already exist (NewRootCmd may be called
	// multiple times in tests which creates a new root but uses package-level
	// subcommands). pflag will panic on duplicate flag definitions, so check
	// first.
	if cmd.Flags().Lookup("database.type") == nil {
		cmd.Flags().String("database.type", "sqlite", "Database type (e.g., sqlite, postgres)")
	}
	if cmd.Flags().Lookup("database.dsn") == nil {
		cmd.Flags().String("database.dsn", "./kevoctl.db", "Database connection string (DSN)")
	}
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	// Only proceed if the user has explicitly set the --config flag.
	if cmd.Flags().Changed("config") {
		path, err := cmd.Flags().GetString("config")
		if err != nil {
			// This is unlikely if Changed() is true, but good practice.
			return nil, fmt.Errorf("could not read --config flag: %w", err)
		}

		// If the flag is set but the value is empty, do nothing.
		if path == "" {
			return nil, nil
		}

		// Make sure the user-provided file exists to avoid unwanted behavior.
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
		}
		return &path, nil
	}
	return nil, nil
}

// NewRootCmd creates and configures a new root cobra command.
// This function is used to create the main application command as well as
// fresh instances for isolated testing.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kevoctl",
		Short: "Kevoctl is a command-line manager for Kevo Plus smart locks.",
		Long: `Kevoctl talks to the Kevo Plus cloud to monitor and operate
Kwikset smart locks from the terminal. It keeps a local database of
lock state and an audit trail of every command sent, and can follow
live bolt-state changes over the cloud's websocket feed.

Running without a subcommand will launch the interactive watch TUI.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if showVersionFlag {
				v, c, d := resolveBuildVersion(nil)
				compositeVersion := v
				if c != "" && c != "dev" {
					compositeVersion = compositeVersion + " (" + c + ")"
				}
				if d != "" {
					compositeVersion = compositeVersion + " built: " + d
				}
				fmt.Printf("%s\n", compositeVersion)
				os.Exit(0)
			}
			if verbose {
				db.SetDebug(true)
				logging.SetDebug(true)
			}
			return setupDefaultServices(cmd, args)
		},
		Run: func(cmd *cobra.Command, args []string) {
			// The database and i18n are already initialized by
			// PersistentPreRunE, so we can go straight to the dashboard.
			runWatch(cmd)
		},
	}

	v, c, d := resolveBuildVersion(nil)
	compositeVersion := v
	if c != "" && c != "dev" {
		compositeVersion = compositeVersion + " (" + c + ")"
	}
	if d != "" {
		compositeVersion = compositeVersion + " built: " + d
	}
	cmd.Version = compositeVersion

	// Define flags
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output (sets -v for DB logs)")
	cmd.PersistentFlags().BoolVarP(&showVersionFlag, "version", "V", false, "Print version and exit")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `Output language ("en", "de")`)
	applyDefaultFlags(cmd)

	// Add subcommand flags
	applyDefaultFlags(loginCmd)
	if loginCmd.Flags().Lookup("password") == nil {
		loginCmd.Flags().StringP("password", "p", "", "Account password (prompted securely when omitted)")
	}
	applyDefaultFlags(logoutCmd)
	applyDefaultFlags(locksCmd)
	if locksCmd.Flags().Lookup("managed") == nil {
		locksCmd.Flags().Bool("managed", false, "Only show locks marked as managed")
	}
	if locksCmd.Flags().Lookup("sync") == nil {
		locksCmd.Flags().Bool("sync", false, "Refresh lock state from the cloud before listing")
	}
	applyDefaultFlags(forgetCmd)
	applyDefaultFlags(manageCmd)
	if manageCmd.Flags().Lookup("off") == nil {
		manageCmd.Flags().Bool("off", false, "Stop managing the lock instead of starting")
	}
	applyDefaultFlags(lockCmd)
	applyDefaultFlags(unlockCmd)
	for _, c := range []*cobra.Command{lockCmd, unlockCmd} {
		if c.Flags().Lookup("no-wait") == nil {
			c.Flags().Bool("no-wait", false, "Return immediately instead of waiting for the bolt to settle")
		}
		if c.Flags().Lookup("timeout") == nil {
			c.Flags().Int("timeout", 30, "Seconds to wait for the command to settle")
		}
	}
	applyDefaultFlags(watchCmd)
	applyDefaultFlags(auditCmd)
	applyDefaultFlags(dbMaintainCmd)
	if dbMaintainCmd.Flags().Lookup("timeout") == nil {
		dbMaintainCmd.Flags().Int("timeout", 0, "Timeout in seconds for maintenance (0 means no timeout)")
	}
	applyDefaultFlags(restoreCmd)
	if restoreCmd.Flags().Lookup("full") == nil {
		restoreCmd.Flags().BoolVar(&fullRestore, "full", false, "Perform a full, destructive restore (wipes all existing data first)")
	}
	applyDefaultFlags(migrateCmd)

	// Add a lightweight `version` subcommand so users and CI can run `kevoctl version`.
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			resolvedVersion, resolvedCommit, resolvedDate := resolveBuildVersion(nil)
			fmt.Printf("version: %s\n", resolvedVersion)
			fmt.Printf("commit: %s\n", resolvedCommit)
			if resolvedDate != "" {
				fmt.Printf("built: %s\n", resolvedDate)
			}
		},
	}

	// Add subcommands to the newly created root command.
	cmd.AddCommand(
		loginCmd,
		logoutCmd,
		locksCmd,
		manageCmd,
		forgetCmd,
		lockCmd,
		unlockCmd,
		watchCmd,
		auditCmd,
		dbMaintainCmd,
		backupCmd,
		restoreCmd,
		migrateCmd,
		versionCmd,
	)

	return cmd
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If `info` is nil, it reads build info from
// the runtime. This helper is separated to make unit testing straightforward.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := version
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	var ok bool
	if info == nil {
		if infoLocal, found := debug.ReadBuildInfo(); found {
			info = infoLocal
			ok = true
		}
	} else {
		ok = true
	}

	if ok && info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		// If Main doesn't contain the version (some build paths), try to
		// find our module in the dependencies and use that version.
		if (resolvedVersion == "dev" || resolvedVersion == "(devel)") && info.Deps != nil {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/stewjoel/home-assistant-kevo-master" && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	return resolvedVersion, resolvedCommit, resolvedDate
}

// kevoClientConfig assembles a cloud client config from the loaded app
// config, filling any blanks with the stock Kevo Plus endpoints.
func kevoClientConfig() kevo.Config {
	cfg := kevo.Config{
		APIBaseURL:   appConfig.Kevo.APIBaseURL,
		LoginBaseURL: appConfig.Kevo.LoginBaseURL,
		WSBaseURL:    appConfig.Kevo.WSBaseURL,
		ClientID:     appConfig.Kevo.ClientID,
		ClientSecret: appConfig.Kevo.ClientSecret,
		TenantID:     appConfig.Kevo.TenantID,
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = kevo.DefaultAPIBaseURL
	}
	if cfg.LoginBaseURL == "" {
		cfg.LoginBaseURL = kevo.DefaultLoginBaseURL
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = kevo.DefaultWSBaseURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = kevo.DefaultClientID
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = kevo.DefaultClientSecret
	}
	if cfg.TenantID == "" {
		cfg.TenantID = kevo.DefaultTenantID
	}
	return cfg
}

// pollInterval returns the configured cloud poll interval, falling back to
// the coordinator default when unset or nonsense.
func pollInterval() time.Duration {
	if appConfig.Kevo.PollSeconds > 0 {
		return time.Duration(appConfig.Kevo.PollSeconds) * time.Second
	}
	return coordinator.DefaultPollInterval
}

// watchCmd runs the interactive dashboard explicitly; the bare root
// command does the same thing.
var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Watch locks live in an interactive dashboard",
	Long:    `Opens a terminal dashboard that follows lock state in real time via the Kevo Plus websocket feed, with keybindings to lock and unlock.`,
	PreRunE: setupDefaultServices,
	Run: func(cmd *cobra.Command, args []string) {
		runWatch(cmd)
	},
}

func runWatch(cmd *cobra.Command) {
	client, err := resumeClient()
	if err != nil {
		log.Fatalf("%s", i18n.T("session.error_resume", err))
	}
	defer persistSession(client)

	var opts []coordinator.Option
	opts = append(opts, coordinator.WithPollInterval(pollInterval()))
	if len(appConfig.Kevo.Locks) > 0 {
		opts = append(opts, coordinator.WithManagedSubset(appConfig.Kevo.Locks))
	}
	co := coordinator.New(client, db.PackageStore{}, opts...)
	if err := co.Start(cmd.Context()); err != nil {
		log.Fatalf("%s", i18n.T("watch.error_start", err))
	}
	defer co.Stop()
	if err := co.RestoreManaged(); err != nil {
		log.Warnf("could not restore managed flags: %v", err)
	}

	if err := tui.Run(co); err != nil {
		log.Fatalf("%s", i18n.T("watch.error_ui", err))
	}
	if err := co.Err(); err != nil {
		log.Warnf("%s", i18n.T("session.expired_hint"))
	}
}
