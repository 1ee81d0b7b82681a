package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	cfg "github.com/stewjoel/home-assistant-kevo-master/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	tmp := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmp)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	// Run from an empty directory so no stray kevoctl.yaml is picked up.
	wd, _ := os.Getwd()
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()

	defaults := map[string]any{
		"database.type": "sqlite",
		"database.dsn":  "./kevoctl.db",
		"language":      "en",
	}
	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, defaults, nil)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.Database.Type != "sqlite" || c.Database.DSN != "./kevoctl.db" || c.Language != "en" {
		t.Fatalf("defaults not applied: %+v", c)
	}
}

func TestLoadConfig_ReadsExplicitFile(t *testing.T) {
	tmp := t.TempDir()
	yaml := "database:\n  type: postgres\n  dsn: postgresql://user@/db\nlanguage: de\nkevo:\n  poll_seconds: 10\n  locks:\n    - lock-1\n"
	file := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, nil, &file)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.Database.Type != "postgres" || c.Language != "de" {
		t.Fatalf("file values not applied: %+v", c)
	}
	if c.Kevo.PollSeconds != 10 || len(c.Kevo.Locks) != 1 || c.Kevo.Locks[0] != "lock-1" {
		t.Fatalf("kevo section not applied: %+v", c.Kevo)
	}
}

func TestLoadConfig_EnvOverridesDefaults(t *testing.T) {
	tmp := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmp)
	os.Setenv("KEVOCTL_LANGUAGE", "de")
	defer os.Unsetenv("XDG_CONFIG_HOME")
	defer os.Unsetenv("KEVOCTL_LANGUAGE")

	wd, _ := os.Getwd()
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()

	defaults := map[string]any{"language": "en"}
	c, err := cfg.LoadConfig[cfg.Config](&cobra.Command{}, defaults, nil)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.Language != "de" {
		t.Fatalf("environment did not override the default: %+v", c)
	}
}

func TestWriteConfigFile_CreatesFile(t *testing.T) {
	tmp := t.TempDir()
	os.Setenv("XDG_CONFIG_HOME", tmp)
	defer os.Unsetenv("XDG_CONFIG_HOME")

	c := cfg.Config{}
	c.Database.Type = "sqlite"
	c.Database.DSN = "./kevoctl.db"
	c.Language = "en"

	if err := cfg.WriteConfigFile(&c, false); err != nil {
		t.Fatalf("WriteConfigFile failed: %v", err)
	}

	path, err := cfg.GetConfigPath(false)
	if err != nil {
		t.Fatalf("GetConfigPath failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file at %s, stat error: %v", path, err)
	}
}
