// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.
package cli

import (
	"runtime/debug"
	"testing"
)

func TestResolveBuildVersion_MainVersion(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/stewjoel/home-assistant-kevo-master", Version: "v1.2.3"},
	}
	v, c, d := resolveBuildVersion(info)
	if v != "v1.2.3" {
		t.Fatalf("expected v1.2.3 got %s", v)
	}
	if c != gitCommit {
		t.Fatalf("expected commit to equal package gitCommit (default) got %s", c)
	}
	if d != buildDate {
		t.Fatalf("expected date to equal package buildDate (default) got %s", d)
	}
}

func TestResolveBuildVersion_DependencyFallback(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/stewjoel/home-assistant-kevo-master", Version: "(devel)"},
		Deps: []*debug.Module{
			{Path: "github.com/stewjoel/home-assistant-kevo-master", Version: "v0.3.1-0.20260815120000-abcdef123456"},
		},
	}
	v, _, _ := resolveBuildVersion(info)
	if v != "v0.3.1-0.20260815120000-abcdef123456" {
		t.Fatalf("expected dependency version fallback got %s", v)
	}
}

func TestResolveBuildVersion_VCSSettings(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/stewjoel/home-assistant-kevo-master", Version: "(devel)"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "deadbeef"},
			{Key: "vcs.time", Value: "2026-08-28T10:00:00Z"},
		},
	}
	_, c, d := resolveBuildVersion(info)
	if c != "deadbeef" {
		t.Fatalf("expected vcs.revision got %s", c)
	}
	if d != "2026-08-28T10:00:00Z" {
		t.Fatalf("expected vcs.time got %s", d)
	}
}
