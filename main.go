// Copyright (c) 2026 Stew Joel
// Kevoctl - Kevo Plus smart lock manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Kevoctl.
//
// Usage:
//
//	go run . [flags]
//	./kevoctl [flags]
//
// This launches the Kevoctl CLI. See --help for options.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/stewjoel/home-assistant-kevo-master/ui/cli"
)

// main is the entrypoint for the Kevoctl CLI.
func main() {
	// Pick up KEVOCTL_* settings from an optional .env file before the
	// config layer reads the environment.
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := cli.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path. If the file does not
// exist it is silently ignored so that .env files remain optional.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
