// ///////////////////////////////////////////////////////////////////////////
//
// # RECON - Migration Data Reconciliation
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pgedge/recon/internal/cli"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
)

func main() {
	if !shouldSkipConfig(os.Args[1:]) {
		loadConfig()
	}

	app := cli.SetupCLI()
	err := app.Run(os.Args)
	if err != nil {
		logger.Error("%v", err)
	}
	os.Exit(cli.ExitCode(err))
}

// loadConfig looks for recon.yaml in this order:
// 1. env var (RECON_CONFIG)
// 2. current dir
// 3. $HOME/.config/recon/
// 4. /etc/recon/
// Without a file the settings come from the environment alone.
func loadConfig() {
	var potentialPaths []string
	if envPath := os.Getenv("RECON_CONFIG"); envPath != "" {
		potentialPaths = append(potentialPaths, envPath)
	}
	potentialPaths = append(potentialPaths, "recon.yaml")
	if home, err := os.UserHomeDir(); err == nil {
		potentialPaths = append(potentialPaths, filepath.Join(home, ".config", "recon", "recon.yaml"))
	}
	potentialPaths = append(potentialPaths, "/etc/recon/recon.yaml")

	var cfgPath string
	for _, p := range potentialPaths {
		if _, err := os.Stat(p); err == nil {
			cfgPath = p
			break
		}
	}

	if cfgPath == "" {
		logger.Debug("config file 'recon.yaml' not found; using environment only")
		cfg, err := config.FromEnv()
		if err != nil {
			logger.Fatal("loading config from environment: %v", err)
		}
		config.Cfg = cfg
		return
	}

	if err := config.Init(cfgPath); err != nil {
		logger.Fatal("loading config (%s): %v", cfgPath, err)
	}
	logger.SetDebug(config.Cfg.DebugMode)
}

func shouldSkipConfig(args []string) bool {
	if len(args) == 0 {
		return true
	}

	for _, arg := range args {
		if arg == "--help" || arg == "-h" || arg == "help" {
			return true
		}
	}

	var commandPath []string
	for _, arg := range args {
		if arg == "--" {
			break
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		commandPath = append(commandPath, arg)
		if len(commandPath) >= 2 {
			break
		}
	}

	if len(commandPath) == 0 {
		return true
	}

	if commandPath[0] == "config" && (len(commandPath) == 1 || commandPath[1] == "init") {
		return true
	}

	return false
}
