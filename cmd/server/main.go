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

// Command server runs only the RECON API server.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pgedge/recon/internal/server"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
)

func main() {
	cfgPath := os.Getenv("RECON_CONFIG")
	if cfgPath == "" {
		cfgPath = "recon.yaml"
	}
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		execPath, err := os.Executable()
		if err != nil {
			logger.Fatal("unable to determine executable path: %v", err)
		}
		root := filepath.Dir(filepath.Dir(execPath))
		cfgPath = filepath.Join(root, "recon.yaml")
	}
	if err := config.Init(cfgPath); err != nil {
		logger.Fatal("loading config (%s): %v", cfgPath, err)
	}
	logger.SetDebug(config.Cfg.DebugMode)

	apiServer, err := server.New(config.Cfg)
	if err != nil {
		logger.Fatal("api server init failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := apiServer.Run(ctx); err != nil {
		logger.Error("%v", err)
		stop()
		os.Exit(1)
	}
}
