// Copyright 2024 The Rankserver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openrank/rankserver/server"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version  string = "dev"
	commitID string = "none"
)

func main() {
	semver := fmt.Sprintf("%s+%s", version, commitID)

	tmpLogger := server.NewJSONLogger(os.Stdout, zapcore.InfoLevel)

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Println(semver)
		return
	}

	config := server.ParseArgs(tmpLogger, os.Args)
	logger, startupLogger := server.SetupLogging(tmpLogger, config)
	config.Validate(startupLogger)

	startupLogger.Info("Rankserver starting")
	startupLogger.Info("Node", zap.String("name", config.GetName()), zap.String("version", semver))

	ctx, ctxCancelFn := context.WithCancel(context.Background())

	db := server.DbConnect(ctx, startupLogger, config)
	rankingStore := server.NewSQLRankingStore(logger, db)

	ladderHandler := server.NewLadderHandler(logger, rankingStore, config.GetRanking())
	apiServer, err := server.StartApiServer(logger, config, ladderHandler)
	if err != nil {
		startupLogger.Fatal("Failed to start api server", zap.Error(err))
	}

	startupLogger.Info("Startup done")

	// Respect OS stop signals.
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-c

	logger.Info("Shutting down", zap.String("signal", sig.String()))
	apiServer.Stop()
	ctxCancelFn()
	if err := db.Close(); err != nil {
		logger.Error("Error closing database", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
