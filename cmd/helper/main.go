/*
Copyright 2024 The Dapr Authors
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/spiffe/go-workloadapi/concurrency"
	"github.com/spiffe/go-workloadapi/helper"
	"github.com/spiffe/go-workloadapi/internal/log"
	"github.com/spiffe/go-workloadapi/workloadapi"
)

const defaultConfigPath = "conf/spiffe-helper.properties"

func main() {
	configPath := flag.String("c", defaultConfigPath, "path to the helper properties file")
	flag.StringVar(configPath, "config", defaultConfigPath, "path to the helper properties file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logrus.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := helper.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration from %s: %w", configPath, err)
	}

	logger := log.Default()

	h, err := helper.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("building keystore helper: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := workloadapi.NewX509Source(ctx, workloadapi.WithClientOptions(
		workloadapi.WithAddr(cfg.SpiffeSocketPath),
		workloadapi.WithLogger(logger),
	))
	if err != nil {
		return fmt.Errorf("establishing X.509 source: %w", err)
	}
	defer src.Close()

	manager := concurrency.NewRunnerManager(
		func(ctx context.Context) error {
			return h.Run(ctx, src)
		},
		func(ctx context.Context) error {
			<-ctx.Done()
			return src.Close()
		},
	)

	return manager.Run(ctx)
}
