/*
Copyright 2023 - 2025 Dima Krasner

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

// Command fedcore runs a standalone federation core: it serves the HTTP
// surface (WebFinger, actor documents, inboxes, outboxes, NodeInfo), drains
// the durable job queue that drives inbound processing and outbound
// delivery, and exits cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/redis/go-redis/v9"

	_ "github.com/mattn/go-sqlite3"

	"github.com/corvidfed/fedcore/cache"
	"github.com/corvidfed/fedcore/config"
	"github.com/corvidfed/fedcore/deliver"
	"github.com/corvidfed/fedcore/fetch"
	"github.com/corvidfed/fedcore/filter"
	"github.com/corvidfed/fedcore/httpsig"
	"github.com/corvidfed/fedcore/inbox"
	"github.com/corvidfed/fedcore/jobqueue"
	"github.com/corvidfed/fedcore/sandbox"
	"github.com/corvidfed/fedcore/server"
	"github.com/corvidfed/fedcore/store"
	"github.com/corvidfed/fedcore/store/migrations"
)

var (
	cfgPath  = flag.String("cfg", "fedcore.yaml", "Configuration file")
	logLevel = flag.Int("loglevel", int(slog.LevelInfo), "Logging verbosity")
	addr     = flag.String("addr", ":8443", "HTTPS listening address")
	cert     = flag.String("cert", "cert.pem", "TLS certificate")
	key      = flag.String("key", "key.pem", "TLS key")
	plain    = flag.Bool("plain", false, "Use HTTP instead of HTTPS")
)

func main() {
	flag.Parse()

	opts := slog.HandlerOptions{Level: slog.Level(*logLevel)}
	if opts.Level == slog.LevelDebug {
		opts.AddSource = true
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &opts)))
	slog.SetLogLoggerLevel(slog.Level(*logLevel))

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.OpenTelemetry != nil && cfg.OpenTelemetry.Enabled {
		slog.Warn("OpenTelemetry collector export is not wired in this build; metrics are recorded against the no-op meter provider", "collector_addr", cfg.OpenTelemetry.CollectorAddr)
	}

	s, err := store.Open(&cfg.Database)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case sig := <-sigs:
			slog.Info("Received termination signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := migrations.Run(ctx, s.DB); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	c, err := newCache(cfg)
	if err != nil {
		slog.Error("Failed to initialize cache backend", "backend", cfg.Cache.Backend, "error", err)
		os.Exit(1)
	}

	filterMode := filter.Deny
	if cfg.FederationFilter.Mode == "allow" {
		filterMode = filter.Allow
	}
	f := filter.New(filterMode, cfg.FederationFilter.Domains)

	instanceKey, err := httpsig.Generate(fmt.Sprintf("https://%s/actor#main-key", cfg.URL.Domain))
	if err != nil {
		slog.Error("Failed to generate instance signing key", "error", err)
		os.Exit(1)
	}

	fetcher := fetch.New(s, c, f, instanceKey, cfg)

	queue := jobqueue.New(s, &cfg.JobQueue)
	engine := deliver.New(s, queue, sandbox.AllowAll{}, &cfg.Messaging)

	processor := inbox.New(s, fetcher, f, engine, sandbox.AllowAll{}, cfg.URL.Domain, cfg.MaxRequestBodySize, cfg.MaxRequestAge)

	srv := server.New(s, fetcher, cfg.URL.Domain, cfg.URL.Scheme, cfg.Instance, cfg.MaxRequestAge)

	listener := &server.Listener{
		Server: srv,
		Inbox:  processor,
		Addr:   *addr,
		Cert:   *cert,
		Key:    *key,
		Plain:  *plain,
	}

	slog.Info("Starting", "domain", cfg.URL.Domain, "addr", *addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := listener.ListenAndServe(ctx); err != nil {
			slog.Error("Listener has failed", "error", err)
		}
	}()

	queue.Run(ctx)

	<-ctx.Done()
	slog.Info("Shutting down")
	queue.Wait()
	wg.Wait()
}

func newCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		return cache.NewRedis(client, cfg.Cache.Namespace, "fedcore", slog.Default()), nil
	case "noop":
		return cache.Noop{}, nil
	default:
		return cache.NewInProcess(cfg.Cache.MaxItems), nil
	}
}
