// Package main is the entry point for the QwenBridge gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/qwenverse/qwenbridge/internal/api"
	"github.com/qwenverse/qwenbridge/internal/buildinfo"
	"github.com/qwenverse/qwenbridge/internal/config"
	"github.com/qwenverse/qwenbridge/internal/gateway"
	"github.com/qwenverse/qwenbridge/internal/logging"
	"github.com/qwenverse/qwenbridge/internal/pool"
	"github.com/qwenverse/qwenbridge/internal/qwen"
	"github.com/qwenverse/qwenbridge/internal/translator"
	"github.com/qwenverse/qwenbridge/internal/upload"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "configuration file path")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Debug)
	if cfg.LogDir != "" {
		logging.EnableFileOutput(cfg.LogDir)
	}
	log.Infof("qwenbridge %s (%s, built %s)", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)
	if len(cfg.Tokens) == 0 {
		log.Fatal("no upstream tokens configured")
	}

	client := qwen.NewClient(cfg.UpstreamBaseURL)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 2*time.Minute)
	credPool := pool.New(initCtx, client, cfg.Tokens)
	cancelInit()

	var uploader translator.Uploader
	if cfg.Upload.Enabled() {
		store, errStore := upload.New(cfg.Upload)
		if errStore != nil {
			log.Fatalf("init upload store: %v", errStore)
		}
		uploader = store
	} else {
		log.Warn("upload store not configured, inline image parts will be dropped")
	}

	trans := translator.New(uploader, cfg.VisionFallbackModel)
	janitor := gateway.NewJanitor(client, 30*time.Minute)
	orchestrator := gateway.New(credPool, client, trans, janitor, cfg.RequestRetry)

	server := api.New(cfg, orchestrator, credPool)

	stopWatcher, err := config.Watch(configPath, func(next *config.Config) {
		server.SetAPIKeys(next.APIKeys)
		server.SetRequestLog(next.RequestLog)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if added, removed := credPool.ApplySecrets(ctx, next.Tokens); added > 0 || removed > 0 {
			log.Infof("credential pool: config reload applied, %d added, %d removed", added, removed)
		}
	})
	if err != nil {
		log.Warnf("config watcher unavailable: %v", err)
	} else {
		defer stopWatcher()
	}

	scheduler := cron.New()
	if _, err = scheduler.AddFunc("@every 1h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		credPool.RenewExpiring(ctx)
	}); err != nil {
		log.Fatalf("schedule token renewal: %v", err)
	}
	if _, err = scheduler.AddFunc("@every 10m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		janitor.Sweep(ctx)
	}); err != nil {
		log.Fatalf("schedule chat cleanup: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	errChan := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Addr())
		errChan <- server.Run()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case sig := <-sigChan:
		log.Infof("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err = server.Shutdown(ctx); err != nil {
			log.Warnf("shutdown: %v", err)
		}
	}
}
