// Command rdtfile transfers a single file reliably over an unreliable UDP
// path, using the receiver-driven selective-repeat protocol implemented by
// the root rdt package.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ksx/rdtfile/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("rdtfile %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
		os.Exit(130)
	}()

	var err error
	switch cfg.mode {
	case "send":
		err = runSend(cfg, l)
	case "recv":
		err = runRecv(ctx, cfg, l, &wg)
	}
	if err != nil {
		l.Error("transfer_failed", "mode", cfg.mode, "error", err)
		os.Exit(1)
	}
	l.Info("transfer_complete", "mode", cfg.mode, "file", cfg.file)
	cancel()
	wg.Wait()
}
