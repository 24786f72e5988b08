package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ksx/rdtfile/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"fragments_sent", snap.FragmentsSent,
					"fragments_recv", snap.FragmentsRecv,
					"retransmits", snap.Retransmits,
					"checksum_failures", snap.ChecksumFailures,
					"repair_rounds", snap.RepairRounds,
					"sessions_ok", snap.SessionsOK,
					"sessions_fail", snap.SessionsFail,
					"bytes_sent", snap.BytesSent,
					"bytes_recv", snap.BytesRecv,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
