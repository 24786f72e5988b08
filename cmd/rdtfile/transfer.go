package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/ksx/rdtfile"
	"github.com/ksx/rdtfile/internal/metrics"
)

func buildOptions(cfg *appConfig) []rdt.Option {
	var opts []rdt.Option
	if cfg.syncTimeout > 0 {
		opts = append(opts, rdt.WithSyncTimeout(cfg.syncTimeout))
	}
	if cfg.recvLoopTimeout > 0 {
		opts = append(opts, rdt.WithRecvLoopTimeout(cfg.recvLoopTimeout))
	}
	if cfg.sendRerequestTimeout > 0 {
		opts = append(opts, rdt.WithSendRerequestTimeout(cfg.sendRerequestTimeout))
	}
	if cfg.recvRerequestTimeout > 0 {
		opts = append(opts, rdt.WithRecvRerequestTimeout(cfg.recvRerequestTimeout))
	}
	if cfg.idleRetries > 0 {
		opts = append(opts, rdt.WithTimeoutRerequestCount(cfg.idleRetries))
	}
	if cfg.drainTimeout > 0 {
		opts = append(opts, rdt.WithDrainTimeout(cfg.drainTimeout))
	}
	return opts
}

func runSend(cfg *appConfig, l *slog.Logger) error {
	data, err := os.ReadFile(cfg.file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	connect := rdt.Connect
	if cfg.raw {
		connect = rdt.ConnectRaw
	}
	sess, err := connect(cfg.peerHost, cfg.peerPort, buildOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer sess.Close()

	l.Info("send_start", "peer", net.JoinHostPort(cfg.peerHost, strconv.Itoa(cfg.peerPort)),
		"bytes", len(data), "secure", cfg.secure)

	if ok := sess.Send(data, cfg.secure); !ok {
		return fmt.Errorf("send: %w", sess.LastError())
	}
	return nil
}

func runRecv(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) error {
	var sess *rdt.Session
	var err error
	if cfg.raw {
		_, portStr, splitErr := splitHostPort(cfg.listen)
		if splitErr != nil {
			return fmt.Errorf("listen: %w", splitErr)
		}
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			return fmt.Errorf("listen: invalid port %q: %w", portStr, convErr)
		}
		sess, err = rdt.BindRaw(port, buildOptions(cfg)...)
	} else {
		sess, err = rdt.Bind(cfg.listen, buildOptions(cfg)...)
	}
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	defer sess.Close()

	laddr, _ := sess.LocalAddr().(*net.UDPAddr)
	l.Info("recv_listening", "addr", sess.LocalAddr().String(), "secure", cfg.secure)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })

	if laddr != nil {
		cleanupMDNS, mErr := startMDNS(ctx, cfg, laddr.Port)
		if mErr != nil {
			l.Warn("mdns_start_failed", "error", mErr)
		} else {
			wg.Add(1)
			go func() { defer wg.Done(); <-ctx.Done(); cleanupMDNS() }()
		}
	}

	data, err := sess.Recv(cfg.acceptTimeout, cfg.secure)
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	if err := os.WriteFile(cfg.file, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	l.Info("recv_bytes", "bytes", len(data))
	return nil
}
