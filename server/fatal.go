package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/xraph/shepherd/metadata"
)

// FatalMetadataName names the diagnostic snapshot a server leaves in the
// metadata store when it stops on a fatal error. The owner is the server id.
const FatalMetadataName = "shepherd.server.fatal"

// exception counts a storage failure the server survived. Reaching
// Config.MaxExceptions within Config.ExceptionWindow is fatal.
func (s *Server) exception(err error) {
	now := s.now()
	horizon := now.Add(-s.cfg.ExceptionWindow)

	s.excMu.Lock()
	kept := s.exceptions[:0]
	for _, t := range s.exceptions {
		if t.After(horizon) {
			kept = append(kept, t)
		}
	}
	s.exceptions = append(kept, now)
	n := len(s.exceptions)
	s.excMu.Unlock()

	s.logger.Warn("storage failure",
		slog.String("server_id", s.id.String()),
		slog.Int("recent", n),
		slog.String("error", err.Error()),
	)
	if n >= s.cfg.MaxExceptions {
		s.fatal(errors.Wrapf(err, "%d storage failures within %s", n, s.cfg.ExceptionWindow))
	}
}

// fatal records a diagnostic snapshot and stops the server. The stop runs
// on its own goroutine: fatal is called from loops and workers that Stop
// waits for.
func (s *Server) fatal(err error) {
	if !s.failing.CompareAndSwap(false, true) {
		return
	}
	err = errors.WithStackDepth(err, 1)
	s.logger.Error("background job server stopping on fatal error",
		slog.String("server_id", s.id.String()),
		slog.String("error", err.Error()),
	)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.InterruptJobsAwaitDuration+s.cfg.PollInterval)
		defer cancel()

		md := metadata.New(FatalMetadataName, s.id.String(), s.diagnostics(err))
		if serr := s.store.SaveMetadata(ctx, md); serr != nil {
			s.logger.Warn("failed to save fatal diagnostics", slog.String("error", serr.Error()))
		}
		s.extensions.EmitServerFatal(ctx, s.id, err)
		if serr := s.Stop(ctx); serr != nil {
			s.logger.Warn("stop after fatal error failed", slog.String("error", serr.Error()))
		}
	}()
}

// diagnostics renders what an operator needs to understand a fatal stop.
func (s *Server) diagnostics(err error) string {
	var b strings.Builder
	hb := s.monitor.Heartbeat()

	fmt.Fprintf(&b, "server: %s (%s)\n", s.id, s.cfg.ServerName)
	fmt.Fprintf(&b, "time: %s\n", s.now().Format(time.RFC3339))
	fmt.Fprintf(&b, "worker pool size: %d\n", hb.WorkerPoolSize)
	fmt.Fprintf(&b, "occupied workers: %d\n", s.steward.Occupied())
	fmt.Fprintf(&b, "first heartbeat: %s\n", hb.FirstHeartbeat.Format(time.RFC3339))
	fmt.Fprintf(&b, "leader: %s\n", s.monitor.LeaderID())
	for _, peer := range s.monitor.LiveServers() {
		fmt.Fprintf(&b, "live server: %s (%s) last heartbeat %s\n",
			peer.ID, peer.Name, peer.LastHeartbeat.Format(time.RFC3339))
	}

	fmt.Fprintf(&b, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if info, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(&b, "main module: %s %s\n", info.Main.Path, info.Main.Version)
		for _, dep := range info.Deps {
			if dep.Path == instrumentationName {
				fmt.Fprintf(&b, "shepherd: %s\n", dep.Version)
			}
		}
	}

	fmt.Fprintf(&b, "error: %+v\n", err)
	return b.String()
}
