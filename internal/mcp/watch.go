package mcp

import (
	"context"
	"os"
	"time"

	"github.com/nneupane1/telemetry-agent/internal/logging"
)

// ParentPollInterval is how often WatchParent checks the parent pid.
var ParentPollInterval = 2 * time.Second

// WatchParent calls cancel once the process that spawned the stdio server
// is gone, which on Unix shows up as a change of parent pid. It never reads
// stdin; the SDK transport owns that stream.
func WatchParent(ctx context.Context, cancel context.CancelFunc) {
	go watchParent(ctx, cancel, os.Getppid, ParentPollInterval)
}

func watchParent(ctx context.Context, cancel context.CancelFunc, getppid func() int, every time.Duration) {
	parent := getppid()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if now := getppid(); now != parent {
				logging.New("mcp").Warn("agent host exited, stopping server", "parent_pid", parent, "new_parent_pid", now)
				cancel()
				return
			}
		}
	}
}
