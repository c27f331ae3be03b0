package interfaces

import (
	"context"

	"github.com/mailsweep/mailsweep/internal/manifest"
)

// WorkerRunner launches and supervises worker processes.
type WorkerRunner interface {
	// Launch starts one worker for the manifest and returns its pid.
	Launch(ctx context.Context, name string, m manifest.Manifest) (int, error)
	// Poll reports whether the worker is still running and, once it exited,
	// its exit code.
	Poll(pid int) (running bool, exitCode int)
	// Alive reports whether a process with the pid exists. Used for orphans
	// launched by a previous host process.
	Alive(pid int) bool
}
