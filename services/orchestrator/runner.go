package orchestrator

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/pkg/errors"

	"github.com/mailsweep/mailsweep/interfaces"
	"github.com/mailsweep/mailsweep/internal/logger"
	"github.com/mailsweep/mailsweep/internal/manifest"
)

type procState struct {
	done     chan struct{}
	exitCode int
}

// processRunner launches workers as sibling OS processes of the server. The
// manifest crosses the boundary in the MANIFEST environment variable; the
// worker opens its own database handle from the manifest's db_path.
type processRunner struct {
	log    logger.Logger
	binary string

	mu    sync.Mutex
	procs map[int]*procState
}

func NewProcessRunner(log logger.Logger, binary string) interfaces.WorkerRunner {
	return &processRunner{
		log:    log,
		binary: binary,
		procs:  make(map[int]*procState),
	}
}

func (r *processRunner) Launch(ctx context.Context, name string, m manifest.Manifest) (int, error) {
	encoded, err := m.Encode()
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(r.binary, "worker")
	cmd.Env = append(os.Environ(),
		manifest.EnvManifest+"="+encoded,
		"DB_PATH="+m.DBPath,
		"WORKER_NAME="+name,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, errors.Wrapf(err, "failed to launch worker %s", name)
	}
	pid := cmd.Process.Pid
	r.log.Infof("launched worker %s pid=%d", name, pid)

	state := &procState{done: make(chan struct{})}
	r.mu.Lock()
	r.procs[pid] = state
	r.mu.Unlock()

	go func() {
		waitErr := cmd.Wait()
		code := 0
		if waitErr != nil {
			code = 1
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				code = exitErr.ExitCode()
			}
		}
		state.exitCode = code
		close(state.done)
	}()

	return pid, nil
}

func (r *processRunner) Poll(pid int) (bool, int) {
	r.mu.Lock()
	state, ok := r.procs[pid]
	r.mu.Unlock()

	if !ok {
		// Not one of ours, so an orphan from a previous host process. We
		// cannot reap it, only observe liveness.
		if r.Alive(pid) {
			return true, 0
		}
		return false, 0
	}

	select {
	case <-state.done:
		return false, state.exitCode
	default:
		return true, 0
	}
}

// Alive probes the pid with signal 0.
func (r *processRunner) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
