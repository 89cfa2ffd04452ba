package jobs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/edgewatch/edgewatch/internal/core"
	"github.com/edgewatch/edgewatch/internal/logger"
	"github.com/edgewatch/edgewatch/pkg/types"
)

// execLauncher runs a job's module as an external process. The console
// only starts and stops; output is picked up later through the ingestion
// entry points, so there is no pipe handling here.
type execLauncher struct {
	mu      sync.Mutex
	running map[string]*exec.Cmd
	logger  *logger.Logger
}

func NewExecLauncher(log *logger.Logger) core.Launcher {
	return &execLauncher{
		running: map[string]*exec.Cmd{},
		logger:  log.WithComponent("launcher"),
	}
}

func (l *execLauncher) Start(ctx context.Context, job *types.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.running[job.Name]; ok {
		return fmt.Errorf("job %q is already running", job.Name)
	}
	if job.Module == "" {
		return fmt.Errorf("job %q has no module", job.Name)
	}

	args := strings.Fields(job.Config)
	cmd := exec.CommandContext(ctx, job.Module, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start module %s: %w", job.Module, err)
	}
	l.running[job.Name] = cmd
	l.logger.Infow("module started", "job", job.Name, "module", job.Module, "pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		delete(l.running, job.Name)
		l.mu.Unlock()
		if err != nil {
			// Nonzero exit is "no result", not a failure of the console.
			l.logger.Warnw("module exited with error", "job", job.Name, "error", err)
			return
		}
		l.logger.Infow("module finished", "job", job.Name)
	}()
	return nil
}

func (l *execLauncher) Stop(ctx context.Context, name string) error {
	l.mu.Lock()
	cmd, ok := l.running[name]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q is not running", name)
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to stop job %s: %w", name, err)
	}
	return nil
}
