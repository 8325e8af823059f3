package launch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"scraperd/internal/storage"
	logx "scraperd/pkg/logx"
)

func (s *Service) launchProcess(_ context.Context, job storage.Job, token string) (Handle, error) {
	artifact, err := WriteWorkerSpec(s.cfg.ArtifactDir, WorkerSpec{
		JobID:      job.ID,
		Token:      token,
		ConfigPath: s.cfg.ConfigPath,
	})
	if err != nil {
		return nil, fmt.Errorf("write worker spec: %w", err)
	}

	// The worker owns the job from here; it must not die with the daemon's
	// dispatch context, so the command is intentionally not ctx-bound.
	cmd := exec.Command(s.cfg.WorkerBinary, "-job", artifact)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = os.Remove(artifact)
		return nil, fmt.Errorf("spawn worker: %w", err)
	}

	s.log.Info("worker process started",
		logx.String("job", job.ID),
		logx.String("token", token),
		logx.Int("pid", cmd.Process.Pid),
	)
	return &processHandle{cmd: cmd, artifact: artifact}, nil
}

type processHandle struct {
	cmd      *exec.Cmd
	artifact string
}

func (h *processHandle) Wait() error { return h.cmd.Wait() }

// Terminate sends SIGTERM so the worker can close its browser profile and
// write a terminal status before exiting.
func (h *processHandle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *processHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *processHandle) Cleanup() {
	if h.artifact != "" {
		_ = os.Remove(h.artifact)
	}
}
