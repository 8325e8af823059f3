package launch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WorkerSpec is the temp artifact handed to the out-of-process worker.
// It carries everything the worker needs to run without ambient state:
// the job, its assigned profile token, and the daemon config to load.
type WorkerSpec struct {
	JobID      string `json:"job_id"`
	Token      string `json:"token"`
	ConfigPath string `json:"config_path"`
}

// WriteWorkerSpec writes the spec as a uniquely named JSON file under dir
// (or the OS temp dir when dir is empty) and returns its path.
func WriteWorkerSpec(dir string, spec WorkerSpec) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "scrape-job-"+uuid.NewString()+".json")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// ReadWorkerSpec loads and validates a worker spec artifact.
func ReadWorkerSpec(path string) (WorkerSpec, error) {
	var spec WorkerSpec
	b, err := os.ReadFile(path)
	if err != nil {
		return spec, err
	}
	if err := json.Unmarshal(b, &spec); err != nil {
		return spec, fmt.Errorf("decode worker spec %s: %w", path, err)
	}
	if spec.JobID == "" || spec.Token == "" {
		return spec, fmt.Errorf("worker spec %s: job_id and token are required", path)
	}
	return spec, nil
}
