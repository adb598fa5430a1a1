//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// binaryPath returns the path to the built CLI binary
func binaryPath(t *testing.T) string {
	t.Helper()
	// Look for the binary in common locations
	paths := []string{
		"../batchctl",
		"./batchctl",
		filepath.Join(os.Getenv("GOPATH"), "bin", "batchctl"),
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			abs, _ := filepath.Abs(p)
			return abs
		}
	}

	// Try to build it
	t.Log("Binary not found, building...")
	cmd := exec.Command("go", "build", "-o", "../batchctl", "../cmd/batchctl")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, out)
	}

	abs, _ := filepath.Abs("../batchctl")
	return abs
}

// env is one isolated batchctl setup
type env struct {
	binary string
	config string
	out    string
}

// newEnv creates a config pointing at copied fixtures and a fresh ledger
func newEnv(t *testing.T) *env {
	t.Helper()
	out := t.TempDir()
	defs := CopyFixturesToTemp(t, out)
	configPath := TempConfigPath(t)

	config := `[general]
database_path = "` + TempDBPath(t) + `"
definitions_dir = "` + defs + `"
schedule_path = "` + filepath.Join(t.TempDir(), "schedule.toml") + `"

[logging]
level = "warn"

[notifications]
desktop = false

[web]
port = 8080
host = "127.0.0.1"
`

	if err := os.WriteFile(configPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	return &env{binary: binaryPath(t), config: configPath, out: out}
}

func (e *env) run(args ...string) (string, error) {
	args = append(args, "--config", e.config)
	out, err := exec.Command(e.binary, args...).CombinedOutput()
	return string(out), err
}

// runID extracts the batch run ID from a printed summary
func runID(t *testing.T, output string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "Run:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "Run:"))
		}
	}
	t.Fatalf("no run ID in output: %s", output)
	return ""
}

// TestCLI_Types tests the types command
func TestCLI_Types(t *testing.T) {
	e := newEnv(t)

	output, err := e.run("types")
	if err != nil {
		t.Fatalf("types command failed: %v\n%s", err, output)
	}

	for _, name := range []string{"exec", "file.promote", "file.stage", "sql.exec", "wait"} {
		if !strings.Contains(output, name) {
			t.Errorf("Expected type %s in output, got: %s", name, output)
		}
	}
}

// TestCLI_Validate tests the validate command
func TestCLI_Validate(t *testing.T) {
	e := newEnv(t)

	output, err := e.run("validate")
	if err != nil {
		t.Fatalf("validate command failed: %v\n%s", err, output)
	}

	if !strings.Contains(output, "OK: 1 configurations, 2 batches, 0 scheduled") {
		t.Errorf("unexpected output: %s", output)
	}
}

// TestCLI_RunCommits runs a batch whose tasks all commit
func TestCLI_RunCommits(t *testing.T) {
	e := newEnv(t)

	output, err := e.run("run", "publish-report")
	if err != nil {
		t.Fatalf("run command failed: %v\n%s", err, output)
	}

	if !strings.Contains(output, "Status:    COMMITTED") {
		t.Errorf("Expected committed status, got: %s", output)
	}

	data, err := os.ReadFile(filepath.Join(e.out, "report.csv"))
	if err != nil {
		t.Fatalf("report not promoted: %v", err)
	}
	if string(data) != "id,amount\n1,42\n" {
		t.Errorf("report content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(e.out, "report.csv.staged")); !os.IsNotExist(err) {
		t.Error("staged file should be gone after promotion")
	}
}

// TestCLI_RunRollsBack runs a batch whose last task fails
func TestCLI_RunRollsBack(t *testing.T) {
	e := newEnv(t)

	output, err := e.run("run", "publish-broken")
	if err == nil {
		t.Fatalf("run of a failing batch should exit non-zero:\n%s", output)
	}

	if !strings.Contains(output, "Status:    FAILED") {
		t.Errorf("Expected failed status, got: %s", output)
	}
	if strings.Count(output, "ROLLED BACK") != 2 {
		t.Errorf("Expected two rolled back runs, got: %s", output)
	}

	if _, err := os.Stat(filepath.Join(e.out, "report.csv")); !os.IsNotExist(err) {
		t.Error("promoted report should be removed by the rollback")
	}
}

// TestCLI_HistoryAndShow tests history and show after two runs
func TestCLI_HistoryAndShow(t *testing.T) {
	e := newEnv(t)

	first, err := e.run("run", "publish-report")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, first)
	}
	id := runID(t, first)
	if out, err := e.run("run", "publish-broken"); err == nil {
		t.Fatalf("broken run should fail:\n%s", out)
	}

	output, err := e.run("history")
	if err != nil {
		t.Fatalf("history command failed: %v\n%s", err, output)
	}
	for _, want := range []string{"ID", "BATCH", "publish-report", "publish-broken", "COMMITTED", "FAILED"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in history, got: %s", want, output)
		}
	}

	output, err = e.run("history", "--batch", "publish-report")
	if err != nil {
		t.Fatalf("history --batch failed: %v\n%s", err, output)
	}
	if strings.Contains(output, "publish-broken") {
		t.Errorf("filter should exclude publish-broken, got: %s", output)
	}

	output, err = e.run("show", id)
	if err != nil {
		t.Fatalf("show command failed: %v\n%s", err, output)
	}
	for _, want := range []string{"Batch:     publish-report", "Workspace: reports", "Stage", "Promote"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in show output, got: %s", want, output)
		}
	}

	if output, err := e.run("show", "does-not-exist"); err == nil {
		t.Errorf("show of an unknown run should fail: %s", output)
	}
}

// TestCLI_Cleanup removes the artifacts of a committed batch
func TestCLI_Cleanup(t *testing.T) {
	e := newEnv(t)

	if out, err := e.run("run", "publish-report"); err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	output, err := e.run("cleanup", "--batch", "publish-report")
	if err != nil {
		t.Fatalf("cleanup command failed: %v\n%s", err, output)
	}
	if _, err := os.Stat(filepath.Join(e.out, "report.csv")); !os.IsNotExist(err) {
		t.Error("cleanup should remove the promoted report")
	}

	// Idempotent
	output, err = e.run("cleanup", "Stage", "--configuration", "warehouse")
	if err != nil {
		t.Fatalf("second cleanup failed: %v\n%s", err, output)
	}
}

// TestCLI_InterruptUnknown tests interrupting a run that does not exist
func TestCLI_InterruptUnknown(t *testing.T) {
	e := newEnv(t)

	output, err := e.run("interrupt", "nope")
	if err == nil {
		t.Fatalf("interrupt of an unknown run should fail: %s", output)
	}
	if !strings.Contains(output, "batch run nope is not running") {
		t.Errorf("unexpected output: %s", output)
	}
}
