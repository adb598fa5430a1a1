package main

import (
	"strings"
	"testing"

	"github.com/hochfrequenz/batch-engine/internal/batch"
	"github.com/hochfrequenz/batch-engine/internal/definition"
)

func TestRootCommands(t *testing.T) {
	want := []string{"run", "interrupt", "history", "show", "cleanup", "types", "validate", "tui", "serve", "daemon"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestCheckSchedule(t *testing.T) {
	cfg, err := definition.Parse([]byte(`
name: warehouse
tasks:
  - name: Hold
    type: wait
    parameters:
      duration: 1s
batches:
  - name: nightly-load
    elements:
      - task: Hold
`))
	if err != nil {
		t.Fatal(err)
	}
	catalog, err := definition.NewCatalog(cfg)
	if err != nil {
		t.Fatal(err)
	}

	ok := &batch.ScheduleConfig{Batches: []batch.BatchConfig{{Name: "nightly-load", Cron: "0 2 * * *"}}}
	if err := checkSchedule(catalog, ok); err != nil {
		t.Errorf("checkSchedule() = %v, want nil", err)
	}

	bad := &batch.ScheduleConfig{Batches: []batch.BatchConfig{
		{Name: "nightly-load", Cron: "0 2 * * *"},
		{Name: "hourly-sync", Cron: "0 * * * *"},
	}}
	err = checkSchedule(catalog, bad)
	if err == nil || !strings.Contains(err.Error(), "hourly-sync") {
		t.Errorf("checkSchedule() = %v, want error naming hourly-sync", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("line one\nline two is long", 12); got != "line one ..." {
		t.Errorf("truncate() = %q", got)
	}
}
