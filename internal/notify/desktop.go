package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Desktop shows notifications through osascript on macOS and notify-send on
// Linux. Other platforms are silently skipped.
type Desktop struct {
	goos string
	run  func(ctx context.Context, name string, args ...string) error
}

func NewDesktop() *Desktop {
	return &Desktop{goos: runtime.GOOS, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

func (d *Desktop) Send(ctx context.Context, n Notification) error {
	name, args, ok := desktopCommand(d.goos, n)
	if !ok {
		return nil
	}
	if err := d.run(ctx, name, args...); err != nil {
		return fmt.Errorf("desktop notification via %s: %w", name, err)
	}
	return nil
}

// desktopCommand builds the command line for goos. The summary table does not
// fit a popup, so the body is the short fields on one line.
func desktopCommand(goos string, n Notification) (string, []string, bool) {
	body := shortFields(n.Fields)
	switch goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s subtitle %s",
			appleScriptString(body), appleScriptString("batchctl"), appleScriptString(n.Title))
		return "osascript", []string{"-e", script}, true
	case "linux":
		return "notify-send", []string{
			"--app-name=batchctl",
			"--urgency=" + urgency(n.Level),
			"--icon=" + icon(n.Level),
			n.Title, body,
		}, true
	default:
		return "", nil, false
	}
}

func shortFields(fields []Field) string {
	var parts []string
	for _, f := range fields {
		if f.Short {
			parts = append(parts, f.Name+": "+f.Value)
		}
	}
	return strings.Join(parts, ", ")
}

func appleScriptString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func urgency(l Level) string {
	switch l {
	case LevelError:
		return "critical"
	case LevelWarning:
		return "normal"
	default:
		return "low"
	}
}

func icon(l Level) string {
	switch l {
	case LevelSuccess:
		return "dialog-positive"
	case LevelWarning:
		return "dialog-warning"
	case LevelError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
