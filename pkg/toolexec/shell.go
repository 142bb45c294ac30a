package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// DefaultShellTimeout bounds shell commands that pass no timeout.
const DefaultShellTimeout = 60 * time.Second

// denyPatterns blocks obviously destructive commands before they run.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bdel\s+/[fq]\b`),
	regexp.MustCompile(`\brmdir\s+/s\b`),
	regexp.MustCompile(`\b(format|mkfs|diskpart)\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
}

// ShellOptions configures the exec tool.
type ShellOptions struct {
	Workspace string
	Restrict  bool // Confine the working directory to the workspace
	Timeout   time.Duration
}

// GuardCommand rejects commands matching the destructive denylist.
func GuardCommand(command string) error {
	for _, pattern := range denyPatterns {
		if pattern.MatchString(command) {
			return fmt.Errorf("command blocked by safety policy: matches %q", pattern.String())
		}
	}
	return nil
}

// RegisterShellTool registers the exec tool.
func RegisterShellTool(executor *Executor, opts ShellOptions) error {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultShellTimeout
	}

	return executor.Register(ToolDefinition{
		Name:        "exec",
		Description: "Execute a shell command and return its output. Use with care.",
		Timeout:     opts.Timeout,
		Parameters: []ToolParameter{
			{Name: "command", Type: "string", Description: "Shell command to execute", Required: true},
			{Name: "working_dir", Type: "string", Description: "Optional working directory", Required: false},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			command, _ := params["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return nil, fmt.Errorf("command is required")
			}
			if err := GuardCommand(command); err != nil {
				return nil, err
			}

			cwd := opts.Workspace
			if raw, ok := params["working_dir"].(string); ok && strings.TrimSpace(raw) != "" {
				resolved, err := resolvePath(FSOptions{Workspace: opts.Workspace, Restrict: opts.Restrict}, raw)
				if err != nil {
					return nil, err
				}
				cwd = resolved
			}

			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = cwd

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			runErr := cmd.Run()
			if ctx.Err() == context.DeadlineExceeded {
				return nil, fmt.Errorf("command timed out")
			}

			var parts []string
			if stdout.Len() > 0 {
				parts = append(parts, stdout.String())
			}
			if text := strings.TrimSpace(stderr.String()); text != "" {
				parts = append(parts, "STDERR:\n"+stderr.String())
			}
			if runErr != nil {
				if exitErr, ok := runErr.(*exec.ExitError); ok {
					parts = append(parts, fmt.Sprintf("\nExit code: %d", exitErr.ExitCode()))
				} else {
					return nil, runErr
				}
			}
			if len(parts) == 0 {
				return "(no output)", nil
			}
			return strings.Join(parts, "\n"), nil
		},
	})
}
