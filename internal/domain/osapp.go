package domain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/opencli/daemon/internal/policy"
	"github.com/opencli/daemon/internal/shared"
)

const (
	defaultShellTimeout = 30 * time.Second
	maxShellTimeout      = 120 * time.Second
	maxShellOutput       = 8 * 1024
)

var shellDenyList = []string{"rm", "sudo", "kill", "chmod", "chown", "mkfs", "dd", "shutdown", "reboot"}

// OSAppDomain runs short host-automation scripts, either directly on the
// host (deny-listed, redacted, output-capped) or inside a disposable
// Docker sandbox when the caller asks for isolation.
type OSAppDomain struct {
	policy  policy.Checker
	docker  *client.Client
	image   string
	network string
	memMB   int64
}

func NewOSAppDomain(p policy.Checker) *OSAppDomain {
	return &OSAppDomain{
		policy:  p,
		image:   "alpine:latest",
		network: "none",
		memMB:   512,
	}
}

// WithDockerClient attaches a docker client for sandboxed execution. When
// absent, osapp_sandbox_exec fails with a clear error instead of panicking.
func (d *OSAppDomain) WithDockerClient(c *client.Client) *OSAppDomain {
	d.docker = c
	return d
}

func (d *OSAppDomain) ID() string { return "osapp" }

func (d *OSAppDomain) TaskTypes() []string {
	return []string{"osapp_exec", "osapp_sandbox_exec"}
}

func (d *OSAppDomain) DisplayConfigs() map[string]DisplayConfig {
	return map[string]DisplayConfig{
		"osapp_exec":         {CardType: "shell", Icon: "terminal", TitleTemplate: "Run {{command}}", Color: "#e8590c"},
		"osapp_sandbox_exec": {CardType: "shell", Icon: "box", TitleTemplate: "Sandboxed {{command}}", Color: "#e8590c"},
	}
}

func (d *OSAppDomain) ExecuteTask(ctx context.Context, taskType string, taskData map[string]any) TaskResult {
	command, _ := taskData["command"].(string)
	if command == "" {
		return Fail(fmt.Sprintf("%s requires a string \"command\" field", taskType))
	}

	switch taskType {
	case "osapp_exec":
		if d.policy != nil && !d.policy.AllowCapability("tools.osapp_exec") {
			return Fail("capability tools.osapp_exec is not permitted by policy")
		}
		return d.execHost(ctx, command)
	case "osapp_sandbox_exec":
		if d.policy != nil && !d.policy.AllowCapability("tools.osapp_sandbox") {
			return Fail("capability tools.osapp_sandbox is not permitted by policy")
		}
		return d.execSandbox(ctx, command)
	default:
		return Fail(fmt.Sprintf("osapp domain does not handle %s", taskType))
	}
}

func (d *OSAppDomain) execHost(ctx context.Context, command string) TaskResult {
	if err := checkDenyList(command); err != nil {
		return Fail(err.Error())
	}

	timeout := defaultShellTimeout
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if err != nil && runCtx.Err() != nil {
		return Fail(fmt.Sprintf("command timed out after %s", timeout))
	}

	return Ok(map[string]any{
		"stdout":    truncate(shared.Redact(stdout.String())),
		"stderr":    truncate(shared.Redact(stderr.String())),
		"exit_code": exitCode,
	})
}

func (d *OSAppDomain) execSandbox(ctx context.Context, command string) TaskResult {
	if d.docker == nil {
		return Fail("osapp sandbox is not configured (no docker client)")
	}

	resp, err := d.docker.ContainerCreate(ctx, &container.Config{
		Image: d.image,
		Cmd:   []string{"sh", "-c", command},
	}, &container.HostConfig{
		AutoRemove:  true,
		NetworkMode: container.NetworkMode(d.network),
		Resources:   container.Resources{Memory: d.memMB * 1024 * 1024},
	}, nil, nil, "")
	if err != nil {
		return Fail(fmt.Sprintf("create sandbox container: %v", err))
	}

	if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return Fail(fmt.Sprintf("start sandbox container: %v", err))
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxShellTimeout)
	defer cancel()

	statusCh, errCh := d.docker.ContainerWait(waitCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			_ = d.docker.ContainerKill(ctx, resp.ID, "SIGKILL")
			return Fail(fmt.Sprintf("wait for sandbox container: %v", err))
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-waitCtx.Done():
		_ = d.docker.ContainerKill(ctx, resp.ID, "SIGKILL")
		return Fail("sandbox container timed out")
	}

	logs, err := d.docker.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return Fail(fmt.Sprintf("read sandbox logs: %v", err))
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return Fail(fmt.Sprintf("demux sandbox logs: %v", err))
	}

	return Ok(map[string]any{
		"stdout":    truncate(shared.Redact(stdout.String())),
		"stderr":    truncate(shared.Redact(stderr.String())),
		"exit_code": exitCode,
	})
}

func checkDenyList(command string) error {
	for _, segment := range splitCommandSegments(command) {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}
		head := fields[0]
		for _, denied := range shellDenyList {
			if head == denied {
				return fmt.Errorf("command %q is not permitted", head)
			}
		}
	}
	return nil
}

// splitCommandSegments splits a shell command on pipe and logical-operator
// boundaries so the deny list sees every sub-command a shell would run,
// not just the first token of the whole line.
func splitCommandSegments(command string) []string {
	replacer := strings.NewReplacer("&&", "|", "||", "|", ";", "|")
	return strings.Split(replacer.Replace(command), "|")
}

const defaultAppleScriptTimeout = 30 * time.Second

// runAppleScript shells out to `osascript -e <script>`, capturing stdout
// and discarding a non-zero exit as a failure. It is the shared transport
// for every Apple-app-scripting domain (reminders, calendar, contacts,
// messages, email) — they differ only in the script they build and the
// fields they extract from stdout.
func runAppleScript(ctx context.Context, script string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = defaultAppleScriptTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "osascript", "-e", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return "", fmt.Errorf("osascript timed out after %s", timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("osascript: %s", msg)
	}
	return stdout.String(), nil
}

func truncate(s string) string {
	if len(s) <= maxShellOutput {
		return s
	}
	return s[:maxShellOutput] + "...[truncated]"
}
