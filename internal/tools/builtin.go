package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/Thaura644/llm-conduit/internal/logging"
)

// ReadFileTool returns the tool for reading file contents.
func ReadFileTool() *Tool {
	return &Tool{
		Name:        "read_file",
		Description: "Read the contents of a file",
		Execute:     executeReadFile,
		Schema: Schema{
			Required: []string{"path"},
			Properties: map[string]Property{
				"path": {Type: "string", Description: "The file path to read"},
			},
		},
	}
}

func executeReadFile(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}

	logging.ToolsDebug("read_file: path=%s", path)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return string(content), nil
}

// WriteFileTool returns the tool for writing file contents. Writes are
// sensitive and gate on the literal target path.
func WriteFileTool() *Tool {
	return &Tool{
		Name:        "write_file",
		Description: "Write content to a file, replacing any existing content",
		Sensitive:   true,
		ResourceKey: func(args map[string]any) string {
			path, _ := args["path"].(string)
			return path
		},
		Execute: executeWriteFile,
		Schema: Schema{
			Required: []string{"path", "content"},
			Properties: map[string]Property{
				"path":    {Type: "string", Description: "The file path to write"},
				"content": {Type: "string", Description: "The content to write"},
			},
		},
	}
}

func executeWriteFile(ctx context.Context, args map[string]any) (any, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	content, _ := args["content"].(string)

	logging.ToolsDebug("write_file: path=%s bytes=%d", path, len(content))

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

// ShellResourceKey derives the permission-gate key for a shell command.
func ShellResourceKey(command string) string {
	return "cmd:" + command
}

// RunShellTool returns the tool for executing shell commands. Execution
// is sensitive and gates on the literal command text.
func RunShellTool() *Tool {
	return &Tool{
		Name:        "run_shell",
		Description: "Execute a shell command and return its output",
		Sensitive:   true,
		ResourceKey: func(args map[string]any) string {
			command, _ := args["command"].(string)
			return ShellResourceKey(command)
		},
		Execute: executeRunShell,
		Schema: Schema{
			Required: []string{"command"},
			Properties: map[string]Property{
				"command":         {Type: "string", Description: "The command to execute"},
				"working_dir":     {Type: "string", Description: "Working directory for the command"},
				"timeout_seconds": {Type: "integer", Description: "Timeout in seconds (default: 60)", Default: 60},
			},
		},
	}
}

func executeRunShell(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := 60
	if t, ok := args["timeout_seconds"].(int); ok && t > 0 {
		timeout = t
	} else if t, ok := args["timeout_seconds"].(float64); ok && t > 0 {
		// JSON numbers decode as float64.
		timeout = int(t)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	logging.ToolsDebug("run_shell: cmd=%s timeout=%ds", command, timeout)

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	if wd, ok := args["working_dir"].(string); ok && wd != "" {
		cmd.Dir = wd
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := map[string]any{
		"stdout": stdout.String(),
		"stderr": stderr.String(),
	}
	if err != nil {
		return result, fmt.Errorf("command failed: %s", strings.TrimSpace(err.Error()))
	}
	return result, nil
}
