package ocr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const maxStderrBytes = 8 << 10

// Runner invokes one of the external extraction tools (pdftotext, pdftoppm, tesseract).
type Runner interface {
	Run(ctx context.Context, tool string, args ...string) ([]byte, error)
}

// ToolError is a failed tool invocation with its captured stderr.
type ToolError struct {
	Tool   string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Stderr)
}

func (e *ToolError) Unwrap() error { return e.Err }

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	start := time.Now()
	r.logger.Debug("ocr.tool.start", "tool", tool, "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, tool, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	if err := cmd.Run(); err != nil {
		stderr := strings.TrimSpace(errb.String())
		if len(stderr) > maxStderrBytes {
			stderr = stderr[:maxStderrBytes] + "...(truncated)"
		}
		r.logger.Warn("ocr.tool.failed", "tool", tool, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return nil, &ToolError{Tool: tool, Stderr: stderr, Err: err}
	}
	r.logger.Debug("ocr.tool.ok", "tool", tool, "duration_ms", time.Since(start).Milliseconds(), "stdout_bytes", out.Len())
	return out.Bytes(), nil
}
