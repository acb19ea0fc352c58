package convert

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// runTool invokes an external conversion tool through a scoped temp
// directory: the input is written to a unique directory, the tool runs with
// {input}, {output} and {dir} placeholders expanded, and the directory is
// removed on every exit path. Concurrent conversions never collide because
// each call owns its directory.
func runTool(ctx context.Context, logger *slog.Logger, tool string, args []string, input []byte, inExt, outExt string) ([]byte, error) {
	dir, err := os.MkdirTemp("", "regsift-convert-*")
	if err != nil {
		return nil, fmt.Errorf("%w: temp dir: %v", ErrConversionFailed, err)
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "source"+inExt)
	outPath := filepath.Join(dir, "source"+outExt)
	if err := os.WriteFile(inPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write input: %v", ErrConversionFailed, err)
	}

	argv := make([]string, len(args))
	for i, a := range args {
		a = strings.ReplaceAll(a, "{input}", inPath)
		a = strings.ReplaceAll(a, "{output}", outPath)
		a = strings.ReplaceAll(a, "{dir}", dir)
		argv[i] = a
	}

	cmd := exec.CommandContext(ctx, tool, argv...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logger.Warn("convert: tool failed",
			"tool", tool, "error", err, "stderr", strings.TrimSpace(stderr.String()))
		return nil, fmt.Errorf("%w: %s: %v", ErrConversionFailed, tool, err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s produced no output: %v", ErrConversionFailed, tool, err)
	}
	return out, nil
}
