package fetch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/edgefetch/internal/tools"
	"github.com/rs/zerolog/log"
)

// ToolInvoker retrieves media through an external downloader executable
// (yt-dlp by default) invoked as `<binary> -q -o <path> <url>`.
type ToolInvoker struct {
	Binary string
	Runner tools.CommandRunner
}

func NewToolInvoker(binary string, runner tools.CommandRunner) *ToolInvoker {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &ToolInvoker{Binary: binary, Runner: runner}
}

func (t *ToolInvoker) Fetch(ctx context.Context, req Request) string {
	label := strings.ToLower(req.Spec.Label)
	path := req.TargetPath()
	if err := os.MkdirAll(req.ResolvedDir(), 0o755); err != nil {
		return fmt.Sprintf("Error downloading %s: %v", label, err)
	}
	_, stderr, code, err := t.Runner.Run(ctx, t.Binary, "-q", "-o", path, strings.TrimSpace(req.URL))
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		log.Warn().
			Str("kind", string(req.Spec.Kind)).
			Str("binary", t.Binary).
			Int32("exit_code", code).
			Err(err).
			Msg("external downloader failed")
		return fmt.Sprintf("Error downloading %s: %s", label, msg)
	}
	return fmt.Sprintf("%s downloaded successfully as %s", req.Spec.Label, path)
}
