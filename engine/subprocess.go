package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/xiaoyuanzhu-com/ccsdk-gateway/log"
)

const (
	// defaultMaxBufferSize bounds a single stream-json line (1MB)
	defaultMaxBufferSize = 1024 * 1024

	// stderrTailSize is how much trailing stderr to keep for error reports
	stderrTailSize = 4 * 1024
)

// CLIEngine runs turns through the claude CLI in print mode with
// stream-json output. Each Stream call spawns one subprocess; context
// cancellation kills it.
type CLIEngine struct {
	CliPath       string
	MaxBufferSize int
}

// NewCLIEngine creates an engine using the given CLI binary ("claude" if empty)
func NewCLIEngine(cliPath string) *CLIEngine {
	if cliPath == "" {
		cliPath = "claude"
	}
	return &CLIEngine{
		CliPath:       cliPath,
		MaxBufferSize: defaultMaxBufferSize,
	}
}

// Stream implements Engine
func (e *CLIEngine) Stream(ctx context.Context, prompt string, opts Options) (<-chan Event, <-chan error) {
	events := make(chan Event, 64)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		if err := e.run(ctx, prompt, opts, events); err != nil {
			errs <- err
		}
	}()

	return events, errs
}

// buildArgs constructs the CLI argument list for one turn
func (e *CLIEngine) buildArgs(prompt string, opts Options) []string {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}

	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.PermissionMode != "" && opts.PermissionMode != "default" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.SystemPromptSuffix != "" {
		args = append(args, "--append-system-prompt", opts.SystemPromptSuffix)
	}
	if opts.ResumeToken != "" {
		args = append(args, "--resume", opts.ResumeToken)
	}
	if len(opts.MCPServers) > 0 {
		if cfg, err := json.Marshal(map[string]any{"mcpServers": opts.MCPServers}); err == nil {
			args = append(args, "--mcp-config", string(cfg))
		}
	}

	args = append(args, prompt)
	return args
}

func (e *CLIEngine) run(ctx context.Context, prompt string, opts Options, events chan<- Event) error {
	args := e.buildArgs(prompt, opts)

	cmd := exec.CommandContext(ctx, e.CliPath, args...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}

	stderr := &tailBuffer{limit: stderrTailSize}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &EngineError{Message: "failed to open stdout pipe", Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return &EngineError{Message: "failed to start engine process", Cause: err}
	}

	maxBuf := e.MaxBufferSize
	if maxBuf <= 0 {
		maxBuf = defaultMaxBufferSize
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxBuf)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		evs, perr := parseLine([]byte(line))
		if perr != nil {
			log.Warn().Err(perr).Msg("dropping unparseable engine event")
			continue
		}
		for _, ev := range evs {
			select {
			case events <- ev:
			case <-ctx.Done():
				cmd.Wait()
				return ErrCancelled
			}
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return ErrCancelled
	}
	if waitErr != nil {
		return &EngineError{
			Message: fmt.Sprintf("engine process failed: %v", waitErr),
			Stderr:  stderr.String(),
			Cause:   waitErr,
		}
	}
	if scanErr != nil {
		return &EngineError{Message: "failed reading engine stream", Cause: scanErr}
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
