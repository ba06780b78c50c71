package claude

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeffjacobsen/orchestrator/internal/common/logger"
)

// Querier issues a prompt and returns the response stream.
type Querier interface {
	Query(ctx context.Context, prompt string, opts Options) (Stream, error)
}

// Stream yields response messages. Next returns io.EOF once the stream is
// exhausted. Close releases the underlying process; it is safe to call
// more than once.
type Stream interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}

// CLIClient runs queries through the claude binary in streaming JSON mode.
type CLIClient struct {
	binary string
	logger *logger.Logger
}

var _ Querier = (*CLIClient)(nil)

// NewCLIClient returns a client that shells out to the given binary
// ("claude" if empty).
func NewCLIClient(binary string, log *logger.Logger) *CLIClient {
	if binary == "" {
		binary = "claude"
	}
	if log == nil {
		log = logger.Default()
	}
	return &CLIClient{binary: binary, logger: log}
}

// Query starts a CLI subprocess for the prompt and returns its stream.
// The process is killed when ctx is cancelled.
func (c *CLIClient) Query(ctx context.Context, prompt string, opts Options) (Stream, error) {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.Resume != "" {
		args = append(args, "--resume", opts.Resume)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.binary, err)
	}

	c.logger.Debug("Started claude subprocess",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("model", opts.Model),
		zap.Bool("resume", opts.Resume != ""))

	// The prompt goes through stdin so shell argument limits never apply.
	go func() {
		defer stdin.Close()
		_, _ = io.WriteString(stdin, prompt)
	}()

	scanner := bufio.NewScanner(stdout)
	// Tool results can be large; allow frames up to 16MB.
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	return &cliStream{cmd: cmd, scanner: scanner, logger: c.logger}, nil
}

type cliStream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	logger  *logger.Logger

	closeOnce sync.Once
	closeErr  error
	done      bool
}

// Next returns the next decoded frame. Lines that fail to decode are
// skipped with a warning so one malformed frame does not kill the stream.
func (s *cliStream) Next(ctx context.Context) (Message, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("stream read failed: %w", err)
			}
			if err := s.waitProcess(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		line := s.scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		msg, err := DecodeMessage(line)
		if err != nil {
			s.logger.Warn("Skipping undecodable stream frame", zap.Error(err))
			continue
		}
		return msg, nil
	}
}

func (s *cliStream) waitProcess() error {
	err := s.cmd.Wait()
	if err != nil {
		return fmt.Errorf("claude subprocess exited: %w", err)
	}
	return nil
}

// Close kills the subprocess if it is still running.
func (s *cliStream) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil && !s.done {
			_ = s.cmd.Process.Kill()
			_ = s.cmd.Wait()
		}
		s.done = true
	})
	return s.closeErr
}
