// Package rootshell runs commands through one long-lived elevated shell.
//
// Stdout and stderr of the shell are independent pipes with no ordering
// between them, so a command's boundaries and exit status cannot be read off
// either stream alone. Every command is wrapped so that a fresh random marker
// is echoed to both streams before it runs and again, followed by the exit
// status, after it finishes. A result is only trusted when all four markers
// arrive and both streams report the same status.
package rootshell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"grimm.is/wgtunnel/internal/brand"
	"grimm.is/wgtunnel/internal/logging"
	"grimm.is/wgtunnel/internal/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of the shell process.
type State int

const (
	StateDown State = iota
	StateStarting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Options configures a Shell.
type Options struct {
	// Command is the argv that yields an elevated shell reading from stdin.
	Command []string
	// BinDir is prepended to PATH inside the shell.
	BinDir string
	// TempDir is exported as TMPDIR inside the shell.
	TempDir string
	Logger  *logging.Logger
	Metrics *metrics.Registry
	// Starter spawns the process; ExecStarter when nil.
	Starter Starter
}

// DefaultOptions returns options for "su" with the product directories.
func DefaultOptions() Options {
	return Options{
		Command: []string{"su"},
		BinDir:  brand.BinDir(),
		TempDir: brand.TempDir(),
	}
}

// Shell owns one elevated shell process. Run may be called from any
// goroutine; calls are serialized.
type Shell struct {
	opts      Options
	logger    *logging.Logger
	newMarker func() string

	mu     sync.Mutex
	state  State
	proc   Process
	stdin  io.Writer
	stdout *bufio.Reader
	stderr *bufio.Reader
}

// New returns a Shell in StateDown. Nothing is spawned until Start or Run.
func New(opts Options) *Shell {
	if len(opts.Command) == 0 {
		opts.Command = []string{"su"}
	}
	if opts.Starter == nil {
		opts.Starter = ExecStarter
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("rootshell")
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	return &Shell{
		opts:      opts,
		logger:    opts.Logger,
		newMarker: uuid.NewString,
	}
}

// State returns the current lifecycle state.
func (s *Shell) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the shell is ready for commands.
func (s *Shell) IsRunning() bool {
	return s.State() == StateReady
}

// Start spawns the shell if it is not already running.
func (s *Shell) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start(ctx)
}

func (s *Shell) start(ctx context.Context) error {
	if s.state == StateReady {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = StateStarting

	err := s.spawn(ctx)
	if err != nil {
		s.teardown(StateFailed)
		s.opts.Metrics.ShellStarts.WithLabelValues("error").Inc()
		s.logger.Warn("Privileged shell failed to start", "error", err)
		return err
	}
	s.state = StateReady
	s.opts.Metrics.ShellStarts.WithLabelValues("success").Inc()
	s.logger.Debug("Privileged shell started", "command", strings.Join(s.opts.Command, " "))
	return nil
}

func (s *Shell) spawn(ctx context.Context) error {
	if s.opts.BinDir != "" {
		if err := os.MkdirAll(s.opts.BinDir, 0o755); err != nil {
			return newError(ReasonCreateBinDir, err)
		}
	}
	if s.opts.TempDir != "" {
		if err := os.MkdirAll(s.opts.TempDir, 0o700); err != nil {
			return newError(ReasonCreateTempDir, err)
		}
	}

	proc, err := s.opts.Starter(ctx, s.opts.Command)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return newError(ReasonNoRootAccess, err)
		}
		return newError(ReasonStartFailed, err)
	}
	s.proc = proc
	s.stdin = proc.Stdin()
	s.stdout = bufio.NewReader(proc.Stdout())
	s.stderr = bufio.NewReader(proc.Stderr())

	if _, err := io.WriteString(s.stdin, s.preamble()); err != nil {
		return newError(ReasonStartFailed, err)
	}

	uid, ok := readLine(s.stdout)
	if !ok {
		// The shell went away before answering; su prints the refusal on stderr.
		var lines []string
		for {
			line, ok := readLine(s.stderr)
			if !ok {
				break
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			return newError(ReasonNoRootAccess, errors.New("shell exited during startup"))
		}
		return newError(ReasonNoRootAccess, errors.New(strings.Join(lines, "\n")))
	}
	if uid != "0" {
		return newError(ReasonNoRootAccess, fmt.Errorf("shell reports uid %q", uid))
	}
	return nil
}

func (s *Shell) preamble() string {
	var exports []string
	if s.opts.BinDir != "" {
		exports = append(exports, "PATH="+shellQuote(s.opts.BinDir)+`:"$PATH"`)
	}
	if s.opts.TempDir != "" {
		exports = append(exports, "TMPDIR="+shellQuote(s.opts.TempDir))
	}
	if len(exports) == 0 {
		return "id -u\n"
	}
	return "export " + strings.Join(exports, " ") + "; id -u\n"
}

// Stop terminates the shell. The next Run starts a new one.
func (s *Shell) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown(StateDown)
}

func (s *Shell) teardown(next State) {
	if s.proc != nil {
		if err := s.proc.Kill(); err != nil {
			s.logger.Debug("Failed to kill privileged shell", "error", err)
		}
		go s.proc.Wait() //nolint:errcheck
	}
	s.proc = nil
	s.stdin = nil
	s.stdout = nil
	s.stderr = nil
	s.state = next
}

// Run executes command in the elevated shell and returns its exit code.
// When output is non-nil the command's stdout lines are appended to it.
// A non-zero exit code is not an error; errors mean the shell could not be
// started or the result could not be trusted. ctx is honoured only until the
// command has been sent.
func (s *Shell) Run(ctx context.Context, output *[]string, command string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.start(ctx); err != nil {
		return -1, err
	}

	start := time.Now()
	code, err := s.exec(output, command)
	s.opts.Metrics.RecordShellCommand(code, time.Since(start))
	if err != nil {
		s.logger.Warn("Privileged shell lost synchronization", "command", command, "error", err)
		s.teardown(StateFailed)
		return -1, err
	}
	s.logger.Debug("Command finished", "command", command, "exit", code)
	return code, nil
}

type streamResult struct {
	markers int
	status  int
	parsed  bool
}

func (s *Shell) exec(output *[]string, command string) (int, error) {
	marker := s.newMarker()
	script := fmt.Sprintf("echo %[1]s; echo %[1]s >&2; (%[2]s); ret=$?; echo %[1]s $ret; echo %[1]s $ret >&2\n",
		marker, command)
	s.logger.Debug("Running command", "command", command)
	if _, err := io.WriteString(s.stdin, script); err != nil {
		return -1, newError(ReasonStartFailed, err)
	}

	var out, errs streamResult
	var g errgroup.Group
	g.Go(func() error {
		out = s.readStream(s.stdout, marker, output, "stdout")
		return nil
	})
	g.Go(func() error {
		errs = s.readStream(s.stderr, marker, nil, "stderr")
		return nil
	})
	_ = g.Wait()

	if seen := out.markers + errs.markers; seen != 4 {
		return -1, newError(ReasonMarkerCount, fmt.Errorf("saw %d of 4 markers", seen))
	}
	if !out.parsed || !errs.parsed {
		return -1, newError(ReasonExitStatusRead, errors.New("unparseable exit status"))
	}
	if out.status != errs.status {
		return -1, newError(ReasonExitStatusRead,
			fmt.Errorf("stdout reports %d, stderr reports %d", out.status, errs.status))
	}
	return out.status, nil
}

// readStream consumes one stream up to and including the closing marker.
// Lines between the opening and closing marker are the command's output.
func (s *Shell) readStream(r *bufio.Reader, marker string, output *[]string, name string) streamResult {
	var res streamResult
	for {
		line, ok := readLine(r)
		if !ok {
			return res
		}
		if rest, found := strings.CutPrefix(line, marker); found {
			res.markers++
			if rest == "" {
				continue
			}
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			res.status, res.parsed = n, err == nil
			return res
		}
		if res.markers == 0 {
			continue
		}
		if output != nil {
			*output = append(*output, line)
		}
		s.logger.Debug("Command output", "stream", name, "line", line)
	}
}

// readLine returns the next line without its terminator. A final line
// without a newline is still returned; false means the stream ended.
func readLine(r *bufio.Reader) (string, bool) {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
