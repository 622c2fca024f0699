package ffmpeg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Options locate the binaries and tune encoding
type Options struct {
	BinaryPath  string
	ProbePath   string
	Threads     int
	HWAccel     string
	Preset      string
	VAAPIDevice string
}

// Executor handles all ffmpeg operations with progress streaming
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
	hwaccel     string
	preset      string
	vaapiDevice string

	encodersOnce sync.Once
	encoders     map[string]bool

	probeMu    sync.Mutex
	probeCache map[string]*VideoInfo
}

// New creates an executor, resolving the binaries through PATH
func New(logger zerolog.Logger, opts Options) (*Executor, error) {
	if opts.BinaryPath == "" {
		opts.BinaryPath = "ffmpeg"
	}
	if opts.ProbePath == "" {
		opts.ProbePath = "ffprobe"
	}

	ffmpegPath, err := exec.LookPath(opts.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath(opts.ProbePath)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	if opts.Preset == "" {
		opts.Preset = DefaultPreset
	}
	if opts.HWAccel == "" {
		opts.HWAccel = HWAccelAuto
	}

	return &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     opts.Threads,
		hwaccel:     opts.HWAccel,
		preset:      opts.Preset,
		vaapiDevice: opts.VAAPIDevice,
		probeCache:  make(map[string]*VideoInfo),
	}, nil
}

func (e *Executor) baseArgs(loglevel string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", loglevel}
	if e.threads > 0 {
		args = append(args, "-threads", fmt.Sprintf("%d", e.threads))
	}
	return args
}

// Run executes ffmpeg with the given arguments and streams progress
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	args := append(e.baseArgs("info"), "-progress", "pipe:2")
	args = append(args, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	tail := newTail(20)

	var wg sync.WaitGroup
	wg.Add(2)

	// Stream stderr (progress + logs)
	go func() {
		defer wg.Done()
		e.streamOutput(stderr, opts.ProgressHandler, func(line string) {
			tail.add(line)
			if opts.LogHandler != nil {
				opts.LogHandler(line)
			}
		})
	}()

	go func() {
		defer wg.Done()
		if opts.Stdout != nil {
			_, _ = io.Copy(opts.Stdout, stdout)
			return
		}
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if opts.LogHandler != nil {
				opts.LogHandler(scanner.Text())
			}
		}
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, tail.String())
	}

	e.logger.Debug().Msg("ffmpeg execution completed")
	return nil
}

// streamOutput parses ffmpeg output and calls handlers
func (e *Executor) streamOutput(r io.Reader, progressHandler func(*Progress), logHandler func(string)) {
	scanner := bufio.NewScanner(r)
	progressData := &Progress{}

	for scanner.Scan() {
		line := scanner.Text()

		if logHandler != nil {
			logHandler(line)
		}

		switch {
		case strings.HasPrefix(line, "frame="):
			fmt.Sscanf(line, "frame=%d", &progressData.Frame)
		case strings.HasPrefix(line, "fps="):
			fmt.Sscanf(line, "fps=%f", &progressData.FPS)
		case strings.HasPrefix(line, "bitrate="):
			progressData.Bitrate = value(line)
		case strings.HasPrefix(line, "out_time="):
			progressData.Time = value(line)
		case strings.HasPrefix(line, "speed="):
			progressData.Speed = value(line)
		case strings.HasPrefix(line, "progress="):
			// End of progress block
			if progressHandler != nil && progressData.Frame > 0 {
				progressHandler(progressData)
			}
			progressData = &Progress{}
		}
	}
}

func value(line string) string {
	_, v, _ := strings.Cut(line, "=")
	return strings.TrimSpace(v)
}

// process is a long-running ffmpeg with piped stdin or stdout
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	tail   *tail
	done   chan struct{}
	cancel context.CancelFunc
}

func (e *Executor) start(ctx context.Context, args []string, withStdin, withStdout bool) (*process, error) {
	ctx, cancel := context.WithCancel(ctx)
	full := append(e.baseArgs("error"), args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", full).
		Msg("starting ffmpeg pipe")

	p := &process{
		cmd:    exec.CommandContext(ctx, e.ffmpegPath, full...),
		tail:   newTail(20),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	var err error
	if withStdin {
		if p.stdin, err = p.cmd.StdinPipe(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
		}
	}
	if withStdout {
		if p.stdout, err = p.cmd.StdoutPipe(); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go func() {
		defer close(p.done)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.tail.add(scanner.Text())
			e.logger.Debug().Str("ffmpeg", scanner.Text()).Msg("pipe output")
		}
	}()
	return p, nil
}

// wait closes stdin and waits for the process to finish
func (p *process) wait() error {
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	<-p.done
	err := p.cmd.Wait()
	p.cancel()
	if err != nil {
		return fmt.Errorf("ffmpeg exited: %w: %s", err, p.tail.String())
	}
	return nil
}

// kill stops the process without waiting for a clean exit
func (p *process) kill() {
	p.cancel()
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.stdout != nil {
		_ = p.stdout.Close()
	}
	<-p.done
	_ = p.cmd.Wait()
}

// tail keeps the last lines of diagnostics for error messages
type tail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTail(n int) *tail {
	return &tail{max: n}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "; ")
}

// ErrNoEncoder means no usable H.264 encoder was found
var ErrNoEncoder = errors.New("no h264 encoder available")
