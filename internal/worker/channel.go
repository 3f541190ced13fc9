package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
	"github.com/LumiOwO/LumiTracker-sub000/internal/infra"
)

const (
	messageBuffer = 256
	maxLineSize   = 4 * 1024 * 1024
)

// Channel is the domain.WorkerChannel backed by a real child process.
// One Channel serves exactly one worker instance.
type Channel struct {
	cfg       Config
	handshake *infra.HandshakeFile
	logger    *zap.Logger

	mu      sync.Mutex
	inited  bool
	started bool
	killed  bool
	hs      domain.InitHandshake
	cmd     *exec.Cmd
	conn    net.Conn

	sendMu sync.Mutex

	messages  chan domain.Inbound
	closeMsgs sync.Once
	done      chan struct{}
	closeDone sync.Once
	exited    atomic.Bool
	exitCode  atomic.Int64
	pid       atomic.Int64
	killOnce  sync.Once

	// detached is closed when stderr is abandoned after the grace period.
	detached     chan struct{}
	detachedOnce sync.Once
}

// New creates an idle channel. Nothing is started until Init and Start.
func New(cfg Config, logger *zap.Logger) *Channel {
	c := &Channel{
		cfg:       cfg,
		handshake: infra.NewHandshakeFile(cfg.HandshakePath),
		logger:    logger.Named("worker"),
		messages:  make(chan domain.Inbound, messageBuffer),
		done:      make(chan struct{}),
		detached:  make(chan struct{}),
	}
	c.exited.Store(true)
	return c
}

// NewFactory returns a factory producing a fresh Channel per worker instance.
func NewFactory(cfg Config, logger *zap.Logger) domain.WorkerChannelFactory {
	return func() domain.WorkerChannel {
		return New(cfg, logger)
	}
}

// ReservePort asks the OS for a free loopback port and releases it again.
// The worker binds it after reading the handshake file.
func ReservePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Init reserves the socket port and writes the handshake file.
func (c *Channel) Init(params domain.CaptureParams) error {
	port, err := ReservePort()
	if err != nil {
		return fmt.Errorf("failed to reserve port: %w", err)
	}

	capture := params.CaptureType
	if capture == "" {
		capture = domain.CaptureBitBlt
	}

	hs := domain.InitHandshake{
		HWND:          params.Window.HWND,
		ClientType:    string(params.ClientType),
		CaptureType:   string(capture),
		CanHideBorder: domain.Flag(canHideBorder()),
		Port:          port,
		LogDir:        params.LogDir,
		TestOnResize:  domain.Flag(params.TestOnResize || c.cfg.TestOnResize),
	}
	if err := c.handshake.Write(hs); err != nil {
		c.logger.Error("failed to save handshake file",
			zap.String("path", c.handshake.Path()),
			zap.Error(err))
		return fmt.Errorf("failed to save handshake file: %w", err)
	}

	c.mu.Lock()
	c.hs = hs
	c.inited = true
	c.mu.Unlock()
	return nil
}

// Start launches the worker and connects to its socket. On connect failure
// the worker is killed and reaped before Start returns.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case !c.inited:
		c.mu.Unlock()
		return ErrNotInitialized
	case c.started:
		c.mu.Unlock()
		return ErrAlreadyStarted
	case c.killed:
		c.mu.Unlock()
		return ErrWorkerExited
	}
	c.started = true
	hs := c.hs
	c.mu.Unlock()

	args := append(append([]string{}, c.cfg.Args...), c.handshake.Path())
	cmd := exec.Command(c.cfg.executablePath(), args...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	configureCommand(cmd)

	// A plain pipe keeps exec from tying Wait to stderr EOF, so exit is
	// observed even if a grandchild still holds the write end. reap takes
	// care of such grandchildren and of the read end.
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		c.abortLaunch()
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stderrR.Close()
		stderrW.Close()
		c.abortLaunch()
		c.logger.Error("failed to start worker",
			zap.String("executable", cmd.Path),
			zap.Error(err))
		return fmt.Errorf("failed to start worker: %w", err)
	}
	stderrW.Close()

	c.pid.Store(int64(cmd.Process.Pid))
	c.exited.Store(false)
	if err := trackProcess(cmd.Process); err != nil {
		c.logger.Warn("failed to register worker for cleanup",
			zap.Int("pid", cmd.Process.Pid),
			zap.Error(err))
	}

	c.mu.Lock()
	c.cmd = cmd
	killed := c.killed
	c.mu.Unlock()

	pumpDone := c.startStderr(stderrR)
	go c.reap(cmd, stderrR, pumpDone)

	c.logger.Info("worker started",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("port", hs.Port))

	if killed {
		c.killProcess(cmd)
		<-c.done
		return ErrWorkerExited
	}

	conn, err := c.connect(ctx, hs.Port)
	if err != nil {
		c.logger.Error("failed to connect to worker socket",
			zap.Int("port", hs.Port),
			zap.Error(err))
		c.Kill()
		<-c.done
		return fmt.Errorf("failed to connect to worker on port %d: %w", hs.Port, err)
	}

	c.mu.Lock()
	if c.killed {
		c.mu.Unlock()
		conn.Close()
		return ErrWorkerExited
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("connected to worker socket", zap.Int("port", hs.Port))
	return nil
}

func (c *Channel) connect(ctx context.Context, port int) (net.Conn, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	attempts := c.cfg.attempts()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.exited.Load() {
			return nil, fmt.Errorf("exit code %d: %w", c.ExitCode(), ErrWorkerExited)
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == attempts {
			break
		}
		c.logger.Debug("worker socket not ready",
			zap.Int("attempt", attempt),
			zap.Error(err))

		timer := time.NewTimer(c.cfg.ConnectRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-c.done:
			timer.Stop()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// Send writes payload as one compact JSON line. Concurrent callers are
// serialized so lines never interleave.
func (c *Channel) Send(ctx context.Context, payload any) error {
	if c.HasExited() {
		return ErrWorkerExited
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		c.logger.Error("failed to encode message for worker", zap.Error(err))
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok && c.cfg.SendTimeout > 0 {
		deadline = time.Now().Add(c.cfg.SendTimeout)
	}
	_ = conn.SetWriteDeadline(deadline)

	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send to worker: %w", err)
	}
	return nil
}

// Messages streams worker stderr lines. Closed at EOF.
func (c *Channel) Messages() <-chan domain.Inbound {
	return c.messages
}

// Kill closes the socket and then force-kills the worker. Safe to call repeatedly.
func (c *Channel) Kill() {
	c.killOnce.Do(func() {
		c.mu.Lock()
		c.killed = true
		started := c.started
		conn := c.conn
		c.conn = nil
		cmd := c.cmd
		c.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		if !started {
			c.closeMessages()
			c.closeDone.Do(func() { close(c.done) })
			return
		}
		if cmd != nil {
			c.killProcess(cmd)
		}
	})
}

func (c *Channel) killProcess(cmd *exec.Cmd) {
	if c.exited.Load() {
		return
	}
	if err := killProcessTree(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Warn("failed to kill worker",
			zap.Int("pid", cmd.Process.Pid),
			zap.Error(err))
	}
}

// HasExited reports whether no worker process is running. True before Start.
func (c *Channel) HasExited() bool {
	return c.exited.Load()
}

// ExitCode returns the worker's exit code; -1 if it was killed by a signal.
func (c *Channel) ExitCode() int {
	return int(c.exitCode.Load())
}

// PID returns the worker process id, 0 before Start.
func (c *Channel) PID() int {
	return int(c.pid.Load())
}

// Port returns the socket port reserved by Init.
func (c *Channel) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hs.Port
}

// Handshake returns the record written by Init.
func (c *Channel) Handshake() domain.InitHandshake {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hs
}

// Done is closed once the worker has been reaped.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) abortLaunch() {
	c.closeMessages()
	c.closeDone.Do(func() { close(c.done) })
}

func (c *Channel) closeMessages() {
	c.closeMsgs.Do(func() { close(c.messages) })
}

func (c *Channel) reap(cmd *exec.Cmd, stderr *os.File, pumpDone <-chan struct{}) {
	err := cmd.Wait()
	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	c.exitCode.Store(int64(code))
	c.exited.Store(true)

	c.logger.Debug("worker reaped",
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("exit_code", code),
		zap.Error(err))

	// Children the worker left behind go down with it.
	if err := killProcessGroup(cmd.Process.Pid); err != nil {
		c.logger.Warn("failed to kill leftover worker children",
			zap.Int("pid", cmd.Process.Pid),
			zap.Error(err))
	}
	c.closeDone.Do(func() { close(c.done) })

	c.releaseStderr(stderr, pumpDone)
}

// startStderr pumps r into Messages. The returned channel is closed when
// the pump stops reading.
func (c *Channel) startStderr(r io.Reader) <-chan struct{} {
	lines := make(chan domain.Inbound)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.pump(r, lines)
	}()
	go c.forward(lines)
	return pumpDone
}

// releaseStderr waits up to the grace period for stderr EOF after exit.
// If something still holds the write end, Messages is closed anyway.
func (c *Channel) releaseStderr(r io.Closer, pumpDone <-chan struct{}) {
	timer := time.NewTimer(c.cfg.stderrGrace())
	defer timer.Stop()

	select {
	case <-pumpDone:
	case <-timer.C:
		c.logger.Warn("worker stderr still open after exit, detaching",
			zap.Duration("grace", c.cfg.stderrGrace()))
		c.detachedOnce.Do(func() { close(c.detached) })
	}
	_ = r.Close()
}

// forward owns the Messages channel and closes it at EOF or on detach.
func (c *Channel) forward(lines <-chan domain.Inbound) {
	defer c.closeMessages()
	for {
		select {
		case in, ok := <-lines:
			if !ok {
				return
			}
			c.messages <- in
		case <-c.detached:
			return
		}
	}
}

func (c *Channel) deliver(lines chan<- domain.Inbound, in domain.Inbound) bool {
	select {
	case lines <- in:
		return true
	case <-c.detached:
		return false
	}
}

// pump splits r into lines. A line over maxLineSize is reported and
// skipped; reading resumes at the next newline.
func (c *Channel) pump(r io.Reader, lines chan<- domain.Inbound) {
	defer close(lines)

	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		switch {
		case tooLong:
		case len(line)+len(chunk) > maxLineSize:
			tooLong = true
			line = line[:0]
		default:
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if tooLong {
			in := domain.Inbound{Err: fmt.Errorf("failed to read worker stderr: %w", bufio.ErrTooLong)}
			if !c.deliver(lines, in) {
				return
			}
		} else if text := strings.TrimRight(string(line), "\r\n"); strings.TrimSpace(text) != "" {
			if !c.deliver(lines, DecodeLine(text)) {
				return
			}
		}
		line = line[:0]
		tooLong = false

		if err != nil {
			if err != io.EOF && !errors.Is(err, os.ErrClosed) {
				c.deliver(lines, domain.Inbound{Err: fmt.Errorf("failed to read worker stderr: %w", err)})
			}
			return
		}
	}
}

// DecodeLine parses one stderr line into a JSON object. Anything else
// yields an Inbound carrying a *domain.DecodeError.
func DecodeLine(line string) domain.Inbound {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return domain.Inbound{Line: line, Err: &domain.DecodeError{Line: line, Err: err}}
	}
	if payload == nil {
		return domain.Inbound{Line: line, Err: &domain.DecodeError{Line: line, Err: errors.New("not a JSON object")}}
	}
	if _, err := dec.Token(); err != io.EOF {
		return domain.Inbound{Line: line, Err: &domain.DecodeError{Line: line, Err: errors.New("trailing data after JSON object")}}
	}
	return domain.Inbound{Line: line, Payload: payload}
}

var _ domain.WorkerChannel = (*Channel)(nil)
