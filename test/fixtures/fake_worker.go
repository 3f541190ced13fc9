// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/LumiOwO/LumiTracker-sub000/internal/infra"
)

const (
	// FakeWorkerEnv selects the fake worker mode when set in a test binary's environment.
	FakeWorkerEnv = "LUMITRACKER_FAKE_WORKER"
	// FakeWorkerExitEnv is the exit code used by ModeExit.
	FakeWorkerExitEnv = "LUMITRACKER_FAKE_WORKER_EXIT"
	// FakeWorkerDelayEnv is how long ModeExit stays up, as a Go duration.
	FakeWorkerDelayEnv = "LUMITRACKER_FAKE_WORKER_DELAY"
)

// FakeWorkerMode scripts the fake worker.
type FakeWorkerMode string

const (
	// ModeEcho binds the handshake port, prints a fixed script to stderr and
	// then echoes every socket line back as an ECHO message until EOF. Lines
	// that are already protocol messages (objects with a "type") are written
	// back unchanged, which lets tests inject events through Send.
	ModeEcho FakeWorkerMode = "echo"
	// ModeNoListen never binds the port and idles until killed.
	ModeNoListen FakeWorkerMode = "no-listen"
	// ModeExit binds the port, announces a game start and exits with
	// FakeWorkerExitEnv after FakeWorkerDelayEnv.
	ModeExit FakeWorkerMode = "exit"
	// ModeOrphan behaves like ModeExit but first starts a long-lived child
	// sharing its stderr, announced as {"type":"CHILD","pid":...}.
	ModeOrphan FakeWorkerMode = "orphan"
)

// EchoScript is what ModeEcho prints before accepting the socket.
var EchoScript = []string{
	`{"type":"GAME_START"}`,
	`not valid json`,
	`{"type":"ROUND","round":"2"}`,
	`{"level":"INFO","data":{"message":"capture ready"}}`,
}

// FakeWorkerEnvFor returns the environment entries selecting mode.
func FakeWorkerEnvFor(mode FakeWorkerMode, exitCode int, delay time.Duration) []string {
	return []string{
		FakeWorkerEnv + "=" + string(mode),
		FakeWorkerExitEnv + "=" + strconv.Itoa(exitCode),
		FakeWorkerDelayEnv + "=" + delay.String(),
	}
}

// MaybeRunFakeWorker turns the current test binary into the fake worker
// when FakeWorkerEnv is set. Call it first thing in TestMain.
func MaybeRunFakeWorker() {
	mode := os.Getenv(FakeWorkerEnv)
	if mode == "" {
		return
	}
	os.Exit(RunFakeWorker(FakeWorkerMode(mode), os.Args))
}

// RunFakeWorker behaves like the capture worker: args ends with the
// handshake file path. Returns the process exit code.
func RunFakeWorker(mode FakeWorkerMode, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "fake worker: missing handshake path")
		return 2
	}
	hs, err := infra.NewHandshakeFile(args[len(args)-1]).Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake worker: %v\n", err)
		return 2
	}

	if mode == ModeNoListen {
		time.Sleep(time.Minute)
		return 0
	}

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(hs.Port)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake worker: %v\n", err)
		return 2
	}
	defer l.Close()

	switch mode {
	case ModeExit, ModeOrphan:
		if mode == ModeOrphan {
			child, err := startIdleChild(args)
			if err != nil {
				fmt.Fprintf(os.Stderr, "fake worker: %v\n", err)
				return 2
			}
			emit(map[string]any{"type": "CHILD", "pid": child})
		}
		emit(map[string]any{"type": "GAME_START"})
		go acceptAndDiscard(l)
		delay, err := time.ParseDuration(os.Getenv(FakeWorkerDelayEnv))
		if err != nil {
			delay = 200 * time.Millisecond
		}
		time.Sleep(delay)
		code, _ := strconv.Atoi(os.Getenv(FakeWorkerExitEnv))
		return code

	default:
		for _, line := range EchoScript {
			fmt.Fprintln(os.Stderr, line)
		}
		conn, err := l.Accept()
		if err != nil {
			return 2
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			line := scanner.Text()
			var msg map[string]any
			if json.Unmarshal([]byte(line), &msg) == nil && msg["type"] != nil {
				fmt.Fprintln(os.Stderr, line)
				continue
			}
			emit(map[string]any{"type": "ECHO", "raw": line})
		}
		return 0
	}
}

// startIdleChild re-runs this binary in ModeNoListen with the same stderr
// and does not wait for it.
func startIdleChild(args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}
	cmd := exec.Command(exe, args[1:]...)
	cmd.Env = append(os.Environ(), FakeWorkerEnv+"="+string(ModeNoListen))
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

func acceptAndDiscard(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			scanner := bufio.NewScanner(conn)
			for scanner.Scan() {
			}
		}()
	}
}

func emit(v any) {
	data, _ := json.Marshal(v)
	fmt.Fprintln(os.Stderr, string(data))
}
