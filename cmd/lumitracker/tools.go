package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
	"github.com/LumiOwO/LumiTracker-sub000/internal/hook"
	"github.com/LumiOwO/LumiTracker-sub000/internal/infra"
	"github.com/LumiOwO/LumiTracker-sub000/internal/logging"
	"github.com/LumiOwO/LumiTracker-sub000/internal/profile"
	"github.com/LumiOwO/LumiTracker-sub000/internal/worker"
)

var locateCmd = &cobra.Command{
	Use:   "locate [process-name]",
	Short: "Look for the game window once",
	Long: `Runs a single window lookup and prints why it succeeded or failed.
Without an argument the configured client's process name is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLocate,
}

var replayCmd = &cobra.Command{
	Use:   "replay <stderr-capture>",
	Short: "Decode a captured worker stderr stream",
	Long: `Feeds every line of a recorded worker stderr stream through the event
decoder and prints the resulting events, one JSON object per line.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent worker sessions",
	RunE:  runHistory,
}

var (
	historyLimit int
	locateJSON   bool
	historyJSON  bool
)

func init() {
	locateCmd.Flags().BoolVar(&locateJSON, "json", false, "Output the result as JSON")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of sessions to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output sessions as JSON")
}

type locateOutput struct {
	Process string `json:"process"`
	Status  string `json:"status"`
	HWND    int64  `json:"hwnd,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Title   string `json:"title,omitempty"`
}

func runLocate(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(false)
	if err != nil {
		return err
	}

	name := e.cfg.ProcessName
	if len(args) == 1 {
		name = args[0]
	}
	if name == "" {
		target, err := profile.NewRegistry().Resolve(e.cfg.ClientType, e.cfg.CaptureType, "")
		if err != nil {
			return err
		}
		name = target.ProcessName
	}

	locator := infra.NewWindowLocator(infra.NewProcessManager(), infra.NewWindowSystem(), e.logger)
	result := locator.Inspect(name)

	out := locateOutput{
		Process: name,
		Status:  result.Status.String(),
		HWND:    result.Handle.HWND,
		PID:     result.Handle.PID,
		Title:   result.Handle.Title,
	}
	w := cmd.OutOrStdout()
	if locateJSON {
		return json.NewEncoder(w).Encode(out)
	}
	fmt.Fprintf(w, "Process: %s\nStatus:  %s\n", out.Process, out.Status)
	if result.Status >= domain.LocateNotForeground {
		fmt.Fprintf(w, "Window:  0x%X (pid %d) %q\n", out.HWND, out.PID, out.Title)
	}
	return nil
}

type replayEvent struct {
	Line  int            `json:"line"`
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	logger := logging.New(logging.Options{Debug: debugFlag})
	defer logger.Sync()

	return replay(f, cmd.OutOrStdout(), logger)
}

// replay decodes r line by line exactly as a live worker stream would be.
func replay(r io.Reader, w io.Writer, logger *zap.Logger) error {
	enc := json.NewEncoder(w)
	bus := hook.New(logger)

	lineNo := 0
	var writeErr error
	hook.Observe(bus, func(event string, data map[string]any) {
		if writeErr == nil {
			writeErr = enc.Encode(replayEvent{Line: lineNo, Event: event, Data: data})
		}
	})

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		bus.HandleInbound(worker.DecodeLine(line))
		if writeErr != nil {
			return fmt.Errorf("failed to write event: %w", writeErr)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read capture: %w", err)
	}
	return nil
}

type historyRow struct {
	ID          int64      `json:"id"`
	PID         int        `json:"pid"`
	HWND        int64      `json:"hwnd"`
	ProcessName string     `json:"process_name"`
	ClientType  string     `json:"client_type"`
	CaptureType string     `json:"capture_type"`
	Port        int        `json:"port"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	ExitCode    int        `json:"exit_code"`
	Reason      string     `json:"reason,omitempty"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	paths, err := infra.DetectPaths()
	if err != nil {
		return err
	}
	if err := paths.Ensure(); err != nil {
		return err
	}
	store, err := openSessions(paths)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.Recent(historyLimit)
	if err != nil {
		return err
	}
	return printHistory(cmd.OutOrStdout(), sessions, historyJSON)
}

func printHistory(w io.Writer, sessions []domain.WorkerSession, asJSON bool) error {
	if asJSON {
		rows := make([]historyRow, 0, len(sessions))
		for _, s := range sessions {
			row := historyRow{
				ID:          s.ID,
				PID:         s.PID,
				HWND:        s.HWND,
				ProcessName: s.ProcessName,
				ClientType:  string(s.ClientType),
				CaptureType: string(s.CaptureType),
				Port:        s.Port,
				StartedAt:   s.StartedAt,
				ExitCode:    s.ExitCode,
				Reason:      s.Reason,
			}
			if !s.EndedAt.IsZero() {
				ended := s.EndedAt
				row.EndedAt = &ended
			}
			rows = append(rows, row)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(w, "No worker sessions recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tPROCESS\tCAPTURE\tPID\tEXIT\tREASON")
	for _, s := range sessions {
		duration := "running"
		exit := "-"
		if !s.EndedAt.IsZero() {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
			exit = fmt.Sprint(s.ExitCode)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04:05"), duration,
			s.ProcessName, s.CaptureType, s.PID, exit, s.Reason)
	}
	return tw.Flush()
}
