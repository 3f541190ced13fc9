package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

func TestReplay(t *testing.T) {
	capture := strings.Join([]string{
		`{"type":"GAME_START"}`,
		``,
		`not valid json`,
		`{"type":"ROUND","round":"2"}`,
		`{"level":"INFO","message":"loaded assets"}`,
		`{"type":"MY_PLAYED","card_id":311}`,
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, replay(strings.NewReader(capture), &out, zap.NewNop()))

	var events []replayEvent
	dec := json.NewDecoder(&out)
	for dec.More() {
		var ev replayEvent
		require.NoError(t, dec.Decode(&ev))
		events = append(events, ev)
	}

	require.Len(t, events, 4)
	assert.Equal(t, "game_started", events[0].Event)
	assert.Equal(t, 1, events[0].Line)
	assert.Equal(t, "error", events[1].Event)
	assert.Equal(t, 3, events[1].Line)
	assert.Equal(t, "round_detected", events[2].Event)
	assert.EqualValues(t, 2, events[2].Data["round"])
	assert.Equal(t, "my_action_card_played", events[3].Event)
	assert.EqualValues(t, 311, events[3].Data["card_id"])
}

func TestPrintHistory(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sessions := []domain.WorkerSession{
		{ID: 2, PID: 300, ProcessName: "yuanshen", CaptureType: domain.CaptureBitBlt, StartedAt: start},
		{ID: 1, PID: 200, ProcessName: "yuanshen", CaptureType: domain.CaptureBitBlt,
			StartedAt: start.Add(-time.Hour), EndedAt: start.Add(-30 * time.Minute), ExitCode: 1, Reason: "exited"},
	}

	var text bytes.Buffer
	require.NoError(t, printHistory(&text, sessions, false))
	lines := strings.Split(strings.TrimSpace(text.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "DURATION")
	assert.Contains(t, lines[1], "running")
	assert.Contains(t, lines[2], "30m0s")
	assert.Contains(t, lines[2], "exited")

	var js bytes.Buffer
	require.NoError(t, printHistory(&js, sessions, true))
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.NotContains(t, rows[0], "ended_at")
	assert.Contains(t, rows[1], "ended_at")
	assert.EqualValues(t, 1, rows[1]["exit_code"])
}

func TestPrintHistory_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printHistory(&out, nil, false))
	assert.Contains(t, out.String(), "No worker sessions")
}
