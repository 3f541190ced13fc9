package hook

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

func mustDecode(t *testing.T, line string) Message {
	t.Helper()
	msg, err := DecodeLine([]byte(line))
	require.NoError(t, err)
	return msg
}

func TestDispatch_TypedCallbacks(t *testing.T) {
	b := New(zaptest.NewLogger(t))

	var got []string
	b.OnGameStarted(func() { got = append(got, "start") })
	b.OnMyActionCardPlayed(func(id int) { assert.Equal(t, 211, id); got = append(got, "my") })
	b.OnOpActionCardPlayed(func(id int) { assert.Equal(t, 312, id); got = append(got, "op") })
	b.OnRoundDetected(func(r int) { assert.Equal(t, 3, r); got = append(got, "round") })
	b.OnMyCardsDrawn(func(c []int) { assert.Equal(t, []int{1, 2}, c); got = append(got, "drawn") })
	b.OnMyCardsCreateDeck(func(c []int) { assert.Equal(t, []int{5}, c); got = append(got, "mydeck") })
	b.OnOpCardsCreateDeck(func(c []int) { assert.Equal(t, []int{6}, c); got = append(got, "opdeck") })
	b.OnMyCharacters(func(c []int) { assert.Equal(t, []int{7, 8, 9}, c); got = append(got, "mychars") })
	b.OnOpCharacters(func(c []int) { assert.Equal(t, []int{1, 2, 3}, c); got = append(got, "opchars") })
	b.OnActiveIndices(func(my, op int) { assert.Equal(t, []int{0, 2}, []int{my, op}); got = append(got, "active") })
	b.OnInitialDeck(func(code string) { assert.Equal(t, "AbCd", code); got = append(got, "deck") })
	b.OnGameOver(func(r map[string]any) { assert.Equal(t, true, r["win"]); got = append(got, "over") })
	b.OnUnsupportedRatio(func(w, h int) { assert.Equal(t, []int{800, 600}, []int{w, h}); got = append(got, "ratio") })
	b.OnCaptureTestDone(func(f string, w, h int) {
		assert.Equal(t, "cap.png", f)
		assert.Equal(t, []int{1920, 1080}, []int{w, h})
		got = append(got, "capture")
	})
	b.OnLogFPS(func(fps float64) { assert.InDelta(t, 29.9, fps, 1e-9); got = append(got, "fps") })

	lines := []string{
		`{"type":"GAME_START"}`,
		`{"type":"MY_PLAYED","card_id":211}`,
		`{"type":"OP_PLAYED","card_id":312}`,
		`{"type":"ROUND","round":"3"}`,
		`{"type":"MY_DRAWN","cards":[1,2]}`,
		`{"type":"MY_CREATE_DECK","cards":[5]}`,
		`{"type":"OP_CREATE_DECK","cards":[6]}`,
		`{"type":"MyCharacters","cards":[7,8,9]}`,
		`{"type":"OpCharacters","cards":[1,2,3]}`,
		`{"type":"ActiveIndices","my":0,"op":2}`,
		`{"type":"INITIAL_DECK","sharecode":"AbCd"}`,
		`{"type":"GAME_OVER","win":true}`,
		`{"type":"UNSUPPORTED_RATIO","client_width":800,"client_height":600}`,
		`{"type":"CAPTURE_TEST","filename":"cap.png","width":1920,"height":1080}`,
		`{"type":"LOG_FPS","fps":29.9}`,
	}
	for _, line := range lines {
		require.NoError(t, b.Dispatch(mustDecode(t, line)), line)
	}

	assert.Equal(t, []string{"start", "my", "op", "round", "drawn", "mydeck", "opdeck",
		"mychars", "opchars", "active", "deck", "over", "ratio", "capture", "fps"}, got)
}

func TestDispatch_RawForwardOrderAndRange(t *testing.T) {
	b := New(zap.NewNop())

	var order []string
	raw := 0
	b.OnGameEventMessage(func(msg Message) {
		raw++
		order = append(order, "raw:"+msg.Kind.String())
	})
	b.OnMyActionCardPlayed(func(int) { order = append(order, "typed") })
	b.OnLogFPS(func(float64) { order = append(order, "fps") })
	b.OnCaptureTestDone(func(string, int, int) {})
	b.OnUnsupportedRatio(func(int, int) {})

	require.NoError(t, b.Dispatch(mustDecode(t, `{"type":"MY_PLAYED","card_id":1}`)))
	assert.Equal(t, []string{"raw:MY_PLAYED", "typed"}, order)
	assert.Equal(t, 1, raw)

	for _, line := range []string{
		`{"type":"LOG_FPS","fps":60}`,
		`{"type":"CAPTURE_TEST","filename":"a","width":1,"height":1}`,
		`{"type":"UNSUPPORTED_RATIO","client_width":1,"client_height":1}`,
		`{"type":"UNKNOWN"}`,
	} {
		require.NoError(t, b.Dispatch(mustDecode(t, line)))
	}
	assert.Equal(t, 1, raw, "non-duel kinds must not reach the raw forward")

	// unhandled duel kinds are still forwarded
	require.NoError(t, b.Dispatch(mustDecode(t, `{"type":"OP_DRAWN"}`)))
	assert.Equal(t, 2, raw)
}

func TestDispatch_RawForwardSeesMessageWhenTypedPanics(t *testing.T) {
	b := New(zap.NewNop())

	raw := 0
	later := 0
	b.OnGameEventMessage(func(Message) { raw++ })
	b.OnGameStarted(func() { panic("subscriber bug") })
	b.OnGameStarted(func() { later++ })

	assert.NotPanics(t, func() {
		require.NoError(t, b.Dispatch(mustDecode(t, `{"type":"GAME_START"}`)))
	})
	assert.Equal(t, 1, raw)
	assert.Equal(t, 1, later)
}

func TestDispatch_MissingFieldIsLoud(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b := New(zap.New(core))

	var reported error
	called := false
	b.OnError(func(err error) { reported = err })
	b.OnMyActionCardPlayed(func(int) { called = true })

	err := b.Dispatch(mustDecode(t, `{"type":"MY_PLAYED"}`))
	var fieldErr *FieldError
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "card_id", fieldErr.Field)
	assert.Equal(t, err, reported)
	assert.False(t, called)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())

	err = b.Dispatch(mustDecode(t, `{"type":"MY_DRAWN","cards":"oops"}`))
	assert.True(t, errors.As(err, &fieldErr))
}

func TestDispatch_DefinedButNotHandled(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b := New(zap.New(core))

	for _, line := range []string{`{"type":"OP_DRAWN"}`, `{"type":"MY_DISCARD"}`, `{"type":"OP_CREATE_HAND"}`} {
		require.NoError(t, b.Dispatch(mustDecode(t, line)))
	}
	require.NoError(t, b.Dispatch(mustDecode(t, `{"type":"NOT_A_KIND"}`)))

	assert.Equal(t, 3, logs.FilterMessage("message kind defined but not handled").Len())
	assert.Equal(t, 3, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestHandleInbound(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b := New(zap.New(core))

	var errs []error
	started := 0
	b.OnError(func(err error) { errs = append(errs, err) })
	b.OnGameStarted(func() { started++ })

	b.HandleInbound(domain.Inbound{Line: "not valid json", Err: &domain.DecodeError{Line: "not valid json", Err: errors.New("bad")}})
	b.HandleInbound(domain.Inbound{Payload: map[string]any{"type": "GAME_START"}})
	b.HandleInbound(domain.Inbound{Payload: map[string]any{"level": "INFO", "data": map[string]any{"type": "GAME_START"}}})
	b.HandleInbound(domain.Inbound{Payload: map[string]any{"level": "WARNING", "data": "low fps"}})
	b.HandleInbound(domain.Inbound{Payload: map[string]any{"level": "ERROR", "data": map[string]any{"message": "boom"}}})

	require.Len(t, errs, 1)
	var decodeErr *domain.DecodeError
	assert.True(t, errors.As(errs[0], &decodeErr))
	assert.Equal(t, 2, started)

	workerLogs := logs.FilterMessage("worker").All()
	require.Len(t, workerLogs, 2)
	assert.Equal(t, zapcore.WarnLevel, workerLogs[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, workerLogs[1].Level)
}

func TestSubscription_UnsubscribeIdempotent(t *testing.T) {
	b := New(zap.NewNop())
	calls := 0
	first := b.OnGameStarted(func() { calls++ })
	b.OnGameStarted(func() { calls += 10 })
	assert.Equal(t, 2, b.SubscriberCount())

	first.Unsubscribe()
	first.Unsubscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	require.NoError(t, b.Dispatch(NewMessage(KindGameStart, nil)))
	assert.Equal(t, 10, calls)

	var nilSub *Subscription
	assert.NotPanics(t, nilSub.Unsubscribe)
}

func TestHookTo_RelaysAndUnhooks(t *testing.T) {
	src := New(zap.NewNop())
	dst := New(zap.NewNop())
	require.Zero(t, src.SubscriberCount())

	var rounds []int
	raw := 0
	hwnds := []int64{}
	dst.OnRoundDetected(func(r int) { rounds = append(rounds, r) })
	dst.OnGameEventMessage(func(Message) { raw++ })
	dst.OnWorkerStarted(func(h int64) { hwnds = append(hwnds, h) })

	dst.HookTo(src)
	dst.HookTo(src)
	hooked := src.SubscriberCount()
	assert.Positive(t, hooked)
	assert.True(t, dst.IsHookedTo(src))

	require.NoError(t, src.Dispatch(mustDecode(t, `{"type":"ROUND","round":2}`)))
	src.EmitWorkerStarted(99)
	assert.Equal(t, []int{2}, rounds, "hooking twice must not double-deliver")
	assert.Equal(t, 1, raw)
	assert.Equal(t, []int64{99}, hwnds)

	dst.UnhookFrom(src)
	assert.Zero(t, src.SubscriberCount())
	assert.False(t, dst.IsHookedTo(src))

	require.NoError(t, src.Dispatch(mustDecode(t, `{"type":"ROUND","round":3}`)))
	assert.Equal(t, []int{2}, rounds)

	dst.UnhookFrom(src)
	dst.HookTo(dst)
	assert.Zero(t, src.SubscriberCount())
}

func TestObserve(t *testing.T) {
	b := New(zap.NewNop())
	var events []string
	var last map[string]any
	subs := Observe(b, func(event string, data map[string]any) {
		events = append(events, event)
		last = data
	})

	require.NoError(t, b.Dispatch(mustDecode(t, `{"type":"ActiveIndices","my":1,"op":0}`)))
	assert.Equal(t, []string{EventActiveIndices}, events)
	assert.Equal(t, map[string]any{"my": 1, "op": 0}, last)

	UnsubscribeAll(subs)
	assert.Zero(t, b.SubscriberCount())
}

func TestDispatch_GameOverRecordKeepsNumbers(t *testing.T) {
	b := New(zap.NewNop())
	var record map[string]any
	b.OnGameOver(func(r map[string]any) { record = r })

	require.NoError(t, b.Dispatch(mustDecode(t, `{"type":"GAME_OVER","duration":123456789012}`)))
	assert.Equal(t, json.Number("123456789012"), record["duration"])
}
