package hook

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/LumiOwO/LumiTracker-sub000/internal/domain"
)

// Event names, used in logs and by Observe.
const (
	EventWindowFound        = "window_found"
	EventWorkerStarted      = "worker_started"
	EventWorkerExited       = "worker_exited"
	EventGameStarted        = "game_started"
	EventMyActionCardPlayed = "my_action_card_played"
	EventOpActionCardPlayed = "op_action_card_played"
	EventGameOver           = "game_over"
	EventRoundDetected      = "round_detected"
	EventMyCardsDrawn       = "my_cards_drawn"
	EventMyCardsCreateDeck  = "my_cards_create_deck"
	EventOpCardsCreateDeck  = "op_cards_create_deck"
	EventUnsupportedRatio   = "unsupported_ratio"
	EventCaptureTestDone    = "capture_test_done"
	EventLogFPS             = "log_fps"
	EventMyCharacters       = "my_characters"
	EventOpCharacters       = "op_characters"
	EventActiveIndices      = "active_indices"
	EventInitialDeck        = "initial_deck"
	EventError              = "error"
	EventGameEventMessage   = "game_event_message"
)

// EventBus holds one ordered callback list per event. The zero value is
// not usable; create buses with New.
type EventBus struct {
	logger *zap.Logger

	windowFound      slot[func()]
	workerStarted    slot[func(hwnd int64)]
	workerExited     slot[func()]
	gameStarted      slot[func()]
	myPlayed         slot[func(cardID int)]
	opPlayed         slot[func(cardID int)]
	gameOver         slot[func(record map[string]any)]
	round            slot[func(round int)]
	myDrawn          slot[func(cards []int)]
	myCreateDeck     slot[func(cards []int)]
	opCreateDeck     slot[func(cards []int)]
	unsupportedRatio slot[func(width, height int)]
	captureTest      slot[func(filename string, width, height int)]
	logFPS           slot[func(fps float64)]
	myCharacters     slot[func(characters []int)]
	opCharacters     slot[func(characters []int)]
	activeIndices    slot[func(my, op int)]
	initialDeck      slot[func(shareCode string)]
	errs             slot[func(err error)]
	gameEventMessage slot[func(msg Message)]

	fwdMu    sync.Mutex
	forwards map[*EventBus][]*Subscription
}

// New creates an empty bus.
func New(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger:   logger.Named("hook"),
		forwards: make(map[*EventBus][]*Subscription),
	}
}

// --- subscriptions ---

// OnWindowFound fires once when the target window appears but is not yet foreground.
func (b *EventBus) OnWindowFound(fn func()) *Subscription { return b.windowFound.add(fn) }

// OnWorkerStarted fires after a worker is connected for hwnd.
func (b *EventBus) OnWorkerStarted(fn func(hwnd int64)) *Subscription {
	return b.workerStarted.add(fn)
}

// OnWorkerExited fires once per worker, whether it exited or was killed.
func (b *EventBus) OnWorkerExited(fn func()) *Subscription { return b.workerExited.add(fn) }

func (b *EventBus) OnGameStarted(fn func()) *Subscription { return b.gameStarted.add(fn) }

func (b *EventBus) OnMyActionCardPlayed(fn func(cardID int)) *Subscription {
	return b.myPlayed.add(fn)
}

func (b *EventBus) OnOpActionCardPlayed(fn func(cardID int)) *Subscription {
	return b.opPlayed.add(fn)
}

// OnGameOver receives the whole GAME_OVER payload.
func (b *EventBus) OnGameOver(fn func(record map[string]any)) *Subscription {
	return b.gameOver.add(fn)
}

func (b *EventBus) OnRoundDetected(fn func(round int)) *Subscription { return b.round.add(fn) }

func (b *EventBus) OnMyCardsDrawn(fn func(cards []int)) *Subscription { return b.myDrawn.add(fn) }

func (b *EventBus) OnMyCardsCreateDeck(fn func(cards []int)) *Subscription {
	return b.myCreateDeck.add(fn)
}

func (b *EventBus) OnOpCardsCreateDeck(fn func(cards []int)) *Subscription {
	return b.opCreateDeck.add(fn)
}

// OnUnsupportedRatio receives the client size the worker refused.
func (b *EventBus) OnUnsupportedRatio(fn func(width, height int)) *Subscription {
	return b.unsupportedRatio.add(fn)
}

func (b *EventBus) OnCaptureTestDone(fn func(filename string, width, height int)) *Subscription {
	return b.captureTest.add(fn)
}

func (b *EventBus) OnLogFPS(fn func(fps float64)) *Subscription { return b.logFPS.add(fn) }

func (b *EventBus) OnMyCharacters(fn func(characters []int)) *Subscription {
	return b.myCharacters.add(fn)
}

func (b *EventBus) OnOpCharacters(fn func(characters []int)) *Subscription {
	return b.opCharacters.add(fn)
}

// OnActiveIndices receives the active character slot of each side.
func (b *EventBus) OnActiveIndices(fn func(my, op int)) *Subscription {
	return b.activeIndices.add(fn)
}

func (b *EventBus) OnInitialDeck(fn func(shareCode string)) *Subscription {
	return b.initialDeck.add(fn)
}

// OnError receives decode errors and payload field errors.
func (b *EventBus) OnError(fn func(err error)) *Subscription { return b.errs.add(fn) }

// OnGameEventMessage receives every duel-range message verbatim, before
// its typed callback runs.
func (b *EventBus) OnGameEventMessage(fn func(msg Message)) *Subscription {
	return b.gameEventMessage.add(fn)
}

// SubscriberCount is the total number of registered callbacks.
func (b *EventBus) SubscriberCount() int {
	return b.windowFound.len() + b.workerStarted.len() + b.workerExited.len() +
		b.gameStarted.len() + b.myPlayed.len() + b.opPlayed.len() + b.gameOver.len() +
		b.round.len() + b.myDrawn.len() + b.myCreateDeck.len() + b.opCreateDeck.len() +
		b.unsupportedRatio.len() + b.captureTest.len() + b.logFPS.len() +
		b.myCharacters.len() + b.opCharacters.len() + b.activeIndices.len() +
		b.initialDeck.len() + b.errs.len() + b.gameEventMessage.len()
}

// --- emitters ---

// fire runs every callback of s, recovering each panic separately.
func fire[F any](b *EventBus, s *slot[F], event string, invoke func(F)) {
	for _, fn := range s.snapshot() {
		b.safeCall(event, func() { invoke(fn) })
	}
}

func (b *EventBus) safeCall(event string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				zap.String("event", event),
				zap.Any("panic", r))
		}
	}()
	f()
}

// EmitWindowFound notifies that the target window exists but is in the background.
func (b *EventBus) EmitWindowFound() {
	fire(b, &b.windowFound, EventWindowFound, func(fn func()) { fn() })
}

// EmitWorkerStarted notifies that a worker is attached to hwnd.
func (b *EventBus) EmitWorkerStarted(hwnd int64) {
	fire(b, &b.workerStarted, EventWorkerStarted, func(fn func(int64)) { fn(hwnd) })
}

// EmitWorkerExited notifies that the current worker is gone.
func (b *EventBus) EmitWorkerExited() {
	fire(b, &b.workerExited, EventWorkerExited, func(fn func()) { fn() })
}

// EmitError reports err to OnError subscribers.
func (b *EventBus) EmitError(err error) {
	fire(b, &b.errs, EventError, func(fn func(error)) { fn(err) })
}

func (b *EventBus) emitGameStarted() {
	fire(b, &b.gameStarted, EventGameStarted, func(fn func()) { fn() })
}

func (b *EventBus) emitMyPlayed(id int) {
	fire(b, &b.myPlayed, EventMyActionCardPlayed, func(fn func(int)) { fn(id) })
}

func (b *EventBus) emitOpPlayed(id int) {
	fire(b, &b.opPlayed, EventOpActionCardPlayed, func(fn func(int)) { fn(id) })
}

func (b *EventBus) emitGameOver(record map[string]any) {
	fire(b, &b.gameOver, EventGameOver, func(fn func(map[string]any)) { fn(record) })
}

func (b *EventBus) emitRound(round int) {
	fire(b, &b.round, EventRoundDetected, func(fn func(int)) { fn(round) })
}

func (b *EventBus) emitMyDrawn(cards []int) {
	fire(b, &b.myDrawn, EventMyCardsDrawn, func(fn func([]int)) { fn(cards) })
}

func (b *EventBus) emitMyCreateDeck(cards []int) {
	fire(b, &b.myCreateDeck, EventMyCardsCreateDeck, func(fn func([]int)) { fn(cards) })
}

func (b *EventBus) emitOpCreateDeck(cards []int) {
	fire(b, &b.opCreateDeck, EventOpCardsCreateDeck, func(fn func([]int)) { fn(cards) })
}

func (b *EventBus) emitUnsupportedRatio(width, height int) {
	fire(b, &b.unsupportedRatio, EventUnsupportedRatio, func(fn func(int, int)) { fn(width, height) })
}

func (b *EventBus) emitCaptureTest(filename string, width, height int) {
	fire(b, &b.captureTest, EventCaptureTestDone, func(fn func(string, int, int)) { fn(filename, width, height) })
}

func (b *EventBus) emitLogFPS(fps float64) {
	fire(b, &b.logFPS, EventLogFPS, func(fn func(float64)) { fn(fps) })
}

func (b *EventBus) emitMyCharacters(ids []int) {
	fire(b, &b.myCharacters, EventMyCharacters, func(fn func([]int)) { fn(ids) })
}

func (b *EventBus) emitOpCharacters(ids []int) {
	fire(b, &b.opCharacters, EventOpCharacters, func(fn func([]int)) { fn(ids) })
}

func (b *EventBus) emitActiveIndices(my, op int) {
	fire(b, &b.activeIndices, EventActiveIndices, func(fn func(int, int)) { fn(my, op) })
}

func (b *EventBus) emitInitialDeck(code string) {
	fire(b, &b.initialDeck, EventInitialDeck, func(fn func(string)) { fn(code) })
}

func (b *EventBus) emitGameEventMessage(msg Message) {
	fire(b, &b.gameEventMessage, EventGameEventMessage, func(fn func(Message)) { fn(msg) })
}

// --- dispatch ---

// Dispatch invokes the callbacks for msg. Duel-range messages go to
// OnGameEventMessage first. A missing or mistyped required field is
// logged, reported through OnError and returned as a *FieldError.
func (b *EventBus) Dispatch(msg Message) error {
	if msg.Kind.InDuelRange() {
		b.emitGameEventMessage(msg)
	}

	var err error
	switch msg.Kind {
	case KindInvalid:
		b.logger.Debug("ignoring message without a known type", zap.Any("data", msg.Data))

	case KindGameStart:
		b.emitGameStarted()

	case KindMyPlayed, KindOpPlayed:
		var id int
		if id, err = msg.IntField("card_id"); err == nil {
			if msg.Kind == KindMyPlayed {
				b.emitMyPlayed(id)
			} else {
				b.emitOpPlayed(id)
			}
		}

	case KindGameOver:
		b.emitGameOver(msg.Data)

	case KindRound:
		var round int
		if round, err = msg.IntField("round"); err == nil {
			b.emitRound(round)
		}

	case KindMyDrawn, KindMyCreateDeck, KindOpCreateDeck, KindMyCharacters, KindOpCharacters:
		var cards []int
		if cards, err = msg.IntsField("cards"); err == nil {
			switch msg.Kind {
			case KindMyDrawn:
				b.emitMyDrawn(cards)
			case KindMyCreateDeck:
				b.emitMyCreateDeck(cards)
			case KindOpCreateDeck:
				b.emitOpCreateDeck(cards)
			case KindMyCharacters:
				b.emitMyCharacters(cards)
			case KindOpCharacters:
				b.emitOpCharacters(cards)
			}
		}

	case KindActiveIndices:
		var my, op int
		if my, err = msg.IntField("my"); err == nil {
			if op, err = msg.IntField("op"); err == nil {
				b.emitActiveIndices(my, op)
			}
		}

	case KindInitialDeck:
		var code string
		if code, err = msg.StringField("sharecode"); err == nil {
			b.emitInitialDeck(code)
		}

	case KindUnsupportedRatio:
		var w, h int
		if w, err = msg.IntField("client_width"); err == nil {
			if h, err = msg.IntField("client_height"); err == nil {
				ratio := 0.0
				if h != 0 {
					ratio = float64(w) / float64(h)
				}
				b.logger.Warn("unsupported client resolution",
					zap.Int("width", w),
					zap.Int("height", h),
					zap.Float64("ratio", ratio))
				b.emitUnsupportedRatio(w, h)
			}
		}

	case KindCaptureTest:
		var name string
		var w, h int
		if name, err = msg.StringField("filename"); err == nil {
			if w, err = msg.IntField("width"); err == nil {
				if h, err = msg.IntField("height"); err == nil {
					b.emitCaptureTest(name, w, h)
				}
			}
		}

	case KindLogFps:
		var fps float64
		if fps, err = msg.FloatField("fps"); err == nil {
			b.emitLogFPS(fps)
		}

	default:
		b.logger.Warn("message kind defined but not handled",
			zap.Stringer("kind", msg.Kind),
			zap.Any("data", msg.Data))
	}

	if err != nil {
		b.logger.Error("malformed message from worker",
			zap.Stringer("kind", msg.Kind),
			zap.Error(err))
		b.EmitError(err)
		return err
	}
	return nil
}

// HandleInbound consumes one worker stderr line. Decode errors go to
// OnError; legacy log records are re-logged; everything else is dispatched.
func (b *EventBus) HandleInbound(in domain.Inbound) {
	if in.Err != nil {
		b.logger.Error("worker wrote an unreadable line",
			zap.String("line", in.Line),
			zap.Error(in.Err))
		b.EmitError(in.Err)
		return
	}
	if b.relogWorkerRecord(in.Payload) {
		return
	}
	_ = b.Dispatch(Decode(in.Payload))
}

// relogWorkerRecord handles {"level": ..., "data": ...} lines, which carry
// worker logs rather than events.
func (b *EventBus) relogWorkerRecord(payload map[string]any) bool {
	if _, ok := payload["type"]; ok {
		return false
	}
	level, ok := payload["level"].(string)
	if !ok {
		return false
	}
	if inner, ok := payload["data"].(map[string]any); ok {
		if _, ok := inner["type"]; ok {
			return false
		}
	}

	fields := []zap.Field{zap.Any("data", payload["data"])}
	const msg = "worker"
	switch strings.ToUpper(level) {
	case "ERROR", "CRITICAL", "FATAL":
		b.logger.Error(msg, fields...)
	case "WARNING", "WARN":
		b.logger.Warn(msg, fields...)
	case "DEBUG":
		b.logger.Debug(msg, fields...)
	default:
		b.logger.Info(msg, fields...)
	}
	return true
}
