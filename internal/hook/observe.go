package hook

// ObserverFunc receives any event by name with its arguments as a map.
type ObserverFunc func(event string, data map[string]any)

// Observe subscribes fn to every typed event of b. The raw duel message
// stream is not included; it duplicates the typed events.
func Observe(b *EventBus, fn ObserverFunc) []*Subscription {
	return []*Subscription{
		b.OnWindowFound(func() { fn(EventWindowFound, nil) }),
		b.OnWorkerStarted(func(hwnd int64) { fn(EventWorkerStarted, map[string]any{"hwnd": hwnd}) }),
		b.OnWorkerExited(func() { fn(EventWorkerExited, nil) }),
		b.OnGameStarted(func() { fn(EventGameStarted, nil) }),
		b.OnMyActionCardPlayed(func(id int) { fn(EventMyActionCardPlayed, map[string]any{"card_id": id}) }),
		b.OnOpActionCardPlayed(func(id int) { fn(EventOpActionCardPlayed, map[string]any{"card_id": id}) }),
		b.OnGameOver(func(record map[string]any) { fn(EventGameOver, record) }),
		b.OnRoundDetected(func(round int) { fn(EventRoundDetected, map[string]any{"round": round}) }),
		b.OnMyCardsDrawn(func(cards []int) { fn(EventMyCardsDrawn, map[string]any{"cards": cards}) }),
		b.OnMyCardsCreateDeck(func(cards []int) { fn(EventMyCardsCreateDeck, map[string]any{"cards": cards}) }),
		b.OnOpCardsCreateDeck(func(cards []int) { fn(EventOpCardsCreateDeck, map[string]any{"cards": cards}) }),
		b.OnUnsupportedRatio(func(w, h int) {
			fn(EventUnsupportedRatio, map[string]any{"client_width": w, "client_height": h})
		}),
		b.OnCaptureTestDone(func(name string, w, h int) {
			fn(EventCaptureTestDone, map[string]any{"filename": name, "width": w, "height": h})
		}),
		b.OnLogFPS(func(fps float64) { fn(EventLogFPS, map[string]any{"fps": fps}) }),
		b.OnMyCharacters(func(ids []int) { fn(EventMyCharacters, map[string]any{"cards": ids}) }),
		b.OnOpCharacters(func(ids []int) { fn(EventOpCharacters, map[string]any{"cards": ids}) }),
		b.OnActiveIndices(func(my, op int) { fn(EventActiveIndices, map[string]any{"my": my, "op": op}) }),
		b.OnInitialDeck(func(code string) { fn(EventInitialDeck, map[string]any{"sharecode": code}) }),
		b.OnError(func(err error) { fn(EventError, map[string]any{"error": err.Error()}) }),
	}
}

// UnsubscribeAll releases every subscription in subs.
func UnsubscribeAll(subs []*Subscription) {
	for _, s := range subs {
		s.Unsubscribe()
	}
}
