package hook

// HookTo makes b re-emit every event raised on src. Hooking the same
// source twice is a no-op.
func (b *EventBus) HookTo(src *EventBus) {
	if src == nil || src == b {
		return
	}
	b.fwdMu.Lock()
	defer b.fwdMu.Unlock()
	if _, ok := b.forwards[src]; ok {
		return
	}

	b.forwards[src] = []*Subscription{
		src.OnWindowFound(b.EmitWindowFound),
		src.OnWorkerStarted(b.EmitWorkerStarted),
		src.OnWorkerExited(b.EmitWorkerExited),
		src.OnGameStarted(b.emitGameStarted),
		src.OnMyActionCardPlayed(b.emitMyPlayed),
		src.OnOpActionCardPlayed(b.emitOpPlayed),
		src.OnGameOver(b.emitGameOver),
		src.OnRoundDetected(b.emitRound),
		src.OnMyCardsDrawn(b.emitMyDrawn),
		src.OnMyCardsCreateDeck(b.emitMyCreateDeck),
		src.OnOpCardsCreateDeck(b.emitOpCreateDeck),
		src.OnUnsupportedRatio(b.emitUnsupportedRatio),
		src.OnCaptureTestDone(b.emitCaptureTest),
		src.OnLogFPS(b.emitLogFPS),
		src.OnMyCharacters(b.emitMyCharacters),
		src.OnOpCharacters(b.emitOpCharacters),
		src.OnActiveIndices(b.emitActiveIndices),
		src.OnInitialDeck(b.emitInitialDeck),
		src.OnError(b.EmitError),
		src.OnGameEventMessage(b.emitGameEventMessage),
	}
}

// UnhookFrom removes exactly the callbacks HookTo installed on src.
func (b *EventBus) UnhookFrom(src *EventBus) {
	b.fwdMu.Lock()
	subs := b.forwards[src]
	delete(b.forwards, src)
	b.fwdMu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// IsHookedTo reports whether b currently relays src.
func (b *EventBus) IsHookedTo(src *EventBus) bool {
	b.fwdMu.Lock()
	defer b.fwdMu.Unlock()
	_, ok := b.forwards[src]
	return ok
}
