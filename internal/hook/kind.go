// Package hook decodes worker protocol messages into typed game events and
// fans them out to subscribers.
package hook

import (
	"fmt"
	"strings"
)

// Kind is the closed set of protocol message kinds.
type Kind int

const (
	KindInvalid Kind = iota

	// Duel lifecycle range, relayed generically through OnGameEventMessage.
	KindGameStart
	KindMyPlayed
	KindOpPlayed
	KindGameOver
	KindRound
	KindMyDrawn
	KindOpDrawn
	KindMyDiscard
	KindOpDiscard
	KindMyCreateDeck
	KindOpCreateDeck
	KindMyCreateHand
	KindOpCreateHand
	KindMyCharacters
	KindOpCharacters
	KindActiveIndices
	KindInitialDeck

	KindUnsupportedRatio
	KindCaptureTest
	KindLogFps

	kindCount
)

const (
	duelFirst = KindGameStart
	duelLast  = KindInitialDeck
)

var wireNames = [kindCount]string{
	KindInvalid:          "NONE",
	KindGameStart:        "GAME_START",
	KindMyPlayed:         "MY_PLAYED",
	KindOpPlayed:         "OP_PLAYED",
	KindGameOver:         "GAME_OVER",
	KindRound:            "ROUND",
	KindMyDrawn:          "MY_DRAWN",
	KindOpDrawn:          "OP_DRAWN",
	KindMyDiscard:        "MY_DISCARD",
	KindOpDiscard:        "OP_DISCARD",
	KindMyCreateDeck:     "MY_CREATE_DECK",
	KindOpCreateDeck:     "OP_CREATE_DECK",
	KindMyCreateHand:     "MY_CREATE_HAND",
	KindOpCreateHand:     "OP_CREATE_HAND",
	KindMyCharacters:     "MyCharacters",
	KindOpCharacters:     "OpCharacters",
	KindActiveIndices:    "ActiveIndices",
	KindInitialDeck:      "INITIAL_DECK",
	KindUnsupportedRatio: "UNSUPPORTED_RATIO",
	KindCaptureTest:      "CAPTURE_TEST",
	KindLogFps:           "LOG_FPS",
}

var kindsByWire = func() map[string]Kind {
	m := make(map[string]Kind, kindCount)
	for k := KindInvalid + 1; k < kindCount; k++ {
		m[strings.ToLower(wireNames[k])] = k
	}
	return m
}()

// ParseKind maps a wire string to its kind, ignoring case.
// Unknown strings are KindInvalid.
func ParseKind(s string) Kind {
	if k, ok := kindsByWire[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k
	}
	return KindInvalid
}

// String returns the wire name.
func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return wireNames[k]
}

// InDuelRange reports whether k belongs to an in-progress match.
func (k Kind) InDuelRange() bool {
	return k >= duelFirst && k <= duelLast
}

// MarshalText encodes the kind as its wire name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a wire name; unknown names become KindInvalid.
func (k *Kind) UnmarshalText(text []byte) error {
	*k = ParseKind(string(text))
	return nil
}

// Kinds returns every valid kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, kindCount-1)
	for k := KindInvalid + 1; k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}
