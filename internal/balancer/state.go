package balancer

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// DatabaseState is the role a node reports about itself.
type DatabaseState string

const (
	StateUnknown          DatabaseState = "unknown"
	StatePrimaryReadWrite DatabaseState = "primary_read_write"
	StatePrimaryReadOnly  DatabaseState = "primary_read_only"
	StateStandby          DatabaseState = "standby"
	StateOffline          DatabaseState = "offline"
)

// SessionIntent is the requirement of the caller to the node state.
type SessionIntent string

const (
	IntentAny           SessionIntent = "any"
	IntentPrimary       SessionIntent = "primary"
	IntentReadWrite     SessionIntent = "read-write"
	IntentReadOnly      SessionIntent = "read-only"
	IntentStandby       SessionIntent = "standby"
	IntentPreferPrimary SessionIntent = "prefer-primary"
	IntentPreferStandby SessionIntent = "prefer-standby"
)

// SessionIntentEnv is consulted when the intent is not configured explicitly.
const SessionIntentEnv = "PGTARGETSESSIONATTRS"

var ErrUnknownSessionIntent = errors.New("unknown session intent")

var sessionIntents = []SessionIntent{
	IntentAny,
	IntentPrimary,
	IntentReadWrite,
	IntentReadOnly,
	IntentStandby,
	IntentPreferPrimary,
	IntentPreferStandby,
}

func ParseSessionIntent(s string) (SessionIntent, error) {
	v := SessionIntent(strings.ToLower(strings.TrimSpace(s)))
	for _, intent := range sessionIntents {
		if v == intent {
			return intent, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownSessionIntent, s)
}

// ResolveSessionIntent parses the configured value falling back to the
// environment and then to IntentAny.
func ResolveSessionIntent(configured string) (SessionIntent, error) {
	if configured == "" {
		configured = os.Getenv(SessionIntentEnv)
	}
	if configured == "" {
		return IntentAny, nil
	}

	return ParseSessionIntent(configured)
}

// Prefer reports whether the intent allows any online node
// when no node in the preferred state is found.
func (i SessionIntent) Prefer() bool {
	return i == IntentPreferPrimary || i == IntentPreferStandby
}

// isPreferred checks the node state against the intent.
// Unknown state is accepted, it is queried before the check anyway.
func isPreferred(state DatabaseState, intent SessionIntent) bool {
	switch state {
	case StateOffline:
		return false
	case StateUnknown:
		return true
	case StatePrimaryReadWrite:
		if intent == IntentPrimary || intent == IntentPreferPrimary || intent == IntentReadWrite {
			return true
		}
	case StatePrimaryReadOnly:
		if intent == IntentPrimary || intent == IntentPreferPrimary || intent == IntentReadOnly {
			return true
		}
	case StateStandby:
		if intent == IntentStandby || intent == IntentPreferStandby || intent == IntentReadOnly {
			return true
		}
	}

	return intent == IntentAny
}

func isOnline(state DatabaseState) bool {
	return state != StateOffline
}
