package incident

import (
	"fmt"
	"strings"
)

// ActionKind names an analyst action.
type ActionKind string

const (
	// ActionRespond records a published response (Monitoring -> Responded).
	ActionRespond ActionKind = "respond"

	// ActionClose closes the incident with a reason from any non-terminal state.
	ActionClose ActionKind = "close"

	// ActionOverrideContext replaces the analyzer-derived context severity.
	ActionOverrideContext ActionKind = "override_context"

	// ActionClearOverride drops a previous context override.
	ActionClearOverride ActionKind = "clear_override"
)

// Action is an explicit analyst decision on an incident.
type Action struct {
	Kind            ActionKind `json:"kind"`
	Actor           string     `json:"actor"`
	Reason          string     `json:"reason,omitempty"`
	ResponseRef     string     `json:"response_ref,omitempty"`
	ContextSeverity *float64   `json:"context_severity,omitempty"`
}

// Validate checks the action is complete before any state is touched.
func (a Action) Validate() error {
	if strings.TrimSpace(a.Actor) == "" {
		return fmt.Errorf("%w: actor is required", ErrInvalidAction)
	}
	if a.Actor == ActorSystem {
		return fmt.Errorf("%w: actor %q is reserved", ErrInvalidAction, ActorSystem)
	}
	switch a.Kind {
	case ActionRespond:
		if strings.TrimSpace(a.ResponseRef) == "" {
			return fmt.Errorf("%w: respond requires response_ref", ErrInvalidAction)
		}
	case ActionClose:
		if strings.TrimSpace(a.Reason) == "" {
			return fmt.Errorf("%w: close requires reason", ErrInvalidAction)
		}
	case ActionOverrideContext:
		if a.ContextSeverity == nil {
			return fmt.Errorf("%w: override_context requires context_severity", ErrInvalidAction)
		}
		if v := *a.ContextSeverity; v < 0 || v > 1 {
			return fmt.Errorf("%w: context_severity %v out of range 0..1", ErrInvalidAction, v)
		}
	case ActionClearOverride:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, a.Kind)
	}
	return nil
}
