package engine

import "fmt"

// Mode controls what a session does with change seeds.
type Mode string

const (
	// ModeImmediate propagates synchronously inside each mutating call.
	// The default. A mutation returns with every affected maintained
	// field already recomputed.
	ModeImmediate Mode = "immediate"

	// ModeDeferred accumulates seeds without recomputing. A collaborator
	// calls Flush at the end of a bulk load, which processes the whole
	// accumulated set once. Commit flushes implicitly.
	ModeDeferred Mode = "deferred"

	// ModeDisabled drops seeds at intake. For dry runs where propagated
	// side effects must not occur. Exiting disabled mode does not
	// retroactively recompute anything.
	ModeDisabled Mode = "disabled"
)

// ValidateMode checks that mode is one of immediate, deferred, disabled.
// Empty is valid and defaults to immediate.
func ValidateMode(mode string) error {
	switch Mode(mode) {
	case ModeImmediate, ModeDeferred, ModeDisabled, "":
		return nil
	default:
		return fmt.Errorf("invalid propagation mode %q: must be immediate, deferred, or disabled", mode)
	}
}

// NormalizeMode defaults an empty mode to immediate.
func NormalizeMode(mode string) Mode {
	if mode == "" {
		return ModeImmediate
	}
	return Mode(mode)
}
