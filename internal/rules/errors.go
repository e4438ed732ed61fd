package rules

import "errors"

// Domain errors for the rules package.
var (
	// ErrRuleNotFound is returned when a rule ID is not registered.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRuleExists is returned when registering a duplicate rule ID.
	ErrRuleExists = errors.New("rule: already registered")

	// ErrInvalidRule is returned when a rule is missing its ID, logic or interval.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidCondition is returned when a desk lamp condition does not compile
	// or does not evaluate to a boolean.
	ErrInvalidCondition = errors.New("rule: invalid condition")

	// ErrInvalidTime is returned for a watering time that is not HH:MM.
	ErrInvalidTime = errors.New("rule: invalid time of day")

	// ErrLogicPanic wraps a panic recovered from rule logic.
	ErrLogicPanic = errors.New("rule: logic panicked")
)
