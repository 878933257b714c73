package ledger

// Status is the lifecycle state of a transfer.
type Status string

const (
	StatusPending   Status = "pending"
	StatusValidated Status = "validated"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusValidated, StatusCancelled:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", NewError(ErrValidationFailed, CodeInvalidStatus, "unknown status %q", s).
			WithDetail("status", s)
	}
	return st, nil
}

// Effect is what a status transition does to the ledger.
type Effect int

const (
	EffectNone Effect = iota
	EffectAdd
	EffectSubtract
)

func (e Effect) String() string {
	switch e {
	case EffectAdd:
		return "add"
	case EffectSubtract:
		return "subtract"
	}
	return "none"
}

// Direction returns the applier direction for e; ok is false for EffectNone.
func (e Effect) Direction() (dir Direction, ok bool) {
	switch e {
	case EffectAdd:
		return DirectionAdd, true
	case EffectSubtract:
		return DirectionSubtract, true
	}
	return "", false
}

// transitions lists every allowed edge. Missing edges are rejected.
// validated is the only state that holds a ledger contribution.
var transitions = map[Status]map[Status]Effect{
	StatusPending: {
		StatusPending:   EffectNone,
		StatusValidated: EffectAdd,
		StatusCancelled: EffectNone,
	},
	StatusValidated: {
		StatusValidated: EffectNone,
		StatusCancelled: EffectSubtract,
	},
	StatusCancelled: {
		StatusCancelled: EffectNone,
		StatusValidated: EffectAdd,
	},
}

// Transition returns the ledger effect of moving from one status to another.
func Transition(from, to Status) (Effect, error) {
	if !from.Valid() {
		return EffectNone, NewError(ErrValidationFailed, CodeInvalidStatus, "unknown status %q", from)
	}
	if !to.Valid() {
		return EffectNone, NewError(ErrValidationFailed, CodeInvalidStatus, "unknown status %q", to)
	}
	effect, ok := transitions[from][to]
	if !ok {
		return EffectNone, NewError(ErrInvalidStatusTransition, CodeInvalidStatusTransition,
			"cannot move transfer from %s to %s", from, to).
			WithDetail("from", string(from)).
			WithDetail("to", string(to))
	}
	return effect, nil
}
