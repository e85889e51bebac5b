package recovery

import "fmt"

// StrictStrategy fails on the first structural error.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy {
	return &StrictStrategy{}
}

func (s *StrictStrategy) OnError(ctx Context, err error, location Location) Action {
	return ActionFail
}

// LenientStrategy keeps going where possible and records what it tolerated.
// Errors holds one entry per problem in encounter order. Structural damage
// in the xref machinery is answered with ActionFix so callers attempt a
// rebuild; everything else is warned past.
type LenientStrategy struct {
	Errors []error

	// MaxErrors bounds accumulation; once reached, further errors fail.
	// Zero means 64.
	MaxErrors int
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{}
}

func (s *LenientStrategy) OnError(ctx Context, err error, location Location) Action {
	limit := s.MaxErrors
	if limit == 0 {
		limit = 64
	}
	if len(s.Errors) >= limit {
		return ActionFail
	}
	s.Errors = append(s.Errors, fmt.Errorf("[%s] offset %d: %w", location.Component, location.ByteOffset, err))
	switch location.Component {
	case ComponentXref, ComponentTrailer:
		return ActionFix
	default:
		return ActionWarn
	}
}
