package pipeline

import (
	"errors"
	"fmt"
)

type State int

const (
	StateInit State = iota
	StateSyncWatermark
	StateStreaming
	StateBulkImport
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSyncWatermark:
		return "SYNC_WATERMARK"
	case StateStreaming:
		return "STREAMING"
	case StateBulkImport:
		return "BULK_IMPORT"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var ErrInvalidTransition = errors.New("invalid state transition")

// Transitions only move forward. INIT may go straight to STREAMING when
// the caller injects a watermark.
var transitions = map[State][]State{
	StateInit:          {StateSyncWatermark, StateStreaming, StateBulkImport},
	StateSyncWatermark: {StateStreaming, StateDone},
	StateStreaming:     {StateDone},
	StateBulkImport:    {StateDone},
}

func (p *Pipeline) transition(to State) error {
	for _, next := range transitions[p.state] {
		if next == to {
			p.log.Debug().Str("from", p.state.String()).Str("to", to.String()).Msg("state")
			p.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.state, to)
}
