package frame

import "fmt"

type State int

const (
	StateNeedsRebuild State = iota
	StateReady
	StateRecreating
)

func (s State) String() string {
	switch s {
	case StateNeedsRebuild:
		return "NeedsRebuild"
	case StateReady:
		return "Ready"
	case StateRecreating:
		return "Recreating"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome says what a DrawFrame call did.
type Outcome int

const (
	// OutcomePresented means the frame was submitted and presented and the
	// frame cursor advanced.
	OutcomePresented Outcome = iota
	// OutcomeAborted means the frame was abandoned before submission because
	// the swapchain went out of date or a rebuild was requested.
	OutcomeAborted
	// OutcomeSkipped means nothing was drawn because the swapchain could not
	// be rebuilt yet: the surface has zero extent or kept changing size.
	OutcomeSkipped
	// OutcomeInvalidated means the frame was submitted but presentation
	// reported the swapchain out of date. The GPU work still completes.
	OutcomeInvalidated
)

func (o Outcome) String() string {
	switch o {
	case OutcomePresented:
		return "Presented"
	case OutcomeAborted:
		return "Aborted"
	case OutcomeSkipped:
		return "Skipped"
	case OutcomeInvalidated:
		return "Invalidated"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}
