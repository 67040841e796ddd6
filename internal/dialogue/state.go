package dialogue

// State is a step of the conversation state machine.
type State int

const (
	AwaitingUserInput State = iota
	ModelDeciding
	Answering
	Retrieving
	ModelFinishing
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingUserInput:
		return "awaiting_user_input"
	case ModelDeciding:
		return "model_deciding"
	case Answering:
		return "answering"
	case Retrieving:
		return "retrieving"
	case ModelFinishing:
		return "model_finishing"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}
