package live

// State is the lifecycle position of a Session.
//
//	Disconnected -> Connecting -> Open -> Closing -> Disconnected
//
// Failed is entered from Connecting or Open on a device or transport error
// and always ends in Disconnected once cleanup has run.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Closing
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
