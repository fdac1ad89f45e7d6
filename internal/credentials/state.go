package credentials

type State int

const (
	StateUnloaded State = iota
	StateLoadedValid
	StateLoadedInvalid
	StateRefreshing
	StateAuthorized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoadedValid:
		return "loaded-valid"
	case StateLoadedInvalid:
		return "loaded-invalid"
	case StateRefreshing:
		return "refreshing"
	case StateAuthorized:
		return "authorized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
