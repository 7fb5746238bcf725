package ipc

// Summary counts classified receives by kind.
type Summary struct {
	Frames        int `json:"frames" yaml:"frames"`
	Requests      int `json:"requests" yaml:"requests"`
	Notifications int `json:"notifications" yaml:"notifications"`
	Responses     int `json:"responses" yaml:"responses"`
	Errors        int `json:"errors" yaml:"errors"`
	Malformed     int `json:"malformed" yaml:"malformed"`
}

// Summarize counts receives. Exit is not a frame and is not counted.
func Summarize(receives []Receive) Summary {
	var s Summary
	for _, r := range receives {
		switch r.(type) {
		case Request:
			s.Requests++
		case Notification:
			s.Notifications++
		case Response:
			s.Responses++
		case ErrorResponse:
			s.Errors++
		case Malformed:
			s.Malformed++
		default:
			continue
		}
		s.Frames++
	}
	return s
}
