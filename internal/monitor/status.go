package monitor

import "fmt"

// Level is the severity of the aggregate status.
type Level string

const (
	LevelOK    Level = "OK"
	LevelBusy  Level = "BUSY"
	LevelError Level = "ERROR"
)

// Value maps the level to a number for gauges.
func (l Level) Value() int {
	switch l {
	case LevelBusy:
		return 1
	case LevelError:
		return 2
	default:
		return 0
	}
}

// Status is the aggregate (level, message) pair shown on status displays.
type Status struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

const (
	msgLost        = "lost job(s) - see logs"
	msgStopFailure = "file writer refused stop time - see logs"
)

var idle = Status{Level: LevelOK}

func writing(n int) Status {
	return Status{Level: LevelBusy, Message: fmt.Sprintf("writing %d jobs", n)}
}

func (s Status) String() string {
	if s.Message == "" {
		return string(s.Level)
	}
	return string(s.Level) + ": " + s.Message
}
