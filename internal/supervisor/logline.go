package supervisor

import "time"

// TimestampLayout is the layout used when a LogLine is rendered as text.
const TimestampLayout = "2006-01-02 15:04:05"

type Severity int

const (
	SeverityNormal Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "normal"
}

// LogLine is one entry for the log view: either relayed child output or a
// lifecycle announcement of the supervisor.
type LogLine struct {
	Time     time.Time
	Text     string
	Severity Severity
}

// String renders the line as "[2006-01-02 15:04:05] text", with an [ERROR]
// marker for error lines.
func (l LogLine) String() string {
	ts := "[" + l.Time.Format(TimestampLayout) + "] "
	if l.Severity == SeverityError {
		return ts + "[ERROR] " + l.Text
	}
	return ts + l.Text
}

// LogSink receives log lines on the control loop. It is called once per
// output line and must be cheap.
type LogSink func(LogLine)

// FanOut returns a sink that forwards every line to each non-nil sink in order.
func FanOut(sinks ...LogSink) LogSink {
	var live []LogSink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return func(l LogLine) {
		for _, s := range live {
			s(l)
		}
	}
}
