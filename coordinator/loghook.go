package coordinator

import (
	"github.com/sirupsen/logrus"

	"github.com/cealn-go/cealn/buildevent"
	"github.com/cealn-go/cealn/label"
)

// LogHook is a logrus hook that forwards log entries into a Session's
// event stream as buildevent.Message events, the build-event analogue of
// the teacher's LogrusHook (which forwarded entries to when-v3 as
// LogEntry messages over the coordinator's WSMessage protocol).
type LogHook struct {
	session  *Session
	source   label.Label
	levels   []logrus.Level
	minLevel logrus.Level
}

// NewLogHook creates a hook that publishes entries at or above minLevel
// into session, tagged with source (typically the target currently being
// built).
func NewLogHook(session *Session, source label.Label, minLevel logrus.Level) *LogHook {
	var levels []logrus.Level
	for _, level := range logrus.AllLevels {
		if level <= minLevel {
			levels = append(levels, level)
		}
	}
	return &LogHook{session: session, source: source, levels: levels, minLevel: minLevel}
}

// Levels returns the log levels this hook fires for.
func (h *LogHook) Levels() []logrus.Level { return h.levels }

// Fire publishes entry as a Message event.
func (h *LogHook) Fire(entry *logrus.Entry) error {
	human := entry.Message
	h.session.Publish(buildevent.Message(h.source, levelToMessageLevel(entry.Level), entry.Message, human))
	return nil
}

func levelToMessageLevel(level logrus.Level) buildevent.MessageLevel {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return buildevent.LevelDebug
	case logrus.WarnLevel:
		return buildevent.LevelWarn
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return buildevent.LevelError
	default:
		return buildevent.LevelInfo
	}
}
