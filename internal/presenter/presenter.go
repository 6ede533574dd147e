// Package presenter renders state changes. The only renderer shipped is a
// structured log line per change; message keys are logged, never text.
package presenter

import (
	"github.com/bryan-buckman/feedwatch/internal/model"
	"github.com/bryan-buckman/feedwatch/internal/state"
	log "github.com/sirupsen/logrus"
)

// Logger is a state.Subscriber that writes one log entry per notification.
type Logger struct {
	entry *log.Entry
}

// NewLogger returns a presenter writing to logger. A nil logger means the
// logrus standard logger.
func NewLogger(logger *log.Logger) *Logger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Logger{entry: logger.WithField("component", "presenter")}
}

func (l *Logger) OnChange(_ state.Mutator, p state.Path, value any) {
	e := l.entry.WithField("path", string(p))
	switch v := value.(type) {
	case model.FormStatus:
		e = e.WithField("status", v)
	case model.FetchStatus:
		e = e.WithField("status", v)
	case model.FormMessage:
		e = e.WithFields(log.Fields{"message_key": v.Key, "message_kind": v.Kind})
	case model.FetchMessage:
		e = e.WithField("message_key", v.Key)
	case []model.Feed:
		e = e.WithField("feeds", len(v))
	case []model.Item:
		e = e.WithField("items", len(v))
	case *int64:
		if v != nil {
			e = e.WithField("item_id", *v)
		}
	case model.IDSet:
		e = e.WithField("viewed", len(v))
	}

	if isFailure(value) {
		e.Warn("State changed")
		return
	}
	e.Debug("State changed")
}

func isFailure(value any) bool {
	switch v := value.(type) {
	case model.FormStatus:
		return v == model.FormInvalid
	case model.FetchStatus:
		return v == model.FetchFailed
	}
	return false
}
