package board

import (
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Notifier receives non-fatal failures the board reports to the user.
type Notifier interface {
	Notify(n domain.Notification)
}

type NotifierFunc func(domain.Notification)

func (f NotifierFunc) Notify(n domain.Notification) { f(n) }

// LogNotifier writes notifications to a logrus logger.
type LogNotifier struct {
	Logger *log.Logger
}

func (l LogNotifier) Notify(n domain.Notification) {
	logger := l.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	entry := logger.WithFields(log.Fields{
		"kind":    string(n.Kind),
		"task_id": n.TaskID,
	})
	if n.Err != nil {
		entry = entry.WithError(n.Err)
	}
	entry.Warn(n.Message)
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n domain.Notification) {
	for _, target := range m {
		if target != nil {
			target.Notify(n)
		}
	}
}
