package domain

import "time"

type NotificationKind string

const (
	NotifyRemoteWrite NotificationKind = "remote_write"
	NotifyRemoteRead  NotificationKind = "remote_read"
	NotifyValidation  NotificationKind = "validation"
)

// Notification is a non-fatal, user visible report of something the board
// could not do.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	TaskID  string           `json:"taskId,omitempty"`
	Message string           `json:"message"`
	At      time.Time        `json:"at"`
	Err     error            `json:"-"`
}
