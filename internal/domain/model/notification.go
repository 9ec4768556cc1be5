package model

import "time"

// NotificationType names a state-change notification.
type NotificationType string

const (
	NotifyMasteryUpdated       NotificationType = "mastery_updated"
	NotifyEngagementChanged    NotificationType = "engagement_level_changed"
	NotifyEngagementAlert      NotificationType = "engagement_alert"
	NotifySessionPlanned       NotificationType = "session_planned"
	NotifyInterventionRecorded NotificationType = "intervention_recorded"
)

// Notification is a discrete message for real-time subscribers.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	StudentID string           `json:"student_id,omitempty"`
	ClassID   string           `json:"class_id,omitempty"`
	Payload   any              `json:"payload"`
	At        time.Time        `json:"at"`
}
