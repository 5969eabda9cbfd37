package model

import "time"

// Activity is one entry in the audit log shown on the activities screen.
type Activity struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	TargetType string    `json:"targetType"`
	TargetName string    `json:"targetName"`
	Timestamp  time.Time `json:"timestamp"`
}

// DashboardSummary aggregates the headline counts on the dashboard.
type DashboardSummary struct {
	Contacts      int `json:"contacts"`
	Tags          int `json:"tags"`
	Conversations int `json:"conversations"`
	Activities    int `json:"activities"`
}

// LabelCount is a generic chart bucket (contacts by company, tag distribution,
// activities timeline).
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}
