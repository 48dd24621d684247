package domain

import "time"

type ProcessedEvent struct {
	EventID     string
	Provider    Provider
	ProcessedAt time.Time
}
