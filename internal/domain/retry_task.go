package domain

import "time"

type RetryTask struct {
	ID            string
	Provider      Provider
	Payload       []byte
	Signature     string
	AttemptCount  int
	Processed     bool
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewRetryTask(id string, provider Provider, payload []byte, signature, cause string, now time.Time) *RetryTask {
	return &RetryTask{
		ID:            id,
		Provider:      provider,
		Payload:       payload,
		Signature:     signature,
		LastError:     cause,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RecordAttempt counts one replay. A processed task is never selected again;
// otherwise it becomes eligible at nextAttemptAt.
func (t *RetryTask) RecordAttempt(processed bool, lastError string, nextAttemptAt, now time.Time) {
	t.AttemptCount++
	t.Processed = processed
	t.LastError = lastError
	if !processed {
		t.NextAttemptAt = nextAttemptAt
	}
	t.UpdatedAt = now
}
