package storage

import (
	"database/sql"
	"encoding/json"
	"time"
)

// JobState enumerates the possible states of a job.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateDelayed   JobState = "delayed"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// Valid reports whether s is one of the five known states.
func (s JobState) Valid() bool {
	switch s {
	case StateWaiting, StateActive, StateDelayed, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state eligible for Clean.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is the record we persist for each unit of work. Payload stays generic
// as raw JSON; the store never interprets it.
type Job struct {
	ID           int64           `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	State        JobState        `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	CreatedAt    time.Time       `json:"created_at"`
	DelayUntil   sql.NullTime    `json:"delay_until"`
	ProcessedOn  sql.NullTime    `json:"processed_on"`
	FinishedOn   sql.NullTime    `json:"finished_on"`
	FailedReason sql.NullString  `json:"failed_reason"`
	Stacktrace   sql.NullString  `json:"stacktrace"`
}

// Outcome is a worker's report for a claimed job.
type Outcome struct {
	Success    bool
	Reason     string
	Stacktrace string
}

// QueueInfo is the operator-facing summary of one queue.
type QueueInfo struct {
	Name   string           `json:"name"`
	Paused bool             `json:"paused"`
	Counts map[JobState]int `json:"counts"`
}
