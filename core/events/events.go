package events

import "time"

// Stage identifies the pipeline stage an event originates from.
type Stage string

const (
	StageTurn       Stage = "turn"
	StageVAD        Stage = "vad"
	StageTranscribe Stage = "transcribe"
	StageAnswer     Stage = "answer"
	StageNormalize  Stage = "normalize"
	StageSynthesis  Stage = "synthesis"
	StagePlayback   Stage = "playback"
)

// Status describes what happened at a stage.
type Status string

const (
	StatusStarted   Status = "started"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// StageEvent is one record in a session's timeline. Sequence is zero
// until the state backend assigns it on append; everything else is set
// by the emitting stage.
type StageEvent struct {
	Sequence  int64     `json:"sequence"`
	TurnID    string    `json:"turn_id"`
	Stage     Stage     `json:"stage"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Payload   string    `json:"payload,omitempty"`
}

func New(turnID string, stage Stage, status Status, payload string) StageEvent {
	return StageEvent{
		TurnID:    turnID,
		Stage:     stage,
		Status:    status,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

func Started(turnID string, stage Stage) StageEvent {
	return New(turnID, stage, StatusStarted, "")
}

func Partial(turnID string, stage Stage, payload string) StageEvent {
	return New(turnID, stage, StatusPartial, payload)
}

func Completed(turnID string, stage Stage, payload string) StageEvent {
	return New(turnID, stage, StatusCompleted, payload)
}

func Errored(turnID string, stage Stage, err error) StageEvent {
	payload := ""
	if err != nil {
		payload = err.Error()
	}
	return New(turnID, stage, StatusError, payload)
}

func Cancelled(turnID string, stage Stage) StageEvent {
	return New(turnID, stage, StatusCancelled, "")
}
