package dto

import "github.com/noah-isme/classlinker-chat/internal/models"

// OnlineResponse lists users with a live connection in a subject room.
type OnlineResponse struct {
	SubjectID string   `json:"subjectId"`
	UserIDs   []string `json:"userIds"`
}

// TranscriptRequest captures POST /subjects/:subjectId/chat/transcripts payload.
type TranscriptRequest struct {
	Format models.TranscriptFormat `json:"format" validate:"required,oneof=csv pdf"`
}

// TranscriptJobResponse is returned after enqueueing an export.
type TranscriptJobResponse struct {
	ID       string                  `json:"id"`
	Status   models.TranscriptStatus `json:"status"`
	Progress int                     `json:"progress"`
}

// TranscriptStatusResponse exposes export progress.
type TranscriptStatusResponse struct {
	ID           string                  `json:"id"`
	SubjectID    string                  `json:"subjectId"`
	Format       models.TranscriptFormat `json:"format"`
	Status       models.TranscriptStatus `json:"status"`
	Progress     int                     `json:"progress"`
	MessageCount int                     `json:"messageCount"`
	ResultURL    *string                 `json:"resultUrl,omitempty"`
	Error        *string                 `json:"error,omitempty"`
}
