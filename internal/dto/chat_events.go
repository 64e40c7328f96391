package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/noah-isme/classlinker-chat/internal/models"
)

// Websocket event names.
const (
	EventJoinSubject  = "joinSubject"
	EventLeaveSubject = "leaveSubject"
	EventSendMessage  = "sendMessage"
	EventPing         = "ping"

	EventJoinedSubject = "joinedSubject"
	EventLeftSubject   = "leftSubject"
	EventNewMessage    = "newMessage"
	EventError         = "error"
	EventPong          = "pong"
)

// InboundEvent is a frame received from a chat client.
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundEvent is a frame sent to a chat client.
type OutboundEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ID accepts both JSON strings and numbers, since browser clients send either.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("id must be an integer")
	}
	*id = ID(n.String())
	return nil
}

// JoinSubjectPayload asks to enter a subject room. UserID and UserType are
// optional and, when present, must match the authenticated session.
type JoinSubjectPayload struct {
	SubjectID ID     `json:"subjectId" validate:"required,max=64"`
	UserID    ID     `json:"userId,omitempty" validate:"max=64"`
	UserType  string `json:"userType,omitempty" validate:"omitempty,oneof=teacher student"`
}

// SendMessagePayload posts a message to the joined room. UserName is ignored;
// the author name always comes from the session.
type SendMessagePayload struct {
	SubjectID ID     `json:"subjectId" validate:"required,max=64"`
	Message   string `json:"message"`
	UserID    ID     `json:"userId,omitempty" validate:"max=64"`
	UserName  string `json:"userName,omitempty"`
	UserType  string `json:"userType,omitempty" validate:"omitempty,oneof=teacher student"`
}

// LeaveSubjectPayload leaves the current room.
type LeaveSubjectPayload struct {
	SubjectID ID `json:"subjectId" validate:"required,max=64"`
}

// SubjectAck confirms a join or leave.
type SubjectAck struct {
	SubjectID string `json:"subjectId"`
}

// NewMessage is broadcast to every member of a room once a message is stored.
type NewMessage struct {
	ChatID    int64           `json:"chatId"`
	UserID    string          `json:"userId"`
	UserName  string          `json:"userName"`
	UserType  models.ChatRole `json:"userType"`
	SubjectID string          `json:"subjectId"`
	Message   string          `json:"message"`
	Time      time.Time       `json:"time"`
}

// NewMessageFrom projects a stored message onto the broadcast shape.
func NewMessageFrom(m models.ChatMessage) NewMessage {
	return NewMessage{
		ChatID:    m.ID,
		UserID:    m.AuthorID,
		UserName:  m.AuthorName,
		UserType:  m.AuthorRole,
		SubjectID: m.SubjectID,
		Message:   m.Body,
		Time:      m.CreatedAt,
	}
}

// ErrorPayload is sent to the originating connection only.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Event     string `json:"event,omitempty"`
	SubjectID string `json:"subjectId,omitempty"`
}
