package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classlinker-chat/internal/dto"
	"github.com/noah-isme/classlinker-chat/internal/models"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
	"github.com/noah-isme/classlinker-chat/pkg/response"
)

type chatQuerier interface {
	GetHistory(ctx context.Context, identity models.Identity, subjectID string, afterID int64) ([]models.ChatMessage, error)
	GetParticipants(ctx context.Context, identity models.Identity, subjectID string) ([]models.Participant, error)
	GetOnline(ctx context.Context, identity models.Identity, subjectID string) (*dto.OnlineResponse, error)
}

// ChatHandler serves subject chat history, roster and presence.
type ChatHandler struct {
	service chatQuerier
}

// NewChatHandler constructs the handler.
func NewChatHandler(service chatQuerier) *ChatHandler {
	return &ChatHandler{service: service}
}

// History godoc
// @Summary Subject chat history
// @Description Messages of a subject in commit order. Pass after to fetch only newer messages.
// @Tags Chat
// @Produce json
// @Param subjectId path string true "Subject ID"
// @Param after query int false "Return messages with chatId greater than this"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /subjects/{subjectId}/chat/history [get]
func (h *ChatHandler) History(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrNotAuthenticated)
		return
	}
	var afterID int64
	if raw := strings.TrimSpace(c.Query("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "after must be a non-negative integer"))
			return
		}
		afterID = parsed
	}
	messages, err := h.service.GetHistory(c.Request.Context(), identity, c.Param("subjectId"), afterID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, messages, map[string]interface{}{"count": len(messages)})
}

// Participants godoc
// @Summary Subject chat roster
// @Description The subject's teacher and every enrolled student.
// @Tags Chat
// @Produce json
// @Param subjectId path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /subjects/{subjectId}/chat/participants [get]
func (h *ChatHandler) Participants(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrNotAuthenticated)
		return
	}
	participants, err := h.service.GetParticipants(c.Request.Context(), identity, c.Param("subjectId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, participants, map[string]interface{}{"count": len(participants)})
}

// Online godoc
// @Summary Users connected to a subject room
// @Tags Chat
// @Produce json
// @Param subjectId path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /subjects/{subjectId}/chat/online [get]
func (h *ChatHandler) Online(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrNotAuthenticated)
		return
	}
	online, err := h.service.GetOnline(c.Request.Context(), identity, c.Param("subjectId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, online)
}
