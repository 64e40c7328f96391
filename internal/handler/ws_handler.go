package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/classlinker-chat/internal/models"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
	"github.com/noah-isme/classlinker-chat/pkg/response"
)

type connectionServer interface {
	Serve(conn *websocket.Conn, identity models.Identity)
}

// WSHandler upgrades authenticated requests to chat websocket connections.
type WSHandler struct {
	gateway  connectionServer
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWSHandler constructs the handler. checkOrigin may be nil to allow every origin.
func NewWSHandler(gateway connectionServer, checkOrigin func(*http.Request) bool, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WSHandler{
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// Connect godoc
// @Summary Open the subject chat websocket
// @Description Authenticate with a Bearer header or the token query parameter, then exchange
// @Description {"event","data"} frames: joinSubject, sendMessage, leaveSubject, ping.
// @Tags Chat
// @Param token query string false "Access token for browser clients"
// @Success 101
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /chat/ws [get]
func (h *WSHandler) Connect(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrNotAuthenticated)
		return
	}
	if !websocket.IsWebSocketUpgrade(c.Request) {
		response.Error(c, appErrors.Clone(appErrors.ErrBadRequest, "websocket upgrade required"))
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Sugar().Warnw("websocket upgrade failed", "user_id", identity.UserID, "error", err)
		return
	}
	h.gateway.Serve(conn, identity)
}
