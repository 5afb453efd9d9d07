package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nebulus/gantry/internal/platform/ctxutil"
	"github.com/nebulus/gantry/internal/platform/logger"
	"github.com/nebulus/gantry/internal/services"
	"github.com/nebulus/gantry/internal/sse"
)

type ChatHandler struct {
	log  *logger.Logger
	chat services.ChatService
}

func NewChatHandler(log *logger.Logger, chat services.ChatService) *ChatHandler {
	return &ChatHandler{
		log:  log.With("handler", "ChatHandler"),
		chat: chat,
	}
}

type createConversationRequest struct {
	Persona string `json:"persona"`
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	// UseVault toggles document excerpts in the assembled context.
	// Defaults to on.
	UseVault *bool `json:"use_vault"`
}

// POST /api/conversations
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	userID := currentUserID(c)
	var req createConversationRequest
	_ = c.ShouldBindJSON(&req)

	conv, err := h.chat.CreateConversation(c.Request.Context(), userID, req.Persona)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// GET /api/conversations
func (h *ChatHandler) ListConversations(c *gin.Context) {
	userID := currentUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	rows, err := h.chat.ListConversations(c.Request.Context(), userID, limit)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"conversations": rows})
}

// GET /api/conversations/:id
func (h *ChatHandler) GetConversation(c *gin.Context) {
	userID := currentUserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	conv, err := h.chat.GetConversation(c.Request.Context(), userID, id)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, conv)
}

// PATCH /api/conversations/:id
func (h *ChatHandler) UpdateConversation(c *gin.Context) {
	userID := currentUserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var upd services.ConversationUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	conv, err := h.chat.UpdateConversation(c.Request.Context(), userID, id, upd)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, conv)
}

// DELETE /api/conversations/:id
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	userID := currentUserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.chat.DeleteConversation(c.Request.Context(), userID, id); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /api/conversations/:id/messages
func (h *ChatHandler) ListMessages(c *gin.Context) {
	userID := currentUserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	afterSeq, _ := strconv.ParseInt(c.DefaultQuery("after_seq", "-1"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	rows, err := h.chat.ListMessages(c.Request.Context(), userID, id, afterSeq, limit)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"messages": rows})
}

// POST /api/conversations/:id/messages
// Streams the assistant reply as server-sent events.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID := currentUserID(c)
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	// Validate ownership before the response commits to event-stream.
	if _, err := h.chat.GetConversation(c.Request.Context(), userID, id); err != nil {
		RespondServiceError(c, err)
		return
	}

	writer, err := sse.NewStreamWriter(c.Writer, h.log)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", err)
		return
	}

	useVault := req.UseVault == nil || *req.UseVault
	if err := h.chat.SendMessage(c.Request.Context(), userID, id, req.Content, useVault, writer); err != nil {
		// The stream already carried a terminal event; nothing more to
		// send on this connection.
		h.log.Debug("send message finished with error", "conversation_id", id.String(), "error", err)
	}
}

func currentUserID(c *gin.Context) uuid.UUID {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil {
		return uuid.Nil
	}
	return rd.UserID
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", err)
		return uuid.Nil, false
	}
	return id, true
}
