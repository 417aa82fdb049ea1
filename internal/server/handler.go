package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/PedroFSampaio/chat-interno/internal/auth"
	"github.com/PedroFSampaio/chat-interno/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc    *service.UserService
	convSvc    *service.ConversationService
	msgSvc     *service.MessageService
	summarySvc *service.SummaryService
}

func NewHandler(userSvc *service.UserService, convSvc *service.ConversationService, msgSvc *service.MessageService, summarySvc *service.SummaryService) *Handler {
	return &Handler{userSvc: userSvc, convSvc: convSvc, msgSvc: msgSvc, summarySvc: summarySvc}
}

// statusFor 把业务错误映射为 HTTP 状态码和对外的错误文案。
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrAuthentication), errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, service.ErrAuthorization):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, service.ErrUsernameTaken):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrInvalidOperation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrNoAdminAvailable):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, service.ErrPersistenceTimeout):
		return http.StatusGatewayTimeout, "storage timeout"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(c *gin.Context, op string, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Uint("user_id", auth.GetIdentity(c).UserID).Msg(op)
	}
	c.JSON(code, gin.H{"error": msg})
}

func idParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		writeError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": auth.GetIdentity(c)})
}

// ListUsers 返回可以发起私聊的其他用户。
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.userSvc.List(c.Request.Context(), auth.GetIdentity(c).UserID)
	if err != nil {
		writeError(c, "list users", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// CreateUser 仅管理员可用。
func (h *Handler) CreateUser(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	u, err := h.userSvc.Create(c.Request.Context(), service.CreateUserRequest{
		Name: req.Name, Username: req.Username, Password: req.Password, Role: req.Role,
	})
	if err != nil {
		writeError(c, "create user", err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// ListConversations 返回当前用户的会话摘要，按最近活动排序。
func (h *Handler) ListConversations(c *gin.Context) {
	list, err := h.summarySvc.List(c.Request.Context(), auth.GetIdentity(c).UserID)
	if err != nil {
		writeError(c, "list conversations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// CreateConversation 查找或创建与另一用户的私聊。
func (h *Handler) CreateConversation(c *gin.Context) {
	var req struct {
		OtherUserID uint `json:"other_user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.OtherUserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id, err := h.convSvc.ResolveOrCreateDirect(c.Request.Context(), auth.GetIdentity(c).UserID, req.OtherUserID)
	if err != nil {
		writeError(c, "resolve direct conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// Support 返回当前用户的支持会话，不存在时创建。
func (h *Handler) Support(c *gin.Context) {
	id, isNew, err := h.convSvc.ResolveOrCreateSupport(c.Request.Context(), auth.GetIdentity(c).UserID)
	if err != nil {
		writeError(c, "resolve support conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "isNew": isNew})
}

// ListMessages 处理获取会话消息列表请求。
func (h *Handler) ListMessages(c *gin.Context) {
	convID, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var beforeID uint
	if bid := c.Query("before_id"); bid != "" {
		if v, err := strconv.ParseUint(bid, 10, 64); err == nil && v > 0 {
			beforeID = uint(v)
		}
	}
	msgs, err := h.msgSvc.List(c.Request.Context(), auth.GetIdentity(c).UserID, convID, limit, beforeID)
	if err != nil {
		writeError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
