package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/UlleongUlleong/server-sub000/internal/directory"
	"github.com/UlleongUlleong/server-sub000/internal/service"
	"github.com/UlleongUlleong/server-sub000/internal/token"
	"github.com/UlleongUlleong/server-sub000/internal/verify"
	"github.com/UlleongUlleong/server-sub000/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc *service.UserService
	dir     *directory.Directory
	hub     *ws.Hub
}

func NewHandler(userSvc *service.UserService, dir *directory.Directory, hub *ws.Hub) *Handler {
	return &Handler{userSvc: userSvc, dir: dir, hub: hub}
}

// Register 处理账号注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Nickname string `json:"nickname" binding:"required,min=2,max=64"`
		Password string `json:"password" binding:"required,min=4,max=128"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Nickname = strings.TrimSpace(req.Nickname)
	result, err := h.userSvc.Register(c.Request.Context(), req.Email, req.Nickname, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) || errors.Is(err, service.ErrNicknameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": result.ID, "email": result.Email, "nickname": result.Nickname})
}

// Login 处理账号登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	result, err := h.userSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "nickname": result.User.Nickname},
	})
}

// RefreshToken 用旧 access token 旋转新凭证对。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		AccessToken string `json:"access_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Refresh(c.Request.Context(), req.AccessToken)
	if err != nil {
		if errors.Is(err, token.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		// 凭证无效与存储不可用必须可区分：这里是后者
		log.Error().Err(err).Msg("refresh token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

// Logout 吊销当前 access token 的旋转能力。
func (h *Handler) Logout(c *gin.Context) {
	tokenStr := bearerToken(c)
	if tokenStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.userSvc.Logout(c.Request.Context(), tokenStr); err != nil {
		log.Error().Err(err).Msg("logout")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RequestVerification 重发邮箱验证码。
func (h *Handler) RequestVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.userSvc.RequestVerification(c.Request.Context(), strings.ToLower(req.Email)); err != nil {
		log.Error().Err(err).Str("email", req.Email).Msg("request verification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ConfirmVerification 校验验证码，超限与不匹配分别映射状态码。
func (h *Handler) ConfirmVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	err := h.userSvc.ConfirmVerification(c.Request.Context(), strings.ToLower(req.Email), req.Code)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "verified"})
	case errors.Is(err, verify.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
	case errors.Is(err, verify.ErrCodeMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "code mismatch"})
	default:
		log.Error().Err(err).Str("email", req.Email).Msg("confirm verification")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
	}
}

// ListRooms 返回房间列表，附带各房间的在线人数。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.dir.ListRooms(100)
	if err != nil {
		log.Error().Err(err).Msg("list rooms")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list rooms"})
		return
	}
	type roomDTO struct {
		ID              uint   `json:"id"`
		Name            string `json:"name"`
		ThemeID         uint   `json:"themeId"`
		MaxParticipants int    `json:"maxParticipants"`
		Description     string `json:"description"`
		Online          int    `json:"online"`
	}
	out := make([]roomDTO, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, roomDTO{
			ID:              r.ID,
			Name:            r.Name,
			ThemeID:         r.ThemeID,
			MaxParticipants: r.MaxParticipants,
			Description:     r.Description,
			Online:          h.hub.Online(r.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

// ListThemes 返回全部主题。
func (h *Handler) ListThemes(c *gin.Context) {
	themes, err := h.dir.ListThemes()
	if err != nil {
		log.Error().Err(err).Msg("list themes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list themes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"themes": themes})
}

// ListCategories 返回酒类与氛围分类。
func (h *Handler) ListCategories(c *gin.Context) {
	alcohols, moods, err := h.dir.ListCategories()
	if err != nil {
		log.Error().Err(err).Msg("list categories")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list categories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alcoholCategories": alcohols, "moodCategories": moods})
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}
