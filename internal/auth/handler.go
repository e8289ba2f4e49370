package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/worship-room/pkg/jwt"
)

// Handler exposes the session endpoints. Identity itself is owned by an
// external service; tokens are only minted locally in development.
type Handler struct {
	signer    *jwt.Signer
	devTokens bool
}

func NewHandler(signer *jwt.Signer, devTokens bool) *Handler {
	return &Handler{signer: signer, devTokens: devTokens}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		if h.devTokens {
			auth.POST("/dev-token", h.devToken)
		}

		protected := auth.Group("", Middleware(h.signer))
		protected.GET("/me", h.me)
	}
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id")})
}

type DevTokenRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) devToken(c *gin.Context) {
	var req DevTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := uuid.New()
	if req.UserID != "" {
		id, err := uuid.Parse(req.UserID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		userID = id
	}

	token, err := h.signer.GenerateToken(userID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	c.JSON(http.StatusOK, gin.H{"token": token, "user_id": userID})
}
