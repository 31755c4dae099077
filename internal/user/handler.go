package user

import (
	"collaborative-document-server/auth"
	"collaborative-document-server/internal/config"
	"collaborative-document-server/internal/errors"
	"collaborative-document-server/redis"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handler handles HTTP requests for users
type Handler struct {
	service Service
	log     zerolog.Logger
}

// NewHandler creates a new user handler
func NewHandler(service Service, log zerolog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// FormLogin represents login form data
type FormLogin struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// FormRegister represents registration form data
type FormRegister struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// Register handles user registration
func (h *Handler) Register(c *gin.Context) {
	var form FormRegister
	if err := c.ShouldBindJSON(&form); err != nil {
		errors.HandleError(c, errors.ErrInvalidInput(err))
		return
	}

	user := &User{
		Name:     form.Name,
		Email:    form.Email,
		Password: form.Password,
		IsActive: true,
	}

	if err := h.service.Register(user); err != nil {
		errors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user.ToSafeUser()})
}

// Login handles user login: verifies the password, issues a signed
// credential and puts it on the revocation allowlist.
func (h *Handler) Login(c *gin.Context) {
	var form FormLogin
	if err := c.ShouldBindJSON(&form); err != nil {
		errors.HandleError(c, errors.ErrInvalidInput(err))
		return
	}

	user, err := h.service.Login(form.Email, form.Password)
	if err != nil {
		errors.HandleError(c, err)
		return
	}

	token, err := auth.GenerateJWT(user.ID)
	if err != nil {
		errors.HandleError(c, errors.ErrInternalServer(err))
		return
	}

	if err := redis.StoreToken(c.Request.Context(), token, user.ID, config.AppConfig.TokenTTL); err != nil {
		errors.HandleError(c, errors.ErrInternalServer(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"user":         user.ToSafeUser(),
	})
}

// Logout handles user logout
func (h *Handler) Logout(c *gin.Context) {
	token := c.GetString("jwt_token")
	if err := redis.DeleteToken(c.Request.Context(), token); err != nil {
		h.log.Warn().Err(err).Msg("failed to revoke token")
	}
	c.Status(http.StatusNoContent)
}

// GetProfile handles getting the current user's profile
func (h *Handler) GetProfile(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		errors.HandleError(c, errors.ErrUnauthorized(nil).WithMessage("user not found"))
		return
	}

	user, err := h.service.GetUserByID(userID.(uint64))
	if err != nil {
		errors.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, user.ToSafeUser())
}
