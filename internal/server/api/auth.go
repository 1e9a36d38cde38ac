package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/objects"
	"github.com/looplj/tenantguard/internal/server/biz"
)

type AuthHandlersParams struct {
	fx.In

	AuthService   *biz.AuthService
	TenantService *biz.TenantService
}

func NewAuthHandlers(params AuthHandlersParams) *AuthHandlers {
	return &AuthHandlers{
		AuthService:   params.AuthService,
		TenantService: params.TenantService,
	}
}

type AuthHandlers struct {
	AuthService   *biz.AuthService
	TenantService *biz.TenantService
}

type SignInRequest struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type SignInResponse struct {
	User  objects.UserInfo `json:"user"`
	Token string           `json:"token"`
}

// SignIn handles user authentication.
func (h *AuthHandlers) SignIn(c *gin.Context) {
	var (
		ctx = c.Request.Context()
		req SignInRequest
	)

	err := c.ShouldBindJSON(&req)
	if err != nil {
		JSONError(c, http.StatusBadRequest, errors.New("Invalid request format"))
		return
	}

	user, err := h.AuthService.AuthenticateUser(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, biz.ErrInvalidPassword) {
			JSONError(c, http.StatusUnauthorized, errors.New("Invalid email or password"))
			return
		}

		JSONError(c, http.StatusInternalServerError, errors.New("Internal server error"))

		return
	}

	h.respondWithToken(c, user)
}

// SignUp registers a new tenant and signs its owner in.
func (h *AuthHandlers) SignUp(c *gin.Context) {
	var req biz.RegisterTenantInput

	err := c.ShouldBindJSON(&req)
	if err != nil {
		JSONError(c, http.StatusBadRequest, errors.New("Invalid request format"))
		return
	}

	user, err := h.TenantService.Register(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, biz.ErrEmailTaken):
			JSONError(c, http.StatusConflict, err)
		case errors.Is(err, biz.ErrInvalidInput):
			JSONError(c, http.StatusBadRequest, err)
		default:
			JSONError(c, http.StatusInternalServerError, errors.New("Internal server error"))
		}

		return
	}

	h.respondWithToken(c, user)
}

func (h *AuthHandlers) respondWithToken(c *gin.Context, user objects.UserInfo) {
	token, err := h.AuthService.GenerateJWTToken(c.Request.Context(), user)
	if err != nil {
		JSONError(c, http.StatusInternalServerError, errors.New("Internal server error"))
		return
	}

	c.JSON(http.StatusOK, SignInResponse{
		User:  user,
		Token: token,
	})
}
