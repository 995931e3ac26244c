package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/apperr"
	"github.com/prperemyshlev/identity-service/internal/dto"
	"github.com/prperemyshlev/identity-service/internal/service"
)

// AuthHandler handles authentication requests
type AuthHandler struct {
	authService service.AuthService
	cookies     *Cookies
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService service.AuthService, cookies *Cookies) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookies:     cookies,
	}
}

var errPasswordMismatch = apperr.BadRequest(apperr.CodePasswordMismatch, "Passwords do not match")

func device(c *gin.Context, rememberMe bool) service.SessionOptions {
	return service.SessionOptions{
		UserAgent:  c.Request.UserAgent(),
		IPAddress:  c.ClientIP(),
		RememberMe: rememberMe,
	}
}

func authResponse(res *service.AuthResult) dto.AuthResponse {
	return dto.AuthResponse{
		User:      dto.NewUserResponse(res.User),
		SessionID: res.SessionID,
		Tokens:    dto.NewTokensResponse(res.Tokens),
	}
}

// Register handles user registration
// @Summary Register a new user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.RegisterRequest true "Registration request"
// @Success 201 {object} dto.AuthResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	if req.Password != req.ConfirmPassword {
		writeError(c, errPasswordMismatch)
		return
	}

	res, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Device:    device(c, false),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	h.cookies.Set(c, res.Tokens)

	message := "Registration successful"
	if !res.User.EmailVerified {
		message = "Registration successful. Please check your email to verify your account"
	}
	c.JSON(http.StatusCreated, dto.SuccessResponse{Message: message, Data: authResponse(res)})
}

// Login handles user login
// @Summary Login user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.LoginRequest true "Login request"
// @Success 200 {object} dto.AuthResponse
// @Failure 401 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	res, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Device:   device(c, req.RememberMe),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	h.cookies.Set(c, res.Tokens)
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Login successful", Data: authResponse(res)})
}

// Refresh accepts the refresh token from the JSON body or the refresh_token cookie.
// @Summary Refresh tokens
// @Tags auth
// @Produce json
// @Success 200 {object} dto.TokensResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, bindError(err))
		return
	}

	token := req.RefreshToken
	if token == "" {
		token, _ = c.Cookie(RefreshTokenCookie)
	}

	tokens, err := h.authService.RefreshTokens(c.Request.Context(), token)
	if err != nil {
		writeError(c, err)
		return
	}

	h.cookies.Set(c, tokens)
	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Tokens refreshed successfully",
		Data:    dto.NewTokensResponse(tokens),
	})
}

// Logout ends the current session
// @Summary Logout user
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.SuccessResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	h.authService.Logout(c.Request.Context(), c.GetString(ctxSessionID))
	h.cookies.Clear(c)
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Logged out successfully"})
}

// LogoutAll ends every session of the caller
// @Summary Logout from all devices
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.SuccessResponse
// @Router /auth/logout/all [post]
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	h.authService.LogoutAll(c.Request.Context(), c.GetString(ctxUserID))
	h.cookies.Clear(c)
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Logged out from all devices"})
}

// Sessions lists the caller's active sessions
// @Summary List active sessions
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {array} dto.SessionResponse
// @Router /auth/sessions [get]
func (h *AuthHandler) Sessions(c *gin.Context) {
	sessions, err := h.authService.ListSessions(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Sessions retrieved successfully",
		Data:    dto.NewSessionResponses(sessions, c.GetString(ctxSessionID)),
	})
}

// RevokeSession deletes one of the caller's sessions
// @Summary Revoke a session
// @Tags auth
// @Security BearerAuth
// @Param sessionId path string true "Session ID"
// @Success 200 {object} dto.SuccessResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /auth/sessions/{sessionId} [delete]
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if err := h.authService.RevokeSession(c.Request.Context(), sessionID, c.GetString(ctxUserID)); err != nil {
		writeError(c, err)
		return
	}

	if sessionID == c.GetString(ctxSessionID) {
		h.cookies.Clear(c)
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Session revoked successfully"})
}

// VerifyEmail consumes a verification token and signs the user in
// @Summary Verify email address
// @Tags auth
// @Param token query string true "Verification token"
// @Success 200 {object} dto.AuthResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /auth/verify-email [get]
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	res, err := h.authService.VerifyEmail(c.Request.Context(), c.Query("token"), device(c, false))
	if err != nil {
		writeError(c, err)
		return
	}

	h.cookies.Set(c, res.Tokens)
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Email verified successfully", Data: authResponse(res)})
}

// ResendVerification sends a fresh verification link
// @Summary Resend verification email
// @Tags auth
// @Accept json
// @Param request body dto.ResendVerificationRequest true "Email"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req dto.ResendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	if err := h.authService.ResendVerification(c.Request.Context(), req.Email); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Verification email sent"})
}

// ForgotPassword always answers the same way so that registered addresses cannot be probed.
// @Summary Request a password reset
// @Tags auth
// @Accept json
// @Param request body dto.ForgotPasswordRequest true "Email"
// @Success 200 {object} dto.SuccessResponse
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req dto.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	if err := h.authService.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "If an account exists for this email, a password reset link has been sent",
	})
}

// ResetPassword sets a new password with a reset token
// @Summary Reset password
// @Tags auth
// @Accept json
// @Param request body dto.ResetPasswordRequest true "Reset request"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		writeError(c, errPasswordMismatch)
		return
	}

	if err := h.authService.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Password reset successfully"})
}

// ChangePassword signs out every device, including the caller's.
// @Summary Change password
// @Tags auth
// @Security BearerAuth
// @Accept json
// @Param request body dto.ChangePasswordRequest true "Change request"
// @Success 200 {object} dto.SuccessResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/change-password [put]
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req dto.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		writeError(c, errPasswordMismatch)
		return
	}

	err := h.authService.ChangePassword(c.Request.Context(), c.GetString(ctxUserID), req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeError(c, err)
		return
	}

	h.cookies.Clear(c)
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Password changed successfully"})
}

// GetMe handles getting current user
// @Summary Get current user
// @Tags auth
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.UserResponse
// @Failure 401 {object} dto.ErrorResponse
// @Router /auth/me [get]
func (h *AuthHandler) GetMe(c *gin.Context) {
	if p := currentPrincipal(c); p != nil {
		c.JSON(http.StatusOK, dto.SuccessResponse{
			Message: "User retrieved successfully",
			Data:    gin.H{"user": dto.NewUserResponse(p.User)},
		})
		return
	}

	user, err := h.authService.GetUser(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "User retrieved successfully",
		Data:    gin.H{"user": dto.NewUserResponse(user)},
	})
}
