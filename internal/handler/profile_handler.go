package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/apperr"
	"github.com/prperemyshlev/identity-service/internal/dto"
	"github.com/prperemyshlev/identity-service/internal/service"
)

const avatarFormField = "avatar"

type ProfileHandler struct {
	profiles service.ProfileService
}

func NewProfileHandler(profiles service.ProfileService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

func (h *ProfileHandler) GetProfile(c *gin.Context) {
	profile, err := h.profiles.GetProfile(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Profile retrieved successfully",
		Data: gin.H{"profile": dto.ProfileResponse{
			UserResponse:   dto.NewUserResponse(profile.User),
			ActiveSessions: profile.ActiveSessions,
		}},
	})
}

func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var req dto.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, bindError(err))
		return
	}

	user, err := h.profiles.UpdateProfile(c.Request.Context(), c.GetString(ctxUserID), service.ProfileInput{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		DisplayName: req.DisplayName,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Profile updated successfully",
		Data:    gin.H{"user": dto.NewUserResponse(user)},
	})
}

// UploadAvatar expects a multipart form with the image in the "avatar" field.
func (h *ProfileHandler) UploadAvatar(c *gin.Context) {
	header, err := c.FormFile(avatarFormField)
	if err != nil {
		writeError(c, apperr.BadRequest(apperr.CodeInvalidFile, "No file uploaded"))
		return
	}

	file, err := header.Open()
	if err != nil {
		writeError(c, apperr.BadRequest(apperr.CodeInvalidFile, "Failed to read uploaded file"))
		return
	}
	defer file.Close()

	user, err := h.profiles.UploadAvatar(c.Request.Context(), c.GetString(ctxUserID), file, header.Size)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Message: "Avatar updated successfully",
		Data:    gin.H{"avatarUrl": user.AvatarURL},
	})
}

func (h *ProfileHandler) RemoveAvatar(c *gin.Context) {
	if _, err := h.profiles.RemoveAvatar(c.Request.Context(), c.GetString(ctxUserID)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Avatar removed successfully"})
}

func (h *ProfileHandler) Stats(c *gin.Context) {
	stats, err := h.profiles.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Auth statistics retrieved successfully", Data: stats})
}

func (h *ProfileHandler) CheckEmail(c *gin.Context) {
	email := c.Query("email")
	if email == "" {
		writeError(c, apperr.BadRequest(apperr.CodeValidation, "Validation failed", "email is required"))
		return
	}

	exists, err := h.profiles.EmailExists(c.Request.Context(), email)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Email check completed", Data: gin.H{"exists": exists}})
}
