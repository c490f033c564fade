package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"livetalk-economy/internal/apperrors"
	"livetalk-economy/internal/middleware"
)

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.ErrInternalServerError, "internal server error")
	}
	_ = c.Error(err)
	c.JSON(apperrors.HTTPStatusFromCode(appErr.Code), appErr.Response())
}

func respondBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    apperrors.ErrInvalidRequest,
		"message": "invalid request",
		"details": err.Error(),
	})
}

func currentUser(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}
