package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"herbitect/apperror"
	"herbitect/dto"
	"herbitect/services"
)

// OTPService is what the handlers need from services.OTPService.
type OTPService interface {
	CheckEmail(ctx context.Context, in dto.CheckEmailRequest) (bool, error)
	SendOTP(ctx context.Context, in dto.SendOTPRequest) error
	VerifyOTP(ctx context.Context, in dto.VerifyOTPRequest) error
	ResetPassword(ctx context.Context, in dto.ResetPasswordRequest) error
}

// OTPController registers the account-recovery routes. limit guards the
// routes that create or consume codes; it may be nil.
func OTPController(router gin.IRouter, svc OTPService, limit gin.HandlerFunc) {
	guarded := []gin.HandlerFunc{}
	if limit != nil {
		guarded = append(guarded, limit)
	}

	router.POST("/check-email", func(c *gin.Context) {
		CheckEmail(c, svc)
	})
	router.POST("/send-otp", append(guarded, func(c *gin.Context) {
		SendOTP(c, svc)
	})...)
	router.POST("/verify-otp", append(guarded, func(c *gin.Context) {
		VerifyOTP(c, svc)
	})...)
	router.POST("/reset-password", append(guarded, func(c *gin.Context) {
		ResetPassword(c, svc)
	})...)
}

func CheckEmail(c *gin.Context, svc OTPService) {
	var req dto.CheckEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: services.MsgEmailRequired})
		return
	}

	exists, err := svc.CheckEmail(c.Request.Context(), req)
	if err != nil {
		status, msg := errorStatus(c, err, services.MsgCheckEmailFailed)
		c.JSON(status, dto.ErrorResponse{Error: msg})
		return
	}

	c.JSON(http.StatusOK, dto.CheckEmailResponse{Exists: exists})
}

func SendOTP(c *gin.Context, svc OTPService) {
	var req dto.SendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: services.MsgEmailRequired})
		return
	}

	if err := svc.SendOTP(c.Request.Context(), req); err != nil {
		status, msg := errorStatus(c, err, services.MsgSendOTPFailed)
		c.JSON(status, dto.ErrorResponse{Error: msg})
		return
	}

	c.JSON(http.StatusOK, dto.ResultResponse{Success: true, Message: services.MsgOTPSent})
}

func VerifyOTP(c *gin.Context, svc OTPService) {
	var req dto.VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ResultResponse{Success: false, Error: services.MsgEmailOTPRequired})
		return
	}

	if err := svc.VerifyOTP(c.Request.Context(), req); err != nil {
		status, msg := errorStatus(c, err, services.MsgVerifyOTPFailed)
		c.JSON(status, dto.ResultResponse{Success: false, Error: msg})
		return
	}

	c.JSON(http.StatusOK, dto.ResultResponse{Success: true})
}

func ResetPassword(c *gin.Context, svc OTPService) {
	var req dto.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ResultResponse{Success: false, Error: services.MsgResetRequired})
		return
	}

	if err := svc.ResetPassword(c.Request.Context(), req); err != nil {
		status, msg := errorStatus(c, err, services.MsgResetPasswordFailed)
		c.JSON(status, dto.ResultResponse{Success: false, Error: msg})
		return
	}

	c.JSON(http.StatusOK, dto.ResultResponse{Success: true, Message: services.MsgPasswordUpdated})
}

func errorStatus(c *gin.Context, err error, fallback string) (int, string) {
	var e *apperror.Error
	if errors.As(err, &e) {
		return e.StatusCode(), e.Msg()
	}
	slog.ErrorContext(c.Request.Context(), "unclassified error", "path", c.FullPath(), "error", err)
	return http.StatusInternalServerError, fallback
}
