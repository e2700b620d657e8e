package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"herbitect/apperror"
	"herbitect/clock"
	"herbitect/dto"
	"herbitect/model"
	"herbitect/repository"
	"herbitect/validator"
)

const (
	DefaultOTPTTL  = 10 * time.Minute
	DefaultSubject = "Your OTP for HerbiTect"

	otpMin = 100000
	otpMax = 999999
)

// Messages returned to API callers.
const (
	MsgEmailRequired       = "Email is required"
	MsgEmailOTPRequired    = "Email and OTP are required"
	MsgResetRequired       = "Email, OTP, and new password are required."
	MsgOTPNotFound         = "OTP not found. It may have expired."
	MsgOTPExpired          = "OTP has expired."
	MsgInvalidOTP          = "Invalid OTP."
	MsgOTPSent             = "OTP sent successfully."
	MsgPasswordUpdated     = "Password updated successfully."
	MsgCheckEmailFailed    = "An internal server error occurred"
	MsgSendOTPFailed       = "Failed to send OTP"
	MsgVerifyOTPFailed     = "An internal server error occurred."
	MsgResetPasswordFailed = "Failed to reset password."
)

// OTPStore is the external keyed store holding one record per email.
type OTPStore interface {
	// Put overwrites any record for email; the store assigns the timestamp.
	Put(ctx context.Context, email, code string) error
	// Get returns repository.ErrNotFound when no record exists.
	Get(ctx context.Context, email string) (*model.OTPRecord, error)
	Delete(ctx context.Context, email string) error
}

type OTPServiceDeps struct {
	Store     OTPStore
	Identity  IdentityProvider
	Mailer    Mailer
	Validator *validator.Validator
	Clock     clock.Clocker
	TTL       time.Duration
	Subject   string
	// Generate defaults to GenerateOTP.
	Generate func() (string, error)
}

// OTPService sequences the identity provider, OTP store and mail transport
// for the four account-recovery operations. It holds no per-request state.
type OTPService struct {
	store     OTPStore
	identity  IdentityProvider
	mailer    Mailer
	validator *validator.Validator
	clock     clock.Clocker
	ttl       time.Duration
	subject   string
	generate  func() (string, error)
}

func NewOTPService(d OTPServiceDeps) (*OTPService, error) {
	if d.Store == nil {
		return nil, errors.New("otp service: store is required")
	}
	if d.Identity == nil {
		return nil, errors.New("otp service: identity provider is required")
	}
	if d.Mailer == nil {
		return nil, errors.New("otp service: mailer is required")
	}

	s := &OTPService{
		store:     d.Store,
		identity:  d.Identity,
		mailer:    d.Mailer,
		validator: d.Validator,
		clock:     d.Clock,
		ttl:       d.TTL,
		subject:   d.Subject,
		generate:  d.Generate,
	}
	if s.validator == nil {
		v, err := validator.New()
		if err != nil {
			return nil, fmt.Errorf("otp service: %w", err)
		}
		s.validator = v
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.ttl <= 0 {
		s.ttl = DefaultOTPTTL
	}
	if s.subject == "" {
		s.subject = DefaultSubject
	}
	if s.generate == nil {
		s.generate = GenerateOTP
	}
	return s, nil
}

// GenerateOTP draws a code uniformly from [100000, 999999].
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+otpMin), nil
}

func (s *OTPService) validate(in any, msg string) error {
	if err := s.validator.Validate(in); err != nil {
		var ve validator.ValidationError
		if errors.As(err, &ve) {
			return apperror.NewValidation(msg, ve)
		}
		return apperror.NewValidation(msg, nil)
	}
	return nil
}

// CheckEmail reports whether the identity provider has an account for the
// email. A missing account is a normal false result.
func (s *OTPService) CheckEmail(ctx context.Context, in dto.CheckEmailRequest) (bool, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate(in, MsgEmailRequired); err != nil {
		return false, err
	}

	_, err := s.identity.GetUserByEmail(ctx, in.Email)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to look up user by email", "email", in.Email, "error", err)
		return false, apperror.NewInternal(err, MsgCheckEmailFailed)
	}
	return true, nil
}

// SendOTP stores a fresh code for the email, replacing any earlier one, and
// mails it. A mail failure after a successful write leaves the new record in
// place.
func (s *OTPService) SendOTP(ctx context.Context, in dto.SendOTPRequest) error {
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate(in, MsgEmailRequired); err != nil {
		return err
	}

	code, err := s.generate()
	if err != nil {
		slog.ErrorContext(ctx, "failed to generate otp", "error", err)
		return apperror.NewInternal(err, MsgSendOTPFailed)
	}

	if err := s.store.Put(ctx, in.Email, code); err != nil {
		slog.ErrorContext(ctx, "failed to store otp", "email", in.Email, "error", err)
		return apperror.NewInternal(err, MsgSendOTPFailed)
	}

	text, html, err := GenerateEmailContent(code, s.ttl)
	if err != nil {
		slog.ErrorContext(ctx, "failed to render otp email", "error", err)
		return apperror.NewInternal(err, MsgSendOTPFailed)
	}

	err = s.mailer.Send(ctx, EmailMessage{
		To:       in.Email,
		Subject:  s.subject,
		TextBody: text,
		HTMLBody: html,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to send otp email", "email", in.Email, "error", err)
		return apperror.NewInternal(err, MsgSendOTPFailed)
	}

	slog.InfoContext(ctx, "otp sent", "email", in.Email)
	return nil
}

// VerifyOTP consumes the code for the email. A nil error means the code
// matched and the record is gone.
func (s *OTPService) VerifyOTP(ctx context.Context, in dto.VerifyOTPRequest) error {
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate(in, MsgEmailOTPRequired); err != nil {
		return err
	}

	if err := s.checkCode(ctx, in.Email, in.OTP, MsgVerifyOTPFailed); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, in.Email); err != nil {
		slog.ErrorContext(ctx, "failed to delete verified otp", "email", in.Email, "error", err)
		return apperror.NewInternal(err, MsgVerifyOTPFailed)
	}
	return nil
}

// ResetPassword changes the account password once the code matches. The
// record is deleted only after the identity provider accepts the update, so a
// failed update leaves the code usable for a retry within its window.
func (s *OTPService) ResetPassword(ctx context.Context, in dto.ResetPasswordRequest) error {
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate(in, MsgResetRequired); err != nil {
		return err
	}

	if err := s.checkCode(ctx, in.Email, in.OTP, MsgResetPasswordFailed); err != nil {
		return err
	}

	user, err := s.identity.GetUserByEmail(ctx, in.Email)
	if err != nil {
		slog.ErrorContext(ctx, "failed to look up user for password reset", "email", in.Email, "error", err)
		return apperror.NewInternal(err, MsgResetPasswordFailed)
	}

	if err := s.identity.UpdatePassword(ctx, user.UID, in.NewPassword); err != nil {
		slog.ErrorContext(ctx, "failed to update password", "uid", user.UID, "error", err)
		return apperror.NewInternal(err, MsgResetPasswordFailed)
	}

	if err := s.store.Delete(ctx, in.Email); err != nil {
		slog.ErrorContext(ctx, "failed to delete otp after password reset", "email", in.Email, "error", err)
		return apperror.NewInternal(err, MsgResetPasswordFailed)
	}

	slog.InfoContext(ctx, "password reset", "uid", user.UID)
	return nil
}

// checkCode runs the absent/expired/mismatched/matched decision. Only the
// expired branch deletes here; the caller deletes on a match.
func (s *OTPService) checkCode(ctx context.Context, email, code, internalMsg string) error {
	rec, err := s.store.Get(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.NewNotFound(MsgOTPNotFound)
	}
	if err != nil {
		slog.ErrorContext(ctx, "failed to read otp", "email", email, "error", err)
		return apperror.NewInternal(err, internalMsg)
	}

	if rec.Expired(s.clock.Now(), s.ttl) {
		if err := s.store.Delete(ctx, email); err != nil {
			slog.ErrorContext(ctx, "failed to delete expired otp", "email", email, "error", err)
			return apperror.NewInternal(err, internalMsg)
		}
		return apperror.NewExpired(MsgOTPExpired)
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(rec.Code)) != 1 {
		return apperror.NewInvalidCode(MsgInvalidOTP)
	}
	return nil
}
