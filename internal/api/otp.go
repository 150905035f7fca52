package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/healthconnect/internal/otp"
	"github.com/go-chi/chi/v5"
)

// OTPHandler handles one-time code endpoints.
type OTPHandler struct {
	*Handler
	otp *otp.Service
}

// NewOTPHandler creates a new OTPHandler.
func NewOTPHandler(h *Handler, svc *otp.Service) *OTPHandler {
	return &OTPHandler{Handler: h, otp: svc}
}

// RegisterRoutes mounts the code routes under r.
func (h *OTPHandler) RegisterRoutes(r chi.Router) {
	r.Post("/send-otp", h.SendOTP)
	r.Post("/verify-otp", h.VerifyOTP)
}

type sendOTPRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type sendOTPResponse struct {
	Email     string    `json:"email"`
	Sent      bool      `json:"sent"`
	ExpiresAt time.Time `json:"expires_at"`
	DebugOTP  *string   `json:"debug_otp"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type verifyOTPResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

// SendOTP creates and mails a verification code.
func (h *OTPHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		Error(w, http.StatusBadRequest, "Invalid payload: email is required")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "User"
	}

	issued, err := h.otp.Send(r.Context(), email, name)
	if err != nil {
		if errors.Is(err, otp.ErrRateLimited) {
			Error(w, http.StatusTooManyRequests, "Too many OTP requests, try again later")
			return
		}
		h.logger.Error("Failed to create OTP", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to create OTP")
		return
	}

	JSON(w, http.StatusOK, sendOTPResponse{
		Email:     issued.Email,
		Sent:      issued.Sent,
		ExpiresAt: issued.ExpiresAt.UTC(),
		DebugOTP:  issued.DebugCode,
	})
}

// VerifyOTP checks a code and marks it consumed.
func (h *OTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if err := requireFields([2]string{"email", email}, [2]string{"otp", req.OTP}); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}

	result, err := h.otp.Verify(r.Context(), email, req.OTP)
	switch {
	case errors.Is(err, otp.ErrNotFound):
		Error(w, http.StatusNotFound, "OTP not found or does not match")
		return
	case errors.Is(err, otp.ErrExpired):
		Error(w, http.StatusBadRequest, "OTP expired")
		return
	case err != nil:
		h.logger.Error("Failed to verify OTP", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to verify OTP")
		return
	}

	message := "OTP verified"
	if result.AlreadyVerified {
		message = "OTP already verified"
	}
	JSON(w, http.StatusOK, verifyOTPResponse{Verified: true, Message: message})
}
