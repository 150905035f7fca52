package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/healthconnect/internal/auth"
	"github.com/ashureev/healthconnect/internal/consult"
	"github.com/ashureev/healthconnect/internal/identity"
	"github.com/ashureev/healthconnect/internal/middleware"
	"github.com/ashureev/healthconnect/internal/otp"
	"github.com/ashureev/healthconnect/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Dependencies are the services the router wires into handlers.
type Dependencies struct {
	Repo           store.Repository
	Tokens         *auth.TokenIssuer
	Google         *auth.GoogleVerifier
	OTP            *otp.Service
	Relay          *consult.Session
	AllowedOrigins []string
	IsDev          bool
	Logger         *slog.Logger
	// RequestLogging enables chi's access log.
	RequestLogging bool
}

// NewRouter builds the full HTTP surface.
func NewRouter(d Dependencies) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var relayStatus RelayStatus
	if d.Relay != nil {
		relayStatus = d.Relay
	}

	base := NewHandler(d.Repo, logger)
	healthHandler := NewHealthHandler(d.Repo, relayStatus)
	userHandler := NewUserHandler(base, d.Tokens, d.Google)
	otpHandler := NewOTPHandler(base, d.OTP)
	appointmentHandler := NewAppointmentHandler(base)
	prescriptionHandler := NewPrescriptionHandler(base)
	consultHandler := consult.NewHandler(d.Relay, d.AllowedOrigins, d.IsDev, logger)

	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	if d.RequestLogging {
		r.Use(chiMiddleware.Logger)
	}
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(d.AllowedOrigins))
	r.Use(identity.Middleware(d.Tokens))

	healthHandler.RegisterHealth(r)

	// Accounts are served under both prefixes the frontend uses.
	r.Route("/api/users", userHandler.RegisterRoutes)
	r.Route("/users", userHandler.RegisterRoutes)

	r.Route("/api", otpHandler.RegisterRoutes)
	otpHandler.RegisterRoutes(r)

	r.Route("/appointments", appointmentHandler.RegisterRoutes)
	r.Route("/prescriptions", prescriptionHandler.RegisterRoutes)

	// WebSocket endpoints.
	consultHandler.RegisterRoutes(r)
	r.Route("/webrtc", consultHandler.RegisterRoutes)

	return r
}
