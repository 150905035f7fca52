package api

import (
	"crypto/md5" //nolint:gosec // Gravatar addresses are keyed by MD5.
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/healthconnect/internal/auth"
	"github.com/ashureev/healthconnect/internal/domain"
	"github.com/ashureev/healthconnect/internal/identity"
	"github.com/ashureev/healthconnect/internal/store"
	"github.com/go-chi/chi/v5"
)

const gravatarURL = "https://www.gravatar.com/avatar/%s?d=404&s=200"

// UserHandler handles account endpoints.
type UserHandler struct {
	*Handler
	tokens *auth.TokenIssuer
	google *auth.GoogleVerifier
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(h *Handler, tokens *auth.TokenIssuer, google *auth.GoogleVerifier) *UserHandler {
	return &UserHandler{Handler: h, tokens: tokens, google: google}
}

// RegisterRoutes mounts the account routes under r.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/signup", h.Signup)
	r.Post("/login", h.Login)
	r.Post("/google-login", h.GoogleLogin)
	r.With(identity.Require).Get("/me", h.Me)
	r.Put("/update/{user_id}", h.UpdateByID)
	r.Put("/update/email/{email}", h.UpdateByEmail)
	r.Get("/profile-image", h.ProfileImage)
}

// userRequest is the signup and update body.
type userRequest struct {
	Name              string  `json:"name"`
	Email             string  `json:"email"`
	Password          string  `json:"password"`
	Role              string  `json:"role"`
	Allergies         string  `json:"allergies"`
	Medications       string  `json:"medications"`
	Surgeries         string  `json:"surgeries"`
	Age               *int    `json:"age"`
	Gender            *string `json:"gender"`
	BloodGroup        *string `json:"blood_group"`
	ProfilePictureURL *string `json:"profile_picture_url"`
}

func (req *userRequest) validate() error {
	req.Email = strings.TrimSpace(req.Email)
	if err := requireFields(
		[2]string{"name", req.Name},
		[2]string{"email", req.Email},
		[2]string{"password", req.Password},
		[2]string{"role", req.Role},
	); err != nil {
		return err
	}
	if !strings.Contains(req.Email, "@") {
		return errors.New("email is invalid")
	}
	return nil
}

// apply copies the request onto u. Optional fields left out of the body keep
// their stored values.
func (req *userRequest) apply(u *domain.User, passwordHash string) {
	u.Name = req.Name
	u.Email = req.Email
	u.PasswordHash = passwordHash
	u.Role = req.Role
	u.Allergies = req.Allergies
	u.Medications = req.Medications
	u.Surgeries = req.Surgeries
	if req.Age != nil {
		u.Age = req.Age
	}
	if req.Gender != nil {
		u.Gender = req.Gender
	}
	if req.BloodGroup != nil {
		u.BloodGroup = req.BloodGroup
	}
	if req.ProfilePictureURL != nil {
		u.ProfilePictureURL = req.ProfilePictureURL
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string `json:"message"`
	Role    string `json:"role"`
	UserID  int64  `json:"user_id"`
	Name    string `json:"name"`
	Token   string `json:"token"`
}

type googleLoginRequest struct {
	Credential string `json:"credential"`
}

// Signup registers a new account.
func (h *UserHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}

	ctx := r.Context()
	existing, err := h.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		h.logger.Error("Failed to look up user", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to create user")
		return
	}
	if existing != nil {
		Error(w, http.StatusBadRequest, "Email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	user := &domain.User{}
	req.apply(user, hash)
	if err := h.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			Error(w, http.StatusBadRequest, "Email already registered")
			return
		}
		h.logger.Error("Failed to create user", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	h.logger.Info("User registered", "user_id", user.ID, "role", user.Role)
	JSON(w, http.StatusOK, user)
}

// Login checks a password and returns a session token.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}

	user, err := h.repo.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		h.logger.Error("Failed to look up user", "error", err)
		Error(w, http.StatusInternalServerError, "Login failed")
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		Error(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.respondLogin(w, user)
}

// GoogleLogin verifies a Google ID token and signs the matching user in,
// creating a patient account on first use.
func (h *UserHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil || !h.google.Enabled() {
		Error(w, http.StatusServiceUnavailable, "Google sign-in is not configured")
		return
	}

	var req googleLoginRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}
	credential := req.Credential
	if credential == "" {
		credential = identity.BearerToken(r)
	}
	if credential == "" {
		Error(w, http.StatusUnauthorized, "Missing Google credential")
		return
	}

	ctx := r.Context()
	id, err := h.google.Verify(ctx, credential)
	if err != nil {
		h.logger.Warn("Google token rejected", "error", err)
		Error(w, http.StatusUnauthorized, "Invalid Google token")
		return
	}

	user, err := h.repo.GetUserByEmail(ctx, id.Email)
	if err != nil {
		h.logger.Error("Failed to look up user", "error", err)
		Error(w, http.StatusInternalServerError, "Login failed")
		return
	}

	if user == nil {
		user, err = h.createGoogleUser(r, id)
		if err != nil {
			h.logger.Error("Failed to create Google user", "error", err)
			Error(w, http.StatusInternalServerError, "Login failed")
			return
		}
	} else if user.ProfilePictureURL == nil && id.Picture != "" {
		picture := id.Picture
		user.ProfilePictureURL = &picture
		if err := h.repo.UpdateUser(ctx, user); err != nil {
			h.logger.Warn("Failed to store Google picture", "user_id", user.ID, "error", err)
		}
	}

	h.respondLogin(w, user)
}

func (h *UserHandler) createGoogleUser(r *http.Request, id *auth.GoogleIdentity) (*domain.User, error) {
	password, err := auth.RandomPassword()
	if err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	name := id.Name
	if name == "" {
		name = strings.SplitN(id.Email, "@", 2)[0]
	}
	user := &domain.User{
		Name:         name,
		Email:        id.Email,
		PasswordHash: hash,
		Role:         domain.RolePatient,
	}
	if id.Picture != "" {
		picture := id.Picture
		user.ProfilePictureURL = &picture
	}
	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		return nil, err
	}
	h.logger.Info("User registered via Google", "user_id", user.ID)
	return user, nil
}

func (h *UserHandler) respondLogin(w http.ResponseWriter, user *domain.User) {
	token, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("Failed to issue token", "error", err)
		Error(w, http.StatusInternalServerError, "Login failed")
		return
	}
	JSON(w, http.StatusOK, loginResponse{
		Message: fmt.Sprintf("Welcome %s!", user.Name),
		Role:    user.Role,
		UserID:  user.ID,
		Name:    user.Name,
		Token:   token,
	})
}

// Me returns the signed-in user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.repo.GetUser(r.Context(), identity.UserIDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("Failed to get user", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to get user")
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, "User not found")
		return
	}
	JSON(w, http.StatusOK, user)
}

// UpdateByID overwrites the profile of the user named in the path.
func (h *UserHandler) UpdateByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "user_id")
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.repo.GetUser(r.Context(), id)
	h.update(w, r, user, err)
}

// UpdateByEmail overwrites the profile of the user with the email in the path.
func (h *UserHandler) UpdateByEmail(w http.ResponseWriter, r *http.Request) {
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		Error(w, http.StatusBadRequest, "email must be a valid path segment")
		return
	}
	user, err := h.repo.GetUserByEmail(r.Context(), email)
	h.update(w, r, user, err)
}

func (h *UserHandler) update(w http.ResponseWriter, r *http.Request, user *domain.User, lookupErr error) {
	if lookupErr != nil {
		h.logger.Error("Failed to look up user", "error", lookupErr)
		Error(w, http.StatusInternalServerError, "Failed to update user")
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, "User not found")
		return
	}

	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		Error(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("Failed to hash password", "error", err)
		Error(w, http.StatusInternalServerError, "Failed to update user")
		return
	}
	req.apply(user, hash)

	if err := h.repo.UpdateUser(r.Context(), user); err != nil {
		switch {
		case errors.Is(err, store.ErrEmailTaken):
			Error(w, http.StatusBadRequest, "Email already registered")
		case errors.Is(err, store.ErrNotFound):
			Error(w, http.StatusNotFound, "User not found")
		default:
			h.logger.Error("Failed to update user", "user_id", user.ID, "error", err)
			Error(w, http.StatusInternalServerError, "Failed to update user")
		}
		return
	}

	h.logger.Info("User updated", "user_id", user.ID)
	JSON(w, http.StatusOK, user)
}

// ProfileImage resolves an avatar URL for an email address.
func (h *UserHandler) ProfileImage(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		Error(w, http.StatusBadRequest, "Email required")
		return
	}

	// Portal session tokens are never forwarded to Google.
	authz := r.Header.Get("Authorization")
	if authz != "" && h.google != nil && identity.UserIDFromContext(r.Context()) == 0 {
		picture, err := h.google.FetchPicture(r.Context(), authz)
		if err != nil {
			h.logger.Debug("Google userinfo lookup failed", "error", err)
		} else if picture != "" {
			JSON(w, http.StatusOK, map[string]string{"imageUrl": picture})
			return
		}
	}

	JSON(w, http.StatusOK, map[string]string{"imageUrl": gravatar(email)})
}

func gravatar(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email)))) //nolint:gosec // Gravatar addresses are keyed by MD5.
	return fmt.Sprintf(gravatarURL, hex.EncodeToString(sum[:]))
}
