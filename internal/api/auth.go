package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/carrick-labs/doorman-core/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tokenResponse is the response body for login and refresh.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// handleLogin authenticates a dashboard user and issues a JWT access token
// plus a rotating refresh token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	user, err := s.users.GetByUsername(r.Context(), req.Username)
	if err != nil {
		// Same response for unknown user and bad password.
		writeUnauthorized(w, "invalid credentials")
		return
	}
	if !user.IsActive {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	s.issueTokens(w, r, user)
}

// refreshRequest is the request body for POST /auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleRefresh exchanges a valid refresh token for a new token pair. The
// presented token is rotated out in the same transaction.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, http.StatusNotImplemented, ErrCodeBadRequest, "refresh tokens not enabled")
		return
	}

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	stored, err := s.tokens.GetByTokenHash(r.Context(), auth.HashToken(req.RefreshToken))
	if err != nil {
		writeUnauthorized(w, "invalid refresh token")
		return
	}
	if stored.Revoked || time.Now().After(stored.ExpiresAt) {
		writeUnauthorized(w, "invalid refresh token")
		return
	}

	user, err := s.users.GetByID(r.Context(), stored.UserID)
	if err != nil || !user.IsActive {
		writeUnauthorized(w, "invalid refresh token")
		return
	}

	raw, err := auth.GenerateRefreshToken()
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}
	next := &auth.RefreshToken{
		ID:        "rt-" + uuid.NewString()[:16],
		UserID:    user.ID,
		TokenHash: auth.HashToken(raw),
		ExpiresAt: time.Now().Add(time.Duration(s.refreshTTLMinutes()) * time.Minute),
	}
	if err := s.tokens.RotateRefreshToken(r.Context(), stored.ID, next); err != nil {
		writeUnauthorized(w, "invalid refresh token")
		return
	}

	access, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, s.secCfg.JWT.AccessTokenTTL)
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    s.accessTTLMinutes() * 60,
	})
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	user, err := s.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		writeNotFound(w, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleLogout revokes every refresh token for the authenticated user. The
// access token stays valid until expiry; TTLs are short for that reason.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if claims == nil {
		writeUnauthorized(w, "authentication required")
		return
	}

	if s.tokens != nil {
		if err := s.tokens.RevokeAllForUser(r.Context(), claims.Subject); err != nil {
			writeInternalError(w, "logout failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// issueTokens writes a fresh token pair for an authenticated user.
func (s *Server) issueTokens(w http.ResponseWriter, r *http.Request, user *auth.User) {
	access, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, s.secCfg.JWT.AccessTokenTTL)
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}

	resp := tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   s.accessTTLMinutes() * 60,
	}

	if s.tokens != nil {
		raw, err := auth.GenerateRefreshToken()
		if err != nil {
			writeInternalError(w, "failed to generate token")
			return
		}
		if err := s.tokens.Create(r.Context(), &auth.RefreshToken{
			ID:        "rt-" + uuid.NewString()[:16],
			UserID:    user.ID,
			TokenHash: auth.HashToken(raw),
			ExpiresAt: time.Now().Add(time.Duration(s.refreshTTLMinutes()) * time.Minute),
		}); err != nil {
			writeInternalError(w, "failed to store token")
			return
		}
		resp.RefreshToken = raw
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) accessTTLMinutes() int {
	if s.secCfg.JWT.AccessTokenTTL <= 0 {
		return 15
	}
	return s.secCfg.JWT.AccessTokenTTL
}

func (s *Server) refreshTTLMinutes() int {
	if s.secCfg.JWT.RefreshTokenTTL <= 0 {
		return 1440
	}
	return s.secCfg.JWT.RefreshTokenTTL
}
