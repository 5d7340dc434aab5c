package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"
)

// Register mounts the /auth endpoints. /auth/status is always served; the
// OAuth flow only when auth is enabled.
func (a *Authenticator) Register(mux *http.ServeMux) {
	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, map[string]bool{"enabled": a.Enabled()})
	})
	if !a.Enabled() {
		return
	}
	mux.HandleFunc("/auth/github", a.handleLogin)
	mux.HandleFunc("/auth/callback", a.handleCallback)
	mux.HandleFunc("/auth/me", a.handleMe)
	mux.HandleFunc("/auth/logout", handleLogout)
}

func secure(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https")
}

func (a *Authenticator) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := GenerateState()
	if err != nil {
		http.Error(w, "Failed to generate state", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   secure(r),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, a.LoginURL(state), http.StatusTemporaryRedirect)
}

func (a *Authenticator) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	c, err := r.Cookie(stateCookie)
	if err != nil || state == "" || c.Value != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if code == "" {
		http.Error(w, "Missing code parameter", http.StatusBadRequest)
		return
	}

	accessToken, err := a.Exchange(r.Context(), code)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("oauth code exchange failed")
		http.Error(w, "Failed to exchange code for token", http.StatusBadGateway)
		return
	}

	user, err := a.User(r.Context(), accessToken)
	if errors.Is(err, ErrNotOrgMember) {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("github user lookup failed")
		http.Error(w, "Failed to get user info", http.StatusBadGateway)
		return
	}

	token, err := a.GenerateJWT(user)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(a.cfg.TokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure(r),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, r, AuthResponse{User: *user, Token: token})
}

func (a *Authenticator) handleMe(w http.ResponseWriter, r *http.Request) {
	tokenString := tokenFromRequest(r)
	if tokenString == "" {
		http.Error(w, "No authentication token", http.StatusUnauthorized)
		return
	}
	user, err := a.ValidateJWT(tokenString)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}
	writeJSON(w, r, AuthResponse{User: *user, Token: tokenString})
}

func handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: tokenCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode response")
	}
}
