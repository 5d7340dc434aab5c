package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const UserContextKey ContextKey = "user"

const (
	defaultGithubURL    = "https://github.com"
	defaultGithubAPIURL = "https://api.github.com"
	tokenCookie         = "auth_token"
	stateCookie         = "oauth_state"
)

var ErrNotOrgMember = errors.New("user is not a member of the required organization")

type GithubUser struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type AuthResponse struct {
	User  GithubUser `json:"user"`
	Token string     `json:"token,omitempty"`
}

type Claims struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	jwt.RegisteredClaims
}

type Config struct {
	JwtSecret    []byte
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AllowedOrg   string
	Enabled      bool
	TokenTTL     time.Duration
}

// Authenticator handles GitHub OAuth logins and the JWTs issued for them.
type Authenticator struct {
	cfg Config

	HTTP         *http.Client
	GithubURL    string
	GithubAPIURL string
	Now          func() time.Time
}

func New(cfg Config) *Authenticator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Authenticator{
		cfg:          cfg,
		HTTP:         &http.Client{Timeout: 10 * time.Second},
		GithubURL:    defaultGithubURL,
		GithubAPIURL: defaultGithubAPIURL,
		Now:          time.Now,
	}
}

// Enabled reports whether requests must carry a valid token.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.cfg.Enabled
}

// GenerateState creates a random state parameter for OAuth
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// LoginURL returns the GitHub authorize URL for state.
func (a *Authenticator) LoginURL(state string) string {
	scope := "read:user,user:email"
	if a.cfg.AllowedOrg != "" {
		scope += ",read:org"
	}
	q := url.Values{}
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", a.cfg.RedirectURL)
	q.Set("scope", scope)
	q.Set("state", state)
	return a.GithubURL + "/login/oauth/authorize?" + q.Encode()
}

// Exchange trades an OAuth code for a GitHub access token.
func (a *Authenticator) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.GithubURL+"/login/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if _, err := a.do(req, &result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		if result.Error != "" {
			return "", fmt.Errorf("failed to get access token: %s", result.Error)
		}
		return "", errors.New("failed to get access token")
	}
	return result.AccessToken, nil
}

// User fetches the GitHub user behind accessToken and enforces AllowedOrg.
func (a *Authenticator) User(ctx context.Context, accessToken string) (*GithubUser, error) {
	req, err := a.apiRequest(ctx, "/user", accessToken)
	if err != nil {
		return nil, err
	}

	var user GithubUser
	status, err := a.do(req, &user)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", status)
	}

	if a.cfg.AllowedOrg != "" && !a.isOrgMember(ctx, accessToken, user.Login) {
		return nil, ErrNotOrgMember
	}
	return &user, nil
}

func (a *Authenticator) isOrgMember(ctx context.Context, accessToken, username string) bool {
	req, err := a.apiRequest(ctx, "/orgs/"+url.PathEscape(a.cfg.AllowedOrg)+"/members/"+url.PathEscape(username), accessToken)
	if err != nil {
		return false
	}
	status, err := a.do(req, nil)
	if err != nil {
		log.Warn().Err(err).Str("org", a.cfg.AllowedOrg).Msg("org membership check failed")
		return false
	}
	// 204 means user is a public member, 200 means private member
	return status == http.StatusOK || status == http.StatusNoContent
}

func (a *Authenticator) apiRequest(ctx context.Context, path, accessToken string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.GithubAPIURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	return req, nil
}

// do sends req and decodes a 200 body into into when it is non-nil.
func (a *Authenticator) do(req *http.Request, into any) (int, error) {
	resp, err := a.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()
	if into != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// GenerateJWT creates a JWT token for the user
func (a *Authenticator) GenerateJWT(user *GithubUser) (string, error) {
	if len(a.cfg.JwtSecret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := a.Now()
	claims := Claims{
		Login:     user.Login,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.Login,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.cfg.JwtSecret)
}

// ValidateJWT validates and parses a JWT token
func (a *Authenticator) ValidateJWT(tokenString string) (*GithubUser, error) {
	if len(a.cfg.JwtSecret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.cfg.JwtSecret, nil
	}, jwt.WithTimeFunc(a.Now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &GithubUser{
			Login:     claims.Login,
			Name:      claims.Name,
			Email:     claims.Email,
			AvatarURL: claims.AvatarURL,
		}, nil
	}
	return nil, fmt.Errorf("invalid token")
}

// tokenFromRequest reads a bearer token, falling back to the auth cookie.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(tokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// Middleware requires a valid token when auth is enabled and passes
// everything through otherwise.
func (a *Authenticator) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := tokenFromRequest(r)
		if tokenString == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		user, err := a.ValidateJWT(tokenString)
		if err != nil {
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// UserFromContext extracts user from request context
func UserFromContext(ctx context.Context) *GithubUser {
	if user, ok := ctx.Value(UserContextKey).(*GithubUser); ok {
		return user
	}
	return nil
}
