package authserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mealdesk/authsession/internal/authserver/internal/request"
	"github.com/mealdesk/authsession/internal/authserver/internal/respond"
	"github.com/mealdesk/authsession/internal/authserver/mw/auth"
	"github.com/mealdesk/authsession/internal/storage"
	"github.com/mealdesk/authsession/pkg/tokens"
)

const (
	refreshCookieName = "refresh_token"
	localeCookieName  = "locale"
	cookiePath        = "/auth"
	defaultLocale     = "en"
)

type SessionStore interface {
	SaveSession(sess storage.Session) error
	Session(id string) (storage.Session, error)
	RotateSession(oldID, newID string, expiresAt time.Time) (storage.Session, error)
	DeleteSession(id string) error
}

type TokenService interface {
	Generate(userID string) (tokens.AccessToken, error)
	Check(token string) (userID string, issuedAt, expiresAt time.Time, err error)
}

type CookieSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

type Config struct {
	RefreshTTL time.Duration
	// Users maps email to password. A stand-in for a real user directory.
	Users map[string]string
	// SecureCookies marks the refresh cookie Secure; off for local http.
	SecureCookies bool
	Logger        *zap.Logger
}

// Server is a development stand-in for the backend auth service: opaque
// rotating refresh sessions in a sealed HttpOnly cookie, short-lived bearer
// access tokens for everything else.
type Server struct {
	store  SessionStore
	tokens TokenService
	sealer CookieSealer
	cfg    Config
	log    *zap.Logger
}

func NewServer(store SessionStore, tokenSvc TokenService, sealer CookieSealer, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Server{
		store:  store,
		tokens: tokenSvc,
		sealer: sealer,
		cfg:    cfg,
		log:    cfg.Logger,
	}
}

func (s *Server) Register(mx chi.Router) {
	mx.Post("/auth/login", s.Login)
	mx.Post("/auth/refresh", s.Refresh)
	mx.Post("/auth/logout", s.Logout)

	authMW := auth.NewAuthMW(s.tokens)
	mx.With(authMW.Auth).Get("/auth/session", s.Session)
}

type TokenEnvelope struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := request.DecodeJSON(r.Body, &req); err != nil {
		respond.ErrorWithCode(w, http.StatusBadRequest, respond.CODE_INVALID_JSON)
		return
	}
	password, ok := s.cfg.Users[req.Email]
	if !ok || password != req.Password {
		respond.ErrorWithCode(w, http.StatusUnauthorized, respond.CODE_INVALID_CREDENTIALS)
		return
	}

	sess := storage.Session{
		ID:        uuid.New().String(),
		UserID:    req.Email,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(s.cfg.RefreshTTL),
	}
	if err := s.store.SaveSession(sess); err != nil {
		s.log.Error("saving refresh session", zap.Error(err))
		respond.ErrorWithCode(w, http.StatusInternalServerError, respond.CODE_INTERNAL_ERROR)
		return
	}
	if !s.setRefreshCookie(w, sess) {
		return
	}
	s.setLocaleCookie(w, localeFrom(r))

	s.respondWithAccessToken(w, req.Email)
}

func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.resolveRefreshSession(w, r)
	if !ok {
		return
	}
	if sess.Expired(time.Now()) {
		// a dead session is useless, drop it eagerly
		if err := s.store.DeleteSession(sess.ID); err != nil {
			s.log.Warn("deleting expired session", zap.Error(err))
		}
		respond.ErrorWithCode(w, http.StatusUnauthorized, respond.CODE_REFRESH_SESSION_INVALID)
		return
	}

	rotated, err := s.store.RotateSession(sess.ID, uuid.New().String(), time.Now().Add(s.cfg.RefreshTTL))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respond.ErrorWithCode(w, http.StatusUnauthorized, respond.CODE_REFRESH_SESSION_INVALID)
			return
		}
		s.log.Error("rotating refresh session", zap.Error(err))
		respond.ErrorWithCode(w, http.StatusInternalServerError, respond.CODE_INTERNAL_ERROR)
		return
	}
	if !s.setRefreshCookie(w, rotated) {
		return
	}

	s.respondWithAccessToken(w, rotated.UserID)
}

type LogoutResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if sessID, err := s.sealer.Open(cookie.Value); err == nil {
			if err := s.store.DeleteSession(sessID); err != nil {
				s.log.Warn("deleting session on logout", zap.Error(err))
			}
		}
	}
	// both cookies go away regardless of whether the session resolved
	s.expireCookie(w, refreshCookieName, true)
	s.expireCookie(w, localeCookieName, false)

	respond.JSON(w, LogoutResponse{OK: true, Message: "logged out"})
}

type SessionResponse struct {
	UserID    string    `json:"userId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) Session(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.GetPrincipal(r.Context())
	if !ok {
		respond.ErrorWithCode(w, http.StatusUnauthorized, respond.CODE_AUTH_TOKEN_INVALID)
		return
	}
	respond.JSON(w, SessionResponse{
		UserID:    principal.UserID,
		IssuedAt:  principal.IssuedAt,
		ExpiresAt: principal.ExpiresAt,
	})
}

func (s *Server) resolveRefreshSession(w http.ResponseWriter, r *http.Request) (storage.Session, bool) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil {
		respond.ErrorWithCode(w, http.StatusUnauthorized, respond.CODE_REFRESH_COOKIE_MISSING)
		return storage.Session{}, false
	}
	sessID, err := s.sealer.Open(cookie.Value)
	if err != nil {
		respond.ErrorWithCode(w, http.StatusUnauthorized, respond.CODE_REFRESH_SESSION_INVALID)
		return storage.Session{}, false
	}
	sess, err := s.store.Session(sessID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respond.ErrorWithCode(w, http.StatusUnauthorized, respond.CODE_REFRESH_SESSION_INVALID)
			return storage.Session{}, false
		}
		s.log.Error("loading refresh session", zap.Error(err))
		respond.ErrorWithCode(w, http.StatusInternalServerError, respond.CODE_INTERNAL_ERROR)
		return storage.Session{}, false
	}
	return sess, true
}

func (s *Server) respondWithAccessToken(w http.ResponseWriter, userID string) {
	tok, err := s.tokens.Generate(userID)
	if err != nil {
		s.log.Error("generating access token", zap.Error(err))
		respond.ErrorWithCode(w, http.StatusInternalServerError, respond.CODE_INTERNAL_ERROR)
		return
	}
	respond.JSON(w, TokenEnvelope{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(tok.ExpiresAt.Sub(tok.IssuedAt) / time.Second),
	})
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, sess storage.Session) bool {
	sealed, err := s.sealer.Seal(sess.ID)
	if err != nil {
		s.log.Error("sealing refresh cookie", zap.Error(err))
		respond.ErrorWithCode(w, http.StatusInternalServerError, respond.CODE_INTERNAL_ERROR)
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    sealed,
		Path:     cookiePath,
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}

func (s *Server) setLocaleCookie(w http.ResponseWriter, locale string) {
	http.SetCookie(w, &http.Cookie{
		Name:     localeCookieName,
		Value:    locale,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) expireCookie(w http.ResponseWriter, name string, httpOnly bool) {
	path := "/"
	if name == refreshCookieName {
		path = cookiePath
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	})
}

func localeFrom(r *http.Request) string {
	lang := r.Header.Get("Accept-Language")
	if lang == "" {
		return defaultLocale
	}
	// keep only the primary tag: "ru-RU,ru;q=0.9" -> "ru"
	for i := 0; i < len(lang); i++ {
		switch lang[i] {
		case ',', ';', '-':
			return lang[:i]
		}
	}
	return lang
}
