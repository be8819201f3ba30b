package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/mealdesk/authsession/pkg/session"
)

const defaultTimeout = 10 * time.Second

// ErrUnauthorized is returned when the backend rejects the credential (401).
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the backend auth endpoints. The refresh credential lives in
// an HttpOnly cookie held by the jar; the client never reads or writes it
// directly.
type Client struct {
	baseURL *url.URL
	httpCli *http.Client
	log     *zap.Logger
}

type Config struct {
	BaseURL string
	// Timeout bounds every request, defaults to 10s.
	Timeout time.Duration
	// Jar overrides the default publicsuffix-aware cookie jar.
	Jar    http.CookieJar
	Logger *zap.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing base url")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Jar == nil {
		cfg.Jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, errors.Wrap(err, "creating cookie jar")
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		baseURL: base,
		httpCli: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     cfg.Jar,
		},
		log: cfg.Logger,
	}, nil
}

type tokenEnvelope struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
}

type logoutResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// SessionInfo is the auxiliary read returned by GET /auth/session.
type SessionInfo struct {
	UserID    string    `json:"userId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login exchanges user credentials for an access credential. The backend also
// plants the refresh cookie in the jar via Set-Cookie.
func (c *Client) Login(ctx context.Context, email, password string) (session.Credential, error) {
	body, err := json.Marshal(struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password})
	if err != nil {
		return session.Credential{}, errors.Wrap(err, "encoding login request")
	}
	return c.postForCredential(ctx, "/auth/login", body)
}

// Refresh rotates the access credential. The refresh cookie is attached by
// the jar automatically; an empty body is sent.
func (c *Client) Refresh(ctx context.Context) (session.Credential, error) {
	return c.postForCredential(ctx, "/auth/refresh", nil)
}

func (c *Client) postForCredential(ctx context.Context, path string, body []byte) (session.Credential, error) {
	resp, err := c.do(ctx, http.MethodPost, path, body, "")
	if err != nil {
		return session.Credential{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return session.Credential{}, statusErr(resp.StatusCode)
	}

	var env tokenEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return session.Credential{}, errors.Wrap(err, "decoding token envelope")
	}
	if env.AccessToken == "" || env.ExpiresIn <= 0 {
		return session.Credential{}, errors.New("malformed token envelope")
	}
	return session.Credential{
		Token:     env.AccessToken,
		ExpiresIn: time.Duration(env.ExpiresIn) * time.Second,
		IssuedAt:  time.Now(),
	}, nil
}

// Logout notifies the backend so it can revoke the server-side session and
// clear the refresh cookie. The response body is read only for diagnostics.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/auth/logout", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusErr(resp.StatusCode)
	}
	var lr logoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err == nil {
		c.log.Debug("backend logout", zap.Bool("ok", lr.OK), zap.String("message", lr.Message))
	}
	return nil
}

// Session fetches the session record behind the given access token.
// Returns ErrUnauthorized when the token is stale or invalid.
func (c *Client) Session(ctx context.Context, accessToken string) (SessionInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/auth/session", nil, accessToken)
	if err != nil {
		return SessionInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SessionInfo{}, statusErr(resp.StatusCode)
	}
	var info SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return SessionInfo{}, errors.Wrap(err, "decoding session info")
	}
	return info, nil
}

// ValidateSession reads the session with the manager's current credential.
// A 401 triggers exactly one refresh-then-retry before giving up.
func (c *Client) ValidateSession(ctx context.Context, mgr *session.Manager) (SessionInfo, error) {
	cred, ok := mgr.Credential()
	if !ok {
		return SessionInfo{}, ErrUnauthorized
	}
	info, err := c.Session(ctx, cred.Token)
	if !errors.Is(err, ErrUnauthorized) {
		return info, err
	}
	if !mgr.RefreshCredential(ctx) {
		return SessionInfo{}, ErrUnauthorized
	}
	cred, ok = mgr.Credential()
	if !ok {
		return SessionInfo{}, ErrUnauthorized
	}
	return c.Session(ctx, cred.Token)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, bearer string) (*http.Response, error) {
	u := c.baseURL.JoinPath(path)
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, errors.Wrapf(err, "creating %s %s request", method, path)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "calling %s %s", method, path)
	}
	return resp, nil
}

func statusErr(code int) error {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return errors.Wrapf(ErrUnauthorized, "status code %d", code)
	}
	return errors.Errorf("unexpected status code %d", code)
}
