package zabbix

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNoCredential is returned when an authenticated call is attempted
// without a session token.
var ErrNoCredential = errors.New("no zabbix session")

// ErrEmptyToken is returned when user.login succeeds but yields no token.
var ErrEmptyToken = errors.New("user.login returned an empty token")

type loginParams struct {
	Username string `json:"username"`
	Password string `json:"password"` //nolint:gosec // G101: request field, not a hardcoded credential
}

// Session owns the API credential. It holds at most one token and forgets
// it whenever a caller reports the token rejected.
type Session struct {
	client   *Client
	username string
	password string
	token    string
	logger   *zap.Logger
	observe  func(error)
}

// NewSession creates a session that logs in as username.
func NewSession(client *Client, username, password string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		client:   client,
		username: username,
		password: password,
		logger:   logger,
	}
}

// SetAuthObserver registers fn to be called with the outcome of every
// login, whoever triggered it.
func (s *Session) SetAuthObserver(fn func(error)) {
	s.observe = fn
}

// Authenticate performs user.login and stores the returned token. On any
// failure the stored token is left empty.
func (s *Session) Authenticate(ctx context.Context) error {
	err := s.login(ctx)
	if s.observe != nil {
		s.observe(err)
	}
	return err
}

func (s *Session) login(ctx context.Context) error {
	s.token = ""

	var token string
	err := s.client.Call(ctx, "user.login", loginParams{
		Username: s.username,
		Password: s.password,
	}, "", &token)
	if err != nil {
		return fmt.Errorf("user.login: %w", err)
	}
	if token == "" {
		return ErrEmptyToken
	}

	s.token = token
	s.logger.Info("authenticated", zap.String("user", s.username))
	return nil
}

// Token returns the current token, or "" when none is held.
func (s *Session) Token() string {
	return s.token
}

// Valid reports whether a token is held.
func (s *Session) Valid() bool {
	return s.token != ""
}

// Invalidate drops the token so the next use re-authenticates.
func (s *Session) Invalidate() {
	if s.token != "" {
		s.logger.Debug("session invalidated")
	}
	s.token = ""
}

// Logout ends the server-side session and drops the token.
func (s *Session) Logout(ctx context.Context) error {
	if s.token == "" {
		return ErrNoCredential
	}
	token := s.token
	s.token = ""
	if err := s.client.Call(ctx, "user.logout", []any{}, token, nil); err != nil {
		return fmt.Errorf("user.logout: %w", err)
	}
	return nil
}
