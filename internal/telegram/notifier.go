// Package telegram delivers messages through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIURL is the public Bot API endpoint.
	DefaultAPIURL = "https://api.telegram.org"
	// DefaultMinLength is the shortest text the notifier will send.
	DefaultMinLength = 10
)

var (
	ErrMissingToken    = errors.New("telegram bot token is not configured")
	ErrMissingChatID   = errors.New("telegram chat id is not configured")
	ErrMessageTooShort = errors.New("message is too short to send")
)

// APIError is a response with ok=false.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("telegram api error %d", e.Code)
	}
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// Config holds Bot API settings.
type Config struct {
	Token         string
	ChatID        string
	APIURL        string
	Timeout       time.Duration
	MinLength     int
	RatePerSecond float64
}

// Validate reports which credential is missing, if any.
func (c Config) Validate() error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, ErrMissingToken)
	}
	if c.ChatID == "" {
		errs = append(errs, ErrMissingChatID)
	}
	return errors.Join(errs...)
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Notifier sends text to one chat.
type Notifier struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewNotifier creates a notifier. Missing credentials are not an error here;
// Deliver reports them on every call so the relay can keep running.
func NewNotifier(cfg Config, logger *zap.Logger) *Notifier {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimSuffix(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultMinLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	if cfg.RatePerSecond > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return n
}

// Deliver posts text to the configured chat with parse_mode HTML. It makes
// no network call when credentials are missing or text is too short.
func (n *Notifier) Deliver(ctx context.Context, text string) error {
	if err := n.cfg.Validate(); err != nil {
		return err
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < n.cfg.MinLength {
		return ErrMessageTooShort
	}

	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    n.cfg.ChatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		// The request URL embeds the bot token; keep it out of logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("sendMessage: %w", urlErr.Err)
		}
		return fmt.Errorf("sendMessage: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return fmt.Errorf("decode sendMessage response (status %d): %w", resp.StatusCode, err)
	}
	if !out.OK {
		code := out.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{Code: code, Description: out.Description}
	}

	n.logger.Debug("message delivered", zap.Int("length", len(text)))
	return nil
}

func (n *Notifier) endpoint() string {
	return fmt.Sprintf("%s/bot%s/sendMessage", n.cfg.APIURL, n.cfg.Token)
}
