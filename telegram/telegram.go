// Package telegram is a minimal Bot API client: just enough to deliver
// notifications, with client-side pacing and retry_after handling.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ParseMode selects message formatting.
type ParseMode string

// Parse modes. ModePlain sends the text without any parse_mode.
const (
	ModeHTML  ParseMode = "HTML"
	ModePlain ParseMode = ""
)

// Bot API message size cap and client pacing.
const (
	maxMessageLen  = 4096
	requestTimeout = 30 * time.Second
	// The Bot API allows roughly 30 messages per second bot-wide; stay
	// under it.
	messagesPerSecond = 20
)

// Sender posts messages through the Bot API.
type Sender struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewSender returns a Sender for the given bot token.
func NewSender(token string) *Sender {
	return &Sender{
		baseURL: fmt.Sprintf("https://api.telegram.org/bot%s", token),
		client:  &http.Client{Timeout: requestTimeout},
		limiter: rate.NewLimiter(rate.Limit(messagesPerSecond), messagesPerSecond),
	}
}

// BaseURL overrides the API endpoint. Tests point it at a local server.
func (s *Sender) SetBaseURL(u string) {
	s.baseURL = strings.TrimRight(u, "/")
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send delivers text to chatID. Messages over the Bot API cap are
// truncated. A rate-limited send waits out retry_after once before
// giving up; any other API failure is returned as an error.
func (s *Sender) Send(ctx context.Context, chatID, text string, mode ParseMode) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	if runes := []rune(text); len(runes) > maxMessageLen {
		text = string(runes[:maxMessageLen-1]) + "…"
	}

	retryAfter, err := s.sendOnce(ctx, chatID, text, mode)
	if err == nil || retryAfter <= 0 {
		return err
	}

	log.WithFields(log.Fields{
		"chat_id":     chatID,
		"retry_after": retryAfter,
	}).Warn("Bot API rate limited, waiting before retry")
	t := time.NewTimer(retryAfter)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	_, err = s.sendOnce(ctx, chatID, text, mode)
	return err
}

// sendOnce performs a single sendMessage call. A positive retryAfter
// signals a rate-limit response.
func (s *Sender) sendOnce(ctx context.Context, chatID, text string, mode ParseMode) (retryAfter time.Duration, err error) {
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("text", text)
	params.Set("disable_web_page_preview", "true")
	if mode != ModePlain {
		params.Set("parse_mode", string(mode))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/sendMessage", strings.NewReader(params.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	var api apiResponse
	if err := json.Unmarshal(body, &api); err != nil {
		return 0, fmt.Errorf("bot api: decode response: %w", err)
	}
	if api.OK {
		return 0, nil
	}

	desc := strings.TrimSpace(api.Description)
	if desc == "" {
		desc = http.StatusText(resp.StatusCode)
	}
	err = fmt.Errorf("bot api error %d: %s", api.ErrorCode, desc)
	if api.ErrorCode == http.StatusTooManyRequests && api.Parameters.RetryAfter > 0 {
		return time.Duration(api.Parameters.RetryAfter) * time.Second, err
	}
	return 0, err
}
