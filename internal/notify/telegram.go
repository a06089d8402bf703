package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"digishop-be/internal/config"
	"digishop-be/internal/logger"

	"go.uber.org/zap"
)

const telegramBaseURL = "https://api.telegram.org"

// Telegram posts alerts to a chat through the bot API. Delivery runs on its
// own goroutine bounded by the shared request timeout.
type Telegram struct {
	token      string
	chatID     string
	baseURL    string
	httpClient *http.Client
	wg         sync.WaitGroup
}

func NewTelegram(token, chatID string, rt *config.Runtime) *Telegram {
	return &Telegram{
		token:      token,
		chatID:     chatID,
		baseURL:    telegramBaseURL,
		httpClient: &http.Client{Timeout: rt.HTTPRequestTimeout},
	}
}

func (t *Telegram) Alert(ctx context.Context, severity Severity, msg string) {
	text := severity.prefix() + msg
	log := logger.FromCtx(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		// detached from the request: the alert outlives the caller's context
		if err := t.send(context.Background(), text); err != nil {
			log.Warn("messenger alert failed", zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight alerts are delivered or have failed.
func (t *Telegram) Wait() {
	t.wg.Wait()
}

func (t *Telegram) send(ctx context.Context, text string) error {
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}
