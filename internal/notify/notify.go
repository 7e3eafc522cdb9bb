package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/bulk-logistics/internal/models"
)

// Notifier delivers one logistics notification to a partner endpoint.
type Notifier interface {
	Send(ctx context.Context, n models.LogisticsNotification) error
}

// HTTPNotifier posts notifications to the partner gateway's /logistics
// endpoint.
type HTTPNotifier struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPNotifier(baseURL string) *HTTPNotifier {
	return &HTTPNotifier{BaseURL: baseURL, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *HTTPNotifier) Send(ctx context.Context, n models.LogisticsNotification) error {
	url := h.BaseURL
	if n.NotificationURL != "" {
		url = n.NotificationURL
	}
	if url == "" {
		return fmt.Errorf("no notification endpoint configured")
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/logistics", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify %s: status %d", url, resp.StatusCode)
	}
	return nil
}
