package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nodiggity/zonewatch/internal/config"
	"github.com/nodiggity/zonewatch/pkg/model"
)

// PushoverHandler sends a high-priority push notification per alert via
// the Pushover message API.
type PushoverHandler struct {
	cfg    config.NotificationHandlerConfig
	client *http.Client
}

// NewPushoverHandler creates the handler. Missing credentials are a
// construction error so the chain can skip the handler instead of
// failing every dispatch.
func NewPushoverHandler(cfg config.NotificationHandlerConfig) (*PushoverHandler, error) {
	if cfg.UserKey == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("pushover credentials not configured")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.pushover.net/1/messages.json"
	}
	return &PushoverHandler{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (h *PushoverHandler) Name() string { return "notification" }

func (h *PushoverHandler) Trigger(ctx context.Context, alert *model.Alert) error {
	message := fmt.Sprintf("Alert: detection in %s (frame %d, %d detections)",
		strings.Join(alert.Zones, ", "), alert.FrameID, alert.DetectionCount)

	form := url.Values{
		"token":    {h.cfg.APIToken},
		"user":     {h.cfg.UserKey},
		"message":  {message},
		"priority": {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushover request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pushover returned status %d", resp.StatusCode)
	}
	return nil
}

func (h *PushoverHandler) Close() error { return nil }
