package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FCMSender posts notifications to the Firebase Cloud Messaging HTTP endpoint.
type FCMSender struct {
	endpoint   string
	serverKey  string
	httpClient *http.Client
}

func NewFCMSender(endpoint, serverKey string, client *http.Client) *FCMSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &FCMSender{endpoint: endpoint, serverKey: serverKey, httpClient: client}
}

type fcmRequest struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Priority     string            `json:"priority"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

func (s *FCMSender) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	if err := validate(token); err != nil {
		return err
	}

	payload, err := json.Marshal(fcmRequest{
		To:           token,
		Notification: fcmNotification{Title: title, Body: body},
		Data:         data,
		Priority:     "high",
	})
	if err != nil {
		return fmt.Errorf("encode fcm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build fcm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fcm request: %w", err)
	}
	defer resp.Body.Close()

	// Read at most 4KB of response body.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fcm non-2xx response: %d", resp.StatusCode)
	}

	var out fcmResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fmt.Errorf("decode fcm response: %w", err)
	}
	if out.Failure > 0 {
		reason := "unknown"
		if len(out.Results) > 0 && out.Results[0].Error != "" {
			reason = out.Results[0].Error
		}
		switch reason {
		case "NotRegistered", "InvalidRegistration", "MissingRegistration":
			return fmt.Errorf("%w: %s", ErrInvalidToken, reason)
		}
		return fmt.Errorf("fcm delivery failed: %s", reason)
	}
	return nil
}

func (s *FCMSender) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
