package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTextbeltURL = "https://textbelt.com"

// TextbeltClient sends SMS through the Textbelt HTTP API.
type TextbeltClient struct {
	baseURL string
	key     string
	http    *http.Client
}

func NewTextbeltClient(baseURL, key string) *TextbeltClient {
	if baseURL == "" {
		baseURL = defaultTextbeltURL
	}
	return &TextbeltClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type textbeltResponse struct {
	Success        bool   `json:"success"`
	TextID         string `json:"textId"`
	QuotaRemaining int    `json:"quotaRemaining"`
	Error          string `json:"error"`
}

// Send posts one message and returns the Textbelt text id.
func (c *TextbeltClient) Send(ctx context.Context, phone, message string) (string, error) {
	postBody, err := json.Marshal(map[string]string{
		"phone":   phone,
		"message": message,
		"key":     c.key,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/text", bytes.NewReader(postBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("textbelt request: %w", err)
	}
	defer resp.Body.Close()

	var result textbeltResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode textbelt response (status %d): %w", resp.StatusCode, err)
	}
	if !result.Success {
		return "", fmt.Errorf("textbelt rejected message: %s", result.Error)
	}
	return result.TextID, nil
}

// Status returns the raw Textbelt delivery status of a text:
// DELIVERED, SENT, SENDING, FAILED or UNKNOWN.
func (c *TextbeltClient) Status(ctx context.Context, textID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/"+textID, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("textbelt status request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode textbelt status: %w", err)
	}
	return result.Status, nil
}
