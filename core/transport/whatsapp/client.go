package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/m3rciful/menubot/core/netutil"
)

// APIError is a non-2xx graph API response.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	TraceID string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("whatsapp: graph api status %d", e.Status)
	}
	return fmt.Sprintf("whatsapp: graph api status %d: %s (code %d)", e.Status, e.Message, e.Code)
}

// StatusCode returns the HTTP status of the response.
func (e *APIError) StatusCode() int { return e.Status }

// Client posts messages to the Cloud API.
type Client struct {
	http          *http.Client
	base          string
	phoneNumberID string
	token         string
}

// NewClient builds a client for one business phone number.
func NewClient(base, phoneNumberID, token string, timeout time.Duration) *Client {
	return &Client{
		http:          netutil.NewClient(netutil.ClientOptions{Timeout: timeout, Retries: 1}),
		base:          strings.TrimRight(base, "/"),
		phoneNumberID: phoneNumberID,
		token:         token,
	}
}

// Send posts msg and returns an *APIError for non-2xx responses.
func (c *Client) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("whatsapp: encode message: %w", err)
	}
	url := c.base + "/" + c.phoneNumberID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: post %s: %w", msg.Type, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var envelope struct {
		Error *APIError `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error != nil {
		envelope.Error.Status = resp.StatusCode
		apiErr = envelope.Error
	}
	return apiErr
}
