// Package notify pushes messages to customers over the messaging platform.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LineClient talks to the messaging API on behalf of one channel
type LineClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Profile is the public profile of a chat user
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	PictureURL  string `json:"pictureUrl,omitempty"`
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

func NewLineClient(baseURL, token string) *LineClient {
	return &LineClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Push sends text messages to one user
func (c *LineClient) Push(ctx context.Context, userID string, texts ...string) error {
	body := pushRequest{To: userID}
	for _, t := range texts {
		body.Messages = append(body.Messages, textMessage{Type: "text", Text: t})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/bot/message/push", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push to %s: unexpected status: %d", userID, resp.StatusCode)
	}
	return nil
}

// GetProfile looks up the display name of a user
func (c *LineClient) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/bot/profile/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile of %s: unexpected status: %d", userID, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &p, nil
}

func (c *LineClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *LineClient) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}
