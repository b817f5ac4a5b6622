package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// OnlineUsers asks the gateway's GET /presence for every online user.
func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	endpoint, err := presenceURL(c.url)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	client := &http.Client{Timeout: c.opts.DialTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch presence: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch presence: status %d", resp.StatusCode)
	}

	var body struct {
		Online []string `json:"online"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode presence: %w", err)
	}
	return body.Online, nil
}

// presenceURL maps ws://host/ws to http://host/presence.
func presenceURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/presence"
	u.RawQuery = ""
	return u.String(), nil
}
