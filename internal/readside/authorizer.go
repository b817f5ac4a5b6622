package readside

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ConversationAuthorizer checks conversation membership against
// GET {base}/api/conversations/{id}, which lists the participant ids.
type ConversationAuthorizer struct {
	base   string
	token  string
	client *http.Client
}

type conversationResponse struct {
	Participants []string `json:"participants"`
}

// NewConversationAuthorizer creates an authorizer calling the read side with
// a service token. client may be nil.
func NewConversationAuthorizer(base, token string, client *http.Client) *ConversationAuthorizer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &ConversationAuthorizer{base: strings.TrimRight(base, "/"), token: token, client: client}
}

// CanJoin reports whether userID participates in the conversation. An
// unknown conversation is a refusal, not an error.
func (a *ConversationAuthorizer) CanJoin(ctx context.Context, userID, conversationID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.base+"/api/conversations/"+url.PathEscape(conversationID), nil)
	if err != nil {
		return false, fmt.Errorf("build conversation request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("fetch conversation %s: %w", conversationID, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("fetch conversation %s: status %d", conversationID, resp.StatusCode)
	}

	var out conversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode conversation %s: %w", conversationID, err)
	}
	return slices.Contains(out.Participants, userID), nil
}
