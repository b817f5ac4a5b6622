// Package readside fetches feed pages from the posts API.
package readside

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/omochice/socket-feed/internal/reconcile"
	"github.com/omochice/socket-feed/pkg/protocol"
)

// HTTPLister implements reconcile.Lister against GET {base}/api/posts.
type HTTPLister struct {
	base   string
	token  string
	client *http.Client
}

var _ reconcile.Lister = (*HTTPLister)(nil)

type pageResponse struct {
	Posts      []postDoc `json:"posts"`
	Page       int       `json:"page"`
	TotalPages int       `json:"totalPages"`
}

// NewHTTPLister creates a lister. client may be nil.
func NewHTTPLister(base, token string, client *http.Client) *HTTPLister {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPLister{base: strings.TrimRight(base, "/"), token: token, client: client}
}

func (l *HTTPLister) ListItems(ctx context.Context, page, pageSize int) (reconcile.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base+"/api/posts?"+q.Encode(), nil)
	if err != nil {
		return reconcile.Page{}, fmt.Errorf("build list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return reconcile.Page{}, fmt.Errorf("list posts page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return reconcile.Page{}, fmt.Errorf("list posts page %d: status %d: %s", page, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return reconcile.Page{}, fmt.Errorf("decode posts page %d: %w", page, err)
	}
	if out.Page == 0 {
		out.Page = page
	}
	items := make([]protocol.Post, 0, len(out.Posts))
	for _, d := range out.Posts {
		items = append(items, d.post())
	}
	return reconcile.Page{Items: items, Page: out.Page, TotalPages: out.TotalPages}, nil
}
