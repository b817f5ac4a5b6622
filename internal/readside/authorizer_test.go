package readside_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/socket-feed/internal/readside"
)

func TestConversationAuthorizer_CanJoin(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer svc", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/conversations/42":
			_ = json.NewEncoder(w).Encode(map[string]any{"participants": []string{"alice", "bob"}})
		case "/api/conversations/500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	a := readside.NewConversationAuthorizer(ts.URL, "svc", nil)
	ctx := context.Background()

	tests := []struct {
		name           string
		user           string
		conversationID string
		want           bool
		wantErr        bool
	}{
		{name: "participant", user: "alice", conversationID: "42", want: true},
		{name: "outsider", user: "mallory", conversationID: "42", want: false},
		{name: "unknown conversation", user: "alice", conversationID: "7", want: false},
		{name: "read side failure", user: "alice", conversationID: "500", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := a.CanJoin(ctx, tt.user, tt.conversationID)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}
