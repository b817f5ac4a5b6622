package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/socket-feed/internal/server"
	"github.com/omochice/socket-feed/pkg/protocol"
)

func postMutation(t *testing.T, g *gateway, kind, token string, body any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, g.ts.URL+"/internal/events/"+kind, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestIngress_PublishesMutations(t *testing.T) {
	g := newGateway(t, server.Options{IngressToken: "svc"})
	alice := g.dial(t, "alice")
	kind, _ := presenceEvent(t, readFrame(t, alice))
	require.Equal(t, protocol.KindUserOnline, kind)

	bobPost := protocol.Post{ID: "p1", Author: protocol.UserRef{ID: "bob"}}
	assert.Equal(t, http.StatusAccepted, postMutation(t, g, server.MutationPostCreated, "svc", server.MutationEvent{Post: bobPost}))

	frame := readFrame(t, alice)
	require.Equal(t, protocol.KindNewPost, frame.Kind)
	created, err := protocol.DecodePayload[protocol.NewPostPayload](frame)
	require.NoError(t, err)
	assert.Equal(t, protocol.NewPostPayload{PostID: "p1", AuthorID: "bob"}, created)

	alicePost := protocol.Post{ID: "p2", Author: protocol.UserRef{ID: "alice"}, Likes: []string{"bob"}, LikesCount: 1}
	assert.Equal(t, http.StatusAccepted, postMutation(t, g, server.MutationPostLiked, "svc", server.MutationEvent{
		Actor: protocol.UserRef{ID: "bob", Name: "Bob"},
		Post:  alicePost,
	}))

	assert.Equal(t, protocol.KindNotification, readFrame(t, alice).Kind)
	frame = readFrame(t, alice)
	require.Equal(t, protocol.KindPostLiked, frame.Kind)
	liked, err := protocol.DecodePayload[protocol.PostLikedPayload](frame)
	require.NoError(t, err)
	assert.Equal(t, "p2", liked.PostID)
	assert.Equal(t, 1, liked.LikesCount)

	assert.Equal(t, http.StatusAccepted, postMutation(t, g, server.MutationPostDeleted, "svc", server.MutationEvent{ActorID: "bob", PostID: "p1"}))
	assert.Equal(t, protocol.KindPostDeleted, readFrame(t, alice).Kind)
}

func TestIngress_Rejections(t *testing.T) {
	g := newGateway(t, server.Options{IngressToken: "svc"})
	ev := server.MutationEvent{Post: protocol.Post{ID: "p1", Author: protocol.UserRef{ID: "bob"}}}

	tests := []struct {
		name  string
		kind  string
		token string
		body  any
		want  int
	}{
		{name: "no token", kind: server.MutationPostCreated, body: ev, want: http.StatusUnauthorized},
		{name: "wrong token", kind: server.MutationPostCreated, token: "nope", body: ev, want: http.StatusUnauthorized},
		{name: "unknown mutation", kind: "post-shared", token: "svc", body: ev, want: http.StatusNotFound},
		{name: "missing post", kind: server.MutationPostCreated, token: "svc", body: server.MutationEvent{}, want: http.StatusBadRequest},
		{name: "like without actor", kind: server.MutationPostLiked, token: "svc", body: ev, want: http.StatusBadRequest},
		{name: "malformed body", kind: server.MutationPostCreated, token: "svc", body: "not an object", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, postMutation(t, g, tt.kind, tt.token, tt.body))
		})
	}
}

func TestIngress_DisabledWithoutToken(t *testing.T) {
	g := newGateway(t, server.Options{})
	ev := server.MutationEvent{Post: protocol.Post{ID: "p1"}}
	assert.Equal(t, http.StatusNotFound, postMutation(t, g, server.MutationPostCreated, "", ev))
}

func TestGateway_OnlineList(t *testing.T) {
	g := newGateway(t, server.Options{})
	g.dial(t, "alice")
	g.waitCount(t, "alice", 1)

	resp, err := http.Get(g.ts.URL + "/presence")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Online []string `json:"online"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"alice"}, body.Online)
}
