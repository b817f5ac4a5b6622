package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omochice/socket-feed/pkg/protocol"
)

func TestParseChannel(t *testing.T) {
	tests := []struct {
		name     string
		channel  string
		wantKind protocol.ChannelKind
		wantID   string
		wantErr  bool
	}{
		{name: "feed", channel: "feed", wantKind: protocol.ChannelFeed},
		{name: "user", channel: protocol.UserChannel("u1"), wantKind: protocol.ChannelUser, wantID: "u1"},
		{name: "conversation", channel: protocol.ConversationChannel("42"), wantKind: protocol.ChannelConversation, wantID: "42"},
		{name: "empty user id", channel: "user:", wantErr: true},
		{name: "empty conversation id", channel: "conversation:", wantErr: true},
		{name: "unknown prefix", channel: "room:1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, id, err := protocol.ParseChannel(tt.channel)
			if tt.wantErr {
				assert.ErrorIs(t, err, protocol.ErrInvalidChannel)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "resync-required", protocol.KindResyncRequired.String())
	assert.True(t, protocol.KindUserTyping.IsEvent())
	assert.False(t, protocol.KindUserTyping.IsCommand())
	assert.True(t, protocol.CommandRequestResync.IsCommand())
}
