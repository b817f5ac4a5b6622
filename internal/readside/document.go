package readside

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/omochice/socket-feed/pkg/protocol"
)

// postDoc is a post as the posts API stores it: Mongo ids, a populated
// author, a media object and the raw list of likers.
type postDoc struct {
	ID        string       `json:"_id"`
	User      userDoc      `json:"user"`
	Content   string       `json:"content"`
	Media     *mediaDoc    `json:"media"`
	Likes     []userDoc    `json:"likes"`
	Comments  []commentDoc `json:"comments"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type mediaDoc struct {
	URL          string `json:"url"`
	PublicID     string `json:"public_id"`
	ResourceType string `json:"resource_type"`
}

type commentDoc struct {
	ID        string    `json:"_id"`
	User      userDoc   `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// userDoc is a user reference that is either a bare id or a populated
// {_id, name, avatar} document.
type userDoc struct {
	ID     string `json:"_id"`
	Name   string `json:"name"`
	Avatar struct {
		URL string `json:"url"`
	} `json:"avatar"`
}

func (u *userDoc) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &u.ID)
	}
	type plain userDoc
	return json.Unmarshal(data, (*plain)(u))
}

func (u userDoc) ref() protocol.UserRef {
	return protocol.UserRef{ID: u.ID, Name: u.Name, AvatarURL: u.Avatar.URL}
}

func (d postDoc) post() protocol.Post {
	p := protocol.Post{
		ID:         d.ID,
		Author:     d.User.ref(),
		Content:    d.Content,
		LikesCount: len(d.Likes),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	if d.Media != nil {
		p.Media = d.Media.URL
	}
	for _, l := range d.Likes {
		p.Likes = append(p.Likes, l.ID)
	}
	for _, c := range d.Comments {
		p.Comments = append(p.Comments, protocol.Comment{
			ID:        c.ID,
			User:      c.User.ref(),
			Text:      c.Text,
			CreatedAt: c.CreatedAt,
		})
	}
	return p
}
