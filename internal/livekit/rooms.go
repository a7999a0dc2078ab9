package livekit

import (
	"context"
	"errors"
	"strings"
)

// Room is one active room as reported by the server. Twirp encodes int64
// fields as JSON strings.
type Room struct {
	Sid             string `json:"sid"`
	Name            string `json:"name"`
	NumParticipants int    `json:"num_participants"`
	CreationTime    int64  `json:"creation_time,string"`
}

// DeleteRoom tears a room down, disconnecting every participant. A not_found
// reply means the room is already gone and is returned as success.
func (c *Client) DeleteRoom(ctx context.Context, room string) error {
	if strings.TrimSpace(room) == "" {
		return errors.New("livekit: room name is required")
	}

	in := struct {
		Room string `json:"room"`
	}{Room: room}

	if err := c.twirp(ctx, roomService, "DeleteRoom", in, nil); err != nil {
		if IsNotFound(err) {
			c.log.Debug(ctx, "room already deleted", "room", room)
			return nil
		}
		return err
	}
	return nil
}

// ListRooms returns the rooms currently active on the server.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var out struct {
		Rooms []Room `json:"rooms"`
	}
	if err := c.twirp(ctx, roomService, "ListRooms", struct{}{}, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}
