package livekit

import (
	"context"
	"errors"
)

// CreateSIPParticipantRequest describes one outbound dial leg.
type CreateSIPParticipantRequest struct {
	// TrunkID selects the outbound SIP trunk.
	TrunkID string `json:"sip_trunk_id"`

	// CallTo is the dialed number.
	CallTo string `json:"sip_call_to"`

	// RoomName is the room the answered participant joins.
	RoomName string `json:"room_name"`

	// ParticipantIdentity names the participant inside the room.
	ParticipantIdentity string `json:"participant_identity"`

	ParticipantName string `json:"participant_name,omitempty"`

	// WaitUntilAnswered makes the request block until the far end picks up,
	// turning carrier rejections into twirp errors with sip_status_code
	// metadata instead of silent no-shows.
	WaitUntilAnswered bool `json:"wait_until_answered,omitempty"`
}

// SIPParticipant is the gateway's view of a dialed participant.
type SIPParticipant struct {
	ParticipantID       string `json:"participant_id"`
	ParticipantIdentity string `json:"participant_identity"`
	RoomName            string `json:"room_name"`
	SIPCallID           string `json:"sip_call_id"`
}

// CreateSIPParticipant dials through the trunk and, with WaitUntilAnswered
// set, blocks until the callee answers or the carrier rejects the call.
func (c *Client) CreateSIPParticipant(ctx context.Context, req CreateSIPParticipantRequest) (*SIPParticipant, error) {
	if req.TrunkID == "" {
		return nil, errors.New("livekit: sip trunk id is required")
	}
	if req.CallTo == "" {
		return nil, errors.New("livekit: sip call destination is required")
	}
	if req.RoomName == "" {
		return nil, errors.New("livekit: room name is required")
	}

	var out SIPParticipant
	if err := c.twirp(ctx, sipService, "CreateSIPParticipant", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransferSIPParticipant blind-transfers an answered participant to another
// destination. transferTo must already carry its scheme, e.g. "tel:+1...".
func (c *Client) TransferSIPParticipant(ctx context.Context, room, identity, transferTo string) error {
	if room == "" {
		return errors.New("livekit: room name is required")
	}
	if identity == "" {
		return errors.New("livekit: participant identity is required")
	}
	if transferTo == "" {
		return errors.New("livekit: transfer destination is required")
	}

	in := struct {
		RoomName            string `json:"room_name"`
		ParticipantIdentity string `json:"participant_identity"`
		TransferTo          string `json:"transfer_to"`
	}{
		RoomName:            room,
		ParticipantIdentity: identity,
		TransferTo:          transferTo,
	}
	return c.twirp(ctx, sipService, "TransferSIPParticipant", in, nil)
}
