package livekit

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VideoGrant is the room permission claim embedded in an access token.
type VideoGrant struct {
	RoomCreate bool   `json:"roomCreate,omitempty"`
	RoomList   bool   `json:"roomList,omitempty"`
	RoomAdmin  bool   `json:"roomAdmin,omitempty"`
	RoomJoin   bool   `json:"roomJoin,omitempty"`
	Room       string `json:"room,omitempty"`
}

// SIPGrant is the SIP service permission claim.
type SIPGrant struct {
	Admin bool `json:"admin,omitempty"`
	Call  bool `json:"call,omitempty"`
}

type accessClaims struct {
	Video *VideoGrant `json:"video,omitempty"`
	SIP   *SIPGrant   `json:"sip,omitempty"`
	jwt.RegisteredClaims
}

// AccessToken mints a signed HS256 server API token. The issuer is the API
// key, identity (optional) becomes the subject, and the grants scope what the
// holder may do.
func AccessToken(apiKey, apiSecret, identity string, ttl time.Duration, video *VideoGrant, sip *SIPGrant) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", errors.New("livekit: api key and secret are required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	now := time.Now()
	claims := accessClaims{
		Video: video,
		SIP:   sip,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    apiKey,
			Subject:   identity,
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(apiSecret))
}
