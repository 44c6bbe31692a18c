package security

import (
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceIdentity identifies one relay deployment to the cloud
// ingestion API.
type DeviceIdentity struct {
	DeviceID string
	Tenant   string
}

type Identity struct {
	DeviceID string `json:"device_id"`
	Tenant   string `json:"tenant"`
	SID      string `json:"sid"`
}

type IdentityClaims struct {
	Identity
	jwt.RegisteredClaims
}

// CreateDeviceToken signs an HS256 bearer token for a relay. The
// secret is the base64 form shared with the cloud server.
func CreateDeviceToken(identity *DeviceIdentity, base64Secret string, expiresInSeconds int64) (string, error) {
	secretBytes, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return "", err
	}
	claims := IdentityClaims{
		Identity: Identity{
			DeviceID: identity.DeviceID,
			Tenant:   identity.Tenant,
			SID:      "aiclock-relay",
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "aiclock",
			Audience:  []string{"ingest.aiclock.com"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(expiresInSeconds) * time.Second)),
		},
	}

	// Use HS256 signing method (symmetric key)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(secretBytes)
}
