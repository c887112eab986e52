package dispatch

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL bounds how long a delivery token stays valid. Deliveries are
// immediate, so the window is short.
const tokenTTL = 2 * time.Minute

// signDelivery mints the bearer token carried on one webhook POST. The
// per-subscription secret lets the recipient verify the delivery came from
// this bridge and names the event it covers.
func signDelivery(secret, instance, eventID, kind string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   "wabridge",
		"sub":   instance,
		"jti":   eventID,
		"event": kind,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign delivery token: %w", err)
	}
	return signed, nil
}
