package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const ticketIssuer = "eventcore"

var ErrInvalidTicket = errors.New("invalid ticket")

// TicketClaims identify one attendance row. The QR code is the lookup key;
// the ids let a scanner reject a ticket for the wrong event early.
type TicketClaims struct {
	QRCode         string `json:"qr"`
	RegistrationID uint   `json:"reg"`
	EventID        uint   `json:"evt"`
	UserID         uint   `json:"uid"`
	jwt.RegisteredClaims
}

// SignTicket creates an HS256 attendance ticket valid for ttl from now.
func SignTicket(qrCode string, registrationID, eventID, userID uint, secret string, ttl time.Duration, now time.Time) (string, error) {
	claims := &TicketClaims{
		QRCode:         qrCode,
		RegistrationID: registrationID,
		EventID:        eventID,
		UserID:         userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ticketIssuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseTicket validates signature, issuer and expiry at now.
func ParseTicket(tokenString, secret string, now time.Time) (*TicketClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TicketClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithIssuer(ticketIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}

	claims, ok := token.Claims.(*TicketClaims)
	if !ok || !token.Valid || claims.QRCode == "" {
		return nil, ErrInvalidTicket
	}
	return claims, nil
}

// NewCertToken returns a 32 character hex token.
func NewCertToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewCredentialID returns a public credential identifier.
func NewCredentialID() string {
	return uuid.NewString()
}
