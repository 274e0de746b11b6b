package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid seat token")

// SeatClaim identifies one seat: the room instance that issued it, the
// player's name and the seat's own id. A name can be seated again after a
// kick or a leave; the seat id cannot.
type SeatClaim struct {
	Room string
	Name string
	Seat string
}

// seatClaims is the JWT form of a SeatClaim. The seat id travels as jti.
type seatClaims struct {
	Room string `json:"room"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// SeatTokens issues and checks the secret a client presents to reclaim its
// seat after a disconnect.
type SeatTokens struct {
	secretKey []byte
	ttl       time.Duration
}

func NewSeatTokens(secretKey string, ttl time.Duration) *SeatTokens {
	return &SeatTokens{
		secretKey: []byte(secretKey),
		ttl:       ttl,
	}
}

func (t *SeatTokens) Issue(seat SeatClaim, now time.Time) (string, error) {
	if seat.Seat == "" {
		return "", errors.New("seat token needs a seat id")
	}
	claims := seatClaims{
		Room: seat.Room,
		Name: seat.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       seat.Seat,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if t.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secretKey)
}

// Verify returns the seat a token was issued for.
func (t *SeatTokens) Verify(tokenString string) (SeatClaim, error) {
	token, err := jwt.ParseWithClaims(tokenString, &seatClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secretKey, nil
	})
	if err != nil {
		return SeatClaim{}, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*seatClaims); ok && token.Valid && claims.ID != "" {
		return SeatClaim{Room: claims.Room, Name: claims.Name, Seat: claims.ID}, nil
	}
	return SeatClaim{}, ErrInvalidToken
}
