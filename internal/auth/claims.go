package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Every token identifies exactly one actor: a paying user, an executive, or
// an admin. Authorization decisions match on the actor kind explicitly; no
// endpoint may duck-type "whoever is authenticated".
type Claims struct {
	jwt.RegisteredClaims

	ActorID   string    `json:"actor_id"`
	ActorKind ActorKind `json:"actor_kind"`
	TokenType TokenType `json:"token_type"`
}

// Actor returns the tagged identity carried by the claims.
func (c Claims) Actor() Actor {
	return Actor{Kind: c.ActorKind, ID: c.ActorID}
}
