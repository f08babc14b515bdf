package auth

import "github.com/golang-jwt/jwt/v5"

// Claims are the only supported JWT claims shape for this service.
// Subject carries the user id and ID carries the token id used for revocation.
// Role is the role name at issue time; it is re-parsed on every verify.
type Claims struct {
	jwt.RegisteredClaims

	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}
