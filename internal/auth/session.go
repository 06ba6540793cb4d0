// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie carrying the signed session token.
const CookieName = "arcadia_token"

// privateKey and publicKey sign and verify session tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is how long issued tokens stay valid (0 => never expire).
	tokenTTL time.Duration
)

func parseTokenTTL() {
	raw := os.Getenv("AUTH_TOKEN_TTL")
	if raw == "" || raw == "never" || raw == "0" {
		tokenTTL = 0
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		fmt.Printf("failed to parse AUTH_TOKEN_TTL: %v\n", err)
		os.Exit(1)
	}
	tokenTTL = d
}

// Init generates a fresh ed25519 key pair at runtime and reads the token TTL.
// Tokens do not survive a restart; suitable for dev and tests.
func Init() {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		fmt.Printf("failed to generate ed25519 key pair: %v\n", err)
		os.Exit(1)
	}
	parseTokenTTL()
}

// InitFromPath reads ed25519 private/public keys from file so tokens stay
// valid across restarts and instances.
func InitFromPath(privatePath, publicPath string) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	parseTokenTTL()
	return nil
}

// CreateJWT creates a signed token with "sub" = userID, expiring after the
// configured TTL (or never, when TTL is zero).
func CreateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
	}
	if tokenTTL > 0 {
		claims["exp"] = time.Now().Add(tokenTTL).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a token string and returns its "sub" claim.
func AuthenticateJWT(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid jwt claims")
	}

	userID, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return userID, nil
}

// UserIDFromRequest extracts and verifies the session token from the request
// cookie, returning the authenticated user id.
func UserIDFromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", fmt.Errorf("missing auth cookie: %w", err)
	}
	return AuthenticateJWT(cookie.Value)
}

// SetAuthCookie attaches a freshly issued token for userID to the response.
func SetAuthCookie(w http.ResponseWriter, userID string) error {
	token, err := CreateJWT(userID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	return nil
}
