package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type authCtxKey int

const authKey authCtxKey = 7

// Claims binds a token to the opcode the device joined the study with.
type Claims struct {
	Opcode string `json:"opc"`
	jwt.RegisteredClaims
}

// Auth signs and checks bearer tokens with an HMAC secret.
type Auth struct {
	secret []byte
	now    func() time.Time
}

func NewAuth(secret string) *Auth {
	if secret == "" {
		secret = "emtrip-dev-secret"
	}
	return &Auth{secret: []byte(secret), now: time.Now}
}

func (a *Auth) SignToken(opcode string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(opcode) == "" {
		return "", errors.New("opcode required")
	}
	now := a.now()
	claims := Claims{Opcode: opcode, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   opcode,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid && c.Opcode != "" {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// WithAuth attaches claims to the context if a valid bearer token is present.
func (a *Auth) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			if c, err := a.parseToken(tok); err == nil {
				ctx := context.WithValue(r.Context(), authKey, c)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Value(authKey).(*Claims); !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func OpcodeFromContext(ctx context.Context) (string, bool) {
	if c, ok := ctx.Value(authKey).(*Claims); ok && c.Opcode != "" {
		return c.Opcode, true
	}
	return "", false
}
