// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package localauth issues the session tokens local services require. The
// daemon and vector store share a per-session secret with this process;
// every request carries a short-lived HS256 token naming the user.
package localauth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL bounds token lifetime. Services re-request a token per call, so
// short lifetimes cost nothing.
const tokenTTL = time.Hour

var ErrNoSecret = errors.New("session secret not initialized")

// Issuer signs per-user tokens with the session secret.
type Issuer struct {
	secret []byte
}

// NewIssuer generates a fresh random session secret.
func NewIssuer() (*Issuer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return &Issuer{secret: secret}, nil
}

// NewIssuerWithSecret wraps an externally supplied secret, for hosts that
// hand the same secret to the sidecar process environment.
func NewIssuerWithSecret(secret []byte) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	return &Issuer{secret: secret}, nil
}

// Secret returns the hex-encoded session secret for sidecar handoff.
func (i *Issuer) Secret() string {
	return hex.EncodeToString(i.secret)
}

// Token signs a token identifying userID.
func (i *Issuer) Token(userID int64) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"userId": strconv.FormatInt(userID, 10),
		"iat":    now.Unix(),
		"exp":    now.Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks a token's signature and returns the user it names. Used by
// tests and by hosts that also accept callbacks from local services.
func (i *Issuer) Verify(token string) (int64, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return 0, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return 0, errors.New("invalid token claims")
	}
	raw, ok := claims["userId"].(string)
	if !ok {
		return 0, errors.New("token missing userId claim")
	}
	return strconv.ParseInt(raw, 10, 64)
}
