// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

// Package auth mints and verifies the scoped tokens the gateway attaches to
// proxied integration calls. Tokens are HS256 JWTs whose subject encodes the
// integration the call is issued for; they are minted fresh per outbound call
// and never stored.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// ProxyAuthHeader carries the scoped token on outbound proxied calls.
	// It is distinct from Authorization so receiving servers can apply
	// different trust rules to platform-internal and end-user tokens.
	ProxyAuthHeader = "X-Proxy-Auth"

	// subjectPrefix namespaces integration subjects so a verifier can
	// recover the integration id from the subject claim.
	subjectPrefix = "integration:"

	issuer   = "deco.chat"
	tokenTTL = 2 * time.Minute
)

// Token errors.
var (
	ErrNoSigningKey = errors.New("auth: no signing key configured")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token expired")
	ErrMissingClaim = errors.New("auth: missing required claim")
)

// Issuer mints scoped tokens with a process-wide HS256 key.
type Issuer struct {
	secret []byte
}

// NewIssuer creates an Issuer over the given signing key. The key may be
// empty; issuance then fails loudly rather than emitting unsigned tokens.
func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret}
}

// SubjectFor returns the namespaced subject claim for an integration id.
func SubjectFor(integrationID string) string {
	return subjectPrefix + integrationID
}

// IntegrationFromSubject recovers the integration id from a subject claim.
// The second return is false when the subject is not integration-scoped.
func IntegrationFromSubject(subject string) (string, bool) {
	id, ok := strings.CutPrefix(subject, subjectPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// IssueFor mints a short-lived token asserting this platform is calling on
// behalf of integrationID. extra claims are merged in; sub, iss, iat and exp
// are always set by the issuer and cannot be overridden.
func (i *Issuer) IssueFor(integrationID string, extra map[string]any) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNoSigningKey
	}
	if integrationID == "" {
		return "", fmt.Errorf("auth: integration id is required")
	}

	now := time.Now()
	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	claims["sub"] = SubjectFor(integrationID)
	claims["iss"] = issuer
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(tokenTTL).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify validates a scoped token and returns its subject claim. Receivers
// of proxied calls use this to establish which integration the platform was
// acting for.
func (i *Issuer) Verify(tokenString string) (subject string, err error) {
	if len(i.secret) == 0 {
		return "", ErrNoSigningKey
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}
