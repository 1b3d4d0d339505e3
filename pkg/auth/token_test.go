// Copyright 2025 Author(s) of deco.chat
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueForSubjectEncodesIntegration(t *testing.T) {
	t.Parallel()

	issuer := NewIssuer([]byte("test-secret"))

	tokenA, err := issuer.IssueFor("abc123", nil)
	require.NoError(t, err)
	tokenB, err := issuer.IssueFor("xyz789", nil)
	require.NoError(t, err)

	subjectA, err := issuer.Verify(tokenA)
	require.NoError(t, err)
	subjectB, err := issuer.Verify(tokenB)
	require.NoError(t, err)

	assert.Equal(t, "integration:abc123", subjectA)
	assert.Equal(t, "integration:xyz789", subjectB)
	assert.NotEqual(t, subjectA, subjectB)

	id, ok := IntegrationFromSubject(subjectA)
	require.True(t, ok)
	assert.Equal(t, "abc123", id)
}

func TestIssueForIsDeterministicInSubject(t *testing.T) {
	t.Parallel()

	issuer := NewIssuer([]byte("test-secret"))
	first, err := issuer.IssueFor("abc123", nil)
	require.NoError(t, err)
	second, err := issuer.IssueFor("abc123", nil)
	require.NoError(t, err)

	subjectFirst, err := issuer.Verify(first)
	require.NoError(t, err)
	subjectSecond, err := issuer.Verify(second)
	require.NoError(t, err)
	assert.Equal(t, subjectFirst, subjectSecond)
}

func TestIssueForWithoutKeyFailsLoudly(t *testing.T) {
	t.Parallel()

	issuer := NewIssuer(nil)
	token, err := issuer.IssueFor("abc123", nil)
	require.ErrorIs(t, err, ErrNoSigningKey)
	assert.Empty(t, token)
}

func TestIssueForRequiresIntegrationID(t *testing.T) {
	t.Parallel()

	issuer := NewIssuer([]byte("k"))
	_, err := issuer.IssueFor("", nil)
	assert.Error(t, err)
}

func TestIssueForExtraClaimsCannotOverrideSubject(t *testing.T) {
	t.Parallel()

	issuer := NewIssuer([]byte("test-secret"))
	token, err := issuer.IssueFor("abc123", map[string]any{
		"sub":   "spoofed",
		"scope": "tools:call",
	})
	require.NoError(t, err)

	subject, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "integration:abc123", subject)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "tools:call", claims["scope"])
	assert.Equal(t, "deco.chat", claims["iss"])
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	t.Parallel()

	token, err := NewIssuer([]byte("key-one")).IssueFor("abc123", nil)
	require.NoError(t, err)

	_, err = NewIssuer([]byte("key-two")).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := NewIssuer([]byte("k")).Verify("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIntegrationFromSubject(t *testing.T) {
	t.Parallel()

	_, ok := IntegrationFromSubject("user:abc")
	assert.False(t, ok)
	_, ok = IntegrationFromSubject("integration:")
	assert.False(t, ok)
}
