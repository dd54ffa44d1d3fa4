package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	a := NewHMACAuthority([]byte("test-secret"))

	tok, err := a.Sign("alice", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	subject, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestSignRejectsBadInput(t *testing.T) {
	a := NewHMACAuthority([]byte("test-secret"))

	_, err := a.Sign("", time.Hour)
	assert.Error(t, err)

	_, err = a.Sign("alice", 0)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	signer := NewHMACAuthority([]byte("secret-a"))
	verifier := NewHMACAuthority([]byte("secret-b"))

	tok, err := signer.Sign("alice", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	signer := NewHMACAuthority([]byte("test-secret"), WithIssuer("other-host"))
	verifier := NewHMACAuthority([]byte("test-secret"))

	tok, err := signer.Sign("alice", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	base := time.Now()
	a := NewHMACAuthority([]byte("test-secret"), WithClock(func() time.Time { return base }))

	tok, err := a.Sign("alice", time.Minute)
	require.NoError(t, err)

	late := NewHMACAuthority([]byte("test-secret"), WithClock(func() time.Time {
		return base.Add(2 * time.Minute)
	}))
	_, err = late.Verify(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	a := NewHMACAuthority([]byte("test-secret"))
	_, err := a.Verify("not.a.token")
	assert.Error(t, err)
}

func TestEmptySecretPanics(t *testing.T) {
	assert.Panics(t, func() { NewHMACAuthority(nil) })
}
