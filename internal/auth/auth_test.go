package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionTokenRoundTrip(t *testing.T) {
	require.NoError(t, Init())

	id := uuid.New()
	token, err := CreateConnectionToken(id)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := VerifyConnectionToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestConnectionTokenTampered(t *testing.T) {
	require.NoError(t, Init())

	token, err := CreateConnectionToken(uuid.New())
	require.NoError(t, err)

	_, err = VerifyConnectionToken(token + "x")
	assert.Error(t, err)
}

func TestLobbyPasswordHash(t *testing.T) {
	hash, err := HashLobbyPassword("hunter2")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := VerifyLobbyPassword("hunter2", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyLobbyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLobbyPasswordBadHash(t *testing.T) {
	_, err := VerifyLobbyPassword("pw", "not-a-hash")
	assert.ErrorIs(t, err, ErrInvalidHash)
}
