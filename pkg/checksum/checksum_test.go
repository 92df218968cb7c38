package checksum

import (
	"crypto/sha512"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreaming_RestoreContinuesDigest(t *testing.T) {
	s := New()
	_, err := s.Write([]byte("hello "))
	require.NoError(t, err)

	state, err := s.State()
	require.NoError(t, err)

	restored, err := Restore(state)
	require.NoError(t, err)
	_, err = restored.Write([]byte("world"))
	require.NoError(t, err)

	want := sha512.Sum512([]byte("hello world"))
	require.Equal(t, hex.EncodeToString(want[:]), restored.Hex())
}

func TestRestore_EmptyStateIsFresh(t *testing.T) {
	s, err := Restore(nil)
	require.NoError(t, err)

	want := sha512.Sum512(nil)
	require.Equal(t, hex.EncodeToString(want[:]), s.Hex())
}

func TestRestore_GarbageState(t *testing.T) {
	_, err := Restore([]byte("not a digest"))
	require.Error(t, err)
}
