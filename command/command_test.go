package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRecognisesFixedVocabulary(t *testing.T) {
	cases := map[string]Name{
		"/pause":         Pause,
		"/resume":        Resume,
		"/status":        Status,
		"/autocoins":     AutoCoins,
		"/symbols":       Symbols,
		"/risk":          Risk,
		"/flat":          Flat,
		"/selftest":      SelfTest,
		"/mode simple":   Mode,
		"/mode advanced": Mode,
		"/size 25.5":     Size,
		"/lev 10":        Lev,
	}
	for text, want := range cases {
		cmd, ok := Parse(text, "op-1")
		require.Truef(t, ok, "expected %q to parse", text)
		require.Equal(t, want, cmd.Name)
		require.NotEmpty(t, cmd.ID)
	}
}

func TestParseRejectsMalformedArgs(t *testing.T) {
	for _, text := range []string{"/mode", "/mode turbo", "/size", "/size abc", "/lev", "/lev abc", "/unknown", ""} {
		_, ok := Parse(text, "op-1")
		require.Falsef(t, ok, "expected %q to be rejected", text)
	}
}

func TestIsAdminCaseInsensitive(t *testing.T) {
	require.True(t, IsAdmin("Op-1", "op-1"))
	require.True(t, IsAdmin("  op-1  ", "OP-1"))
	require.False(t, IsAdmin("op-2", "op-1"))
}

func TestHTTPSourcePollDrainsQueue(t *testing.T) {
	s := NewHTTPSource("op-1")
	cmd, ok := Parse("/pause", "op-1")
	require.True(t, ok)

	s.mu.Lock()
	s.queue = append(s.queue, cmd)
	s.mu.Unlock()

	got := s.Poll()
	require.Len(t, got, 1)
	require.Equal(t, Pause, got[0].Name)

	// second poll is empty: drained, not re-delivered.
	require.Empty(t, s.Poll())
}
