package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileMeansAnonymous(t *testing.T) {
	t.Parallel()

	b, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	require.True(t, b.Empty())
}

func TestLoad_EmptyPathMeansAnonymous(t *testing.T) {
	t.Parallel()

	b, err := Load("  ")
	require.NoError(t, err)
	require.True(t, b.Empty())
}

func TestLoad_ParsesAndFiltersCookies(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cookies.json")
	data := `[
		{"name":"session","value":"abc"},
		{"name":"","value":"dropped"},
		{"name":"dropped","value":""},
		{"name":"lang","value":"en"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	b, err := Load(path)
	require.NoError(t, err)
	require.False(t, b.Empty())
	require.Equal(t, "session=abc; lang=en", b.CookieHeader())
}

func TestLoad_InvalidJSONIsAnError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestFromCookies(t *testing.T) {
	t.Parallel()

	b := FromCookies([]Cookie{{Name: "a", Value: "1"}})
	require.False(t, b.Empty())
	require.Equal(t, "a=1", b.CookieHeader())
}
