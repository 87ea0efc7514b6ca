package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaylistsCommands(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	store := filepath.Join(dir, "playlists.json")
	t.Setenv("DB_URL", "file://"+store)

	repo, err := NewFileRepository(store)
	require.NoError(t, err)
	songs := testSongs("a", "b")
	songs[0].Duration = 185
	_, err = repo.SavePlaylist("Eighties", songs)
	require.NoError(t, err)

	run := func(args ...string) string {
		out := &bytes.Buffer{}
		cmd := newRootCmd()
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(append(args, "--config", filepath.Join(dir, "missing.yml")))
		require.NoError(t, cmd.Execute())
		return out.String()
	}

	out := run("playlists", "list")
	assert.Contains(t, out, "Eighties")
	assert.Contains(t, out, "SONGS")

	out = run("playlists", "show", "eighties")
	assert.Contains(t, out, "Title a")
	assert.Contains(t, out, "3:05")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"playlists", "show", "nope", "--config", filepath.Join(dir, "missing.yml")})
	assert.ErrorIs(t, cmd.Execute(), ErrPlaylistNotFound)

	_, err = os.Stat(store)
	assert.NoError(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "-", formatDuration(0))
	assert.Equal(t, "0:59", formatDuration(59))
	assert.Equal(t, "62:01", formatDuration(3721))
}
