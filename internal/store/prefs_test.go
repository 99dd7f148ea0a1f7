package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefsStore_PromptOptOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	prefs, err := OpenPrefs(path)
	require.NoError(t, err)
	defer prefs.Close()

	out, err := prefs.PromptOptedOut("op-1", "c1")
	require.NoError(t, err)
	assert.False(t, out)

	require.NoError(t, prefs.SetPromptOptOut("op-1", "c1"))
	// Dismissing twice is a no-op.
	require.NoError(t, prefs.SetPromptOptOut("op-1", "c1"))

	out, err = prefs.PromptOptedOut("op-1", "c1")
	require.NoError(t, err)
	assert.True(t, out)

	// Scoped per operator and per contact.
	out, err = prefs.PromptOptedOut("op-2", "c1")
	require.NoError(t, err)
	assert.False(t, out)

	out, err = prefs.PromptOptedOut("op-1", "c2")
	require.NoError(t, err)
	assert.False(t, out)
}

func TestPrefsStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")

	prefs, err := OpenPrefs(path)
	require.NoError(t, err)
	require.NoError(t, prefs.SetPromptOptOut("op-1", "c1"))
	require.NoError(t, prefs.Close())

	prefs, err = OpenPrefs(path)
	require.NoError(t, err)
	defer prefs.Close()

	out, err := prefs.PromptOptedOut("op-1", "c1")
	require.NoError(t, err)
	assert.True(t, out)
}
