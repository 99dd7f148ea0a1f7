package presence

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memOptOut is an in-memory OptOutStore.
type memOptOut struct {
	optedOut map[string]bool
	err      error
}

func newMemOptOut() *memOptOut {
	return &memOptOut{optedOut: make(map[string]bool)}
}

func (m *memOptOut) SetPromptOptOut(operatorID, contactID string) error {
	if m.err != nil {
		return m.err
	}
	m.optedOut[operatorID+"/"+contactID] = true
	return nil
}

func (m *memOptOut) PromptOptedOut(operatorID, contactID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.optedOut[operatorID+"/"+contactID], nil
}

func TestPrompter_Cadence(t *testing.T) {
	p := NewPrompter(newMemOptOut(), 10)

	expectations := map[int]bool{
		0: false, // nothing sent yet
		1: true,  // first reply of the session
		2: false,
		9: false,
		10: true, // every Nth
		11: false,
		20: true,
	}
	for count, want := range expectations {
		got, err := p.ShouldPrompt("op-1", "c1", count)
		require.NoError(t, err)
		assert.Equal(t, want, got, "count %d", count)
	}
}

func TestPrompter_OptOutSuppresses(t *testing.T) {
	store := newMemOptOut()
	p := NewPrompter(store, 10)

	require.NoError(t, p.Dismiss("op-1", "c1"))

	for _, count := range []int{1, 10, 20} {
		got, err := p.ShouldPrompt("op-1", "c1", count)
		require.NoError(t, err)
		assert.False(t, got, "count %d", count)
	}

	// The opt-out is scoped to one contact.
	got, err := p.ShouldPrompt("op-1", "c2", 1)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestPrompter_StoreErrorSurfaces(t *testing.T) {
	store := newMemOptOut()
	store.err = errors.New("disk gone")
	p := NewPrompter(store, 10)

	_, err := p.ShouldPrompt("op-1", "c1", 1)
	assert.Error(t, err)
}

func TestPrompter_DefaultCadence(t *testing.T) {
	p := NewPrompter(newMemOptOut(), 0)
	got, err := p.ShouldPrompt("op-1", "c1", 10)
	require.NoError(t, err)
	assert.True(t, got, "everyN defaults to 10")
}
