package mmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapAnon(t *testing.T) {
	m, err := MapAnon(4096)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 4096, m.Size())
	data := m.Bytes()
	require.Len(t, data, 4096)

	// Fresh anonymous pages are zeroed.
	for i := range data {
		if data[i] != 0 {
			t.Fatalf("byte %d not zero", i)
		}
	}

	copy(data, "hello")
	assert.Equal(t, "hello", string(m.Bytes()[:5]))
}

func TestMapAnon_InvalidSize(t *testing.T) {
	_, err := MapAnon(0)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = MapAnon(-1)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestMapping_Advise(t *testing.T) {
	m, err := MapAnon(1 << 16)
	require.NoError(t, err)
	defer m.Close()

	for _, p := range []AccessPattern{AccessDefault, AccessSequential, AccessRandom, AccessWillNeed} {
		assert.NoError(t, m.Advise(p))
	}
}

func TestMapping_AfterClose(t *testing.T) {
	m, err := MapAnon(4096)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
	assert.Nil(t, m.Bytes())
	assert.ErrorIs(t, m.Advise(AccessRandom), ErrClosed)

	// Idempotent.
	assert.NoError(t, m.Close())
}
