//go:build amd64 || arm64

package conv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntToUint64(t *testing.T) {
	got, err := IntToUint64(64 << 10)
	assert.NoError(t, err)
	assert.Equal(t, uint64(64<<10), got)

	_, err = IntToUint64(-5)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestUint64ToInt(t *testing.T) {
	got, err := Uint64ToInt(4 << 20)
	assert.NoError(t, err)
	assert.Equal(t, 4<<20, got)

	_, err = Uint64ToInt(math.MaxUint64)
	assert.ErrorIs(t, err, ErrOverflow)
}
