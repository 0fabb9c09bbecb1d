package epoch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReclaimer_Grace(t *testing.T) {
	r := New[string](0)

	r.Retire(5, "a")
	r.Retire(5, "b")
	r.Retire(6, "c")
	assert.Equal(t, 3, r.Len())

	assert.Empty(t, r.Collect(5))
	assert.Empty(t, r.Collect(6), "one advance is not enough")

	assert.Equal(t, []string{"a", "b"}, r.Collect(7))
	assert.Equal(t, 1, r.Len())

	assert.Equal(t, []string{"c"}, r.Collect(100))
	assert.Equal(t, 0, r.Len())
}

func TestReclaimer_Drain(t *testing.T) {
	r := New[int](3)
	r.Retire(10, 1)
	r.Retire(2, 2)

	assert.Equal(t, []int{2, 1}, r.Drain(), "drained oldest first")
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Collect(1000))
}

func TestReclaimer_Concurrent(t *testing.T) {
	r := New[int](1)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				r.Retire(uint64(j%4), i*100+j)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, r.Len())
	assert.Len(t, r.Collect(10), 800)
}
