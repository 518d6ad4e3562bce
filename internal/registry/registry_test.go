package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := New[int]()
	assert.Empty(t, r.Names())
	assert.False(t, r.Has("a"))

	r.Register("b", 2)
	r.Register("a", 1)
	r.Register("b", 3)

	v, ok := r.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = r.Lookup("c")
	assert.False(t, ok)
	assert.True(t, r.Has("a"))
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := New[string]()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register(fmt.Sprintf("n%02d", i), "v")
		}()
		go func() {
			defer wg.Done()
			_ = r.Names()
		}()
	}
	wg.Wait()
	assert.Len(t, r.Names(), 20)
}
