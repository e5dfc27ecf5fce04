package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxPreservesOrder(t *testing.T) {
	t.Parallel()

	o := New[int]()
	for i := 0; i < 100; i++ {
		require.True(t, o.Push(i))
	}
	assert.Equal(t, 100, o.Len())

	for i := 0; i < 100; i++ {
		v, ok := o.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestOutboxPopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	o := New[string]()
	got := make(chan string, 1)
	go func() {
		v, _ := o.Pop()
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before any Push")
	case <-time.After(50 * time.Millisecond):
	}

	o.Push("late")
	select {
	case v := <-got:
		assert.Equal(t, "late", v)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake after Push")
	}
}

func TestOutboxCloseDropsPendingAndIsIdempotent(t *testing.T) {
	t.Parallel()

	o := New[int]()
	o.Push(1)
	o.Push(2)

	assert.Equal(t, 2, o.Close())
	assert.Equal(t, 0, o.Close())
	assert.False(t, o.Push(3))

	_, ok := o.Pop()
	assert.False(t, ok)
}

func TestOutboxCloseWakesConsumer(t *testing.T) {
	t.Parallel()

	o := New[int]()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, ok := o.Pop()
		assert.False(t, ok)
	}()

	time.Sleep(20 * time.Millisecond)
	o.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer still blocked after Close")
	}
}
