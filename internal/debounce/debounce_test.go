package debounce

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	got  []string
	done chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 16)} }

func (r *recorder) fn(v string) {
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
	r.done <- struct{}{}
}

func (r *recorder) values() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestDebouncer_DeliversLastValueOnce(t *testing.T) {
	rec := newRecorder()
	d := New(20*time.Millisecond, rec.fn)
	for _, v := range []string{"p", "pa", "par", "para"} {
		d.Call(v)
	}

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced call never ran")
	}
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"para"}, rec.values())
}

func TestDebouncer_SeparateBurstsRunSeparately(t *testing.T) {
	rec := newRecorder()
	d := New(10*time.Millisecond, rec.fn)

	d.Call("a")
	<-rec.done
	d.Call("b")
	<-rec.done
	assert.Equal(t, []string{"a", "b"}, rec.values())
}

func TestDebouncer_Flush(t *testing.T) {
	rec := newRecorder()
	d := New(time.Hour, rec.fn)
	assert.False(t, d.Flush())

	d.Call("x")
	d.Call("y")
	require.True(t, d.Flush())
	assert.Equal(t, []string{"y"}, rec.values())
	assert.False(t, d.Flush())
}

func TestDebouncer_Stop(t *testing.T) {
	rec := newRecorder()
	d := New(10*time.Millisecond, rec.fn)
	d.Call("x")
	d.Stop()
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.values())
	assert.False(t, d.Flush())
}
