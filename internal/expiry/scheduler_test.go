package expiry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"redis/internal/storage"
)

func TestScheduleDeletesOnFire(t *testing.T) {
	ks := storage.NewKeyspace()
	ks.Set("foo", storage.NewStringValue([]byte("bar")))

	sched := New(ks)
	sched.Schedule("foo", 20*time.Millisecond)

	_, ok := ks.Get("foo")
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)

	_, ok = ks.Get("foo")
	assert.False(t, ok, "key must be gone at now >= set_time + ms + epsilon")
}

// TestUnconditionalDeleteOnOverwrite pins down the §9 open-question
// resolution: a timer scheduled for an earlier value still deletes the key
// even after it has been overwritten with a non-expiring value.
func TestUnconditionalDeleteOnOverwrite(t *testing.T) {
	ks := storage.NewKeyspace()
	ks.Set("foo", storage.NewStringValue([]byte("v1")))

	sched := New(ks)
	sched.Schedule("foo", 20*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	ks.Set("foo", storage.NewStringValue([]byte("v2"))) // no new PX

	time.Sleep(40 * time.Millisecond)

	_, ok := ks.Get("foo")
	assert.False(t, ok, "earlier timer deletes the key unconditionally, even after overwrite")
}

func TestStopCancelsPendingTimers(t *testing.T) {
	ks := storage.NewKeyspace()
	ks.Set("foo", storage.NewStringValue([]byte("bar")))

	sched := New(ks)
	sched.Schedule("foo", 20*time.Millisecond)
	sched.Stop()

	time.Sleep(40 * time.Millisecond)

	_, ok := ks.Get("foo")
	assert.True(t, ok, "stopped scheduler must not fire")
}
