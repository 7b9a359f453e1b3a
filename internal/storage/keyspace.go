package storage

import "sync"

// Keyspace is the shared mapping from Key to Value, plus its companion
// ExpiryIndex (key -> absolute expiry time in epoch milliseconds). One
// instance is shared by every connection under a multi-reader/single-writer
// lock: a command holds at most one of the read or write lock at a time and
// never across an await other than the lock acquisition itself (§5).
type Keyspace struct {
	mu     sync.RWMutex
	data   map[string]*Value
	expiry map[string]int64
}

func NewKeyspace() *Keyspace {
	return &Keyspace{
		data:   make(map[string]*Value),
		expiry: make(map[string]int64),
	}
}

// Get returns the current value for key, if any.
func (k *Keyspace) Get(key string) (*Value, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	return v, ok
}

// Set installs v under key, clearing any previously scheduled expiry. Callers
// that also need an expiry must follow with SetExpiryAt (and schedule the
// corresponding timer via the expiry package) under the same logical write.
func (k *Keyspace) Set(key string, v *Value) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[key] = v
	delete(k.expiry, key)
}

// SetExpiryAt records that key should be considered expiring at atMillis
// (epoch milliseconds). It does not itself delete anything; the expiry
// scheduler is responsible for calling ExpireNow when the timer fires.
func (k *Keyspace) SetExpiryAt(key string, atMillis int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.data[key]; !ok {
		return
	}
	k.expiry[key] = atMillis
}

// Del removes keys from both Keyspace and ExpiryIndex, returning the count
// actually deleted.
func (k *Keyspace) Del(keys ...string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, key := range keys {
		if _, ok := k.data[key]; ok {
			delete(k.data, key)
			delete(k.expiry, key)
			n++
		}
	}
	return n
}

// ExpireNow is invoked by the expiry scheduler when a timer fires: it removes
// key from both maps unconditionally, matching the documented reference
// behavior described in spec §9 (no generation tagging).
func (k *Keyspace) ExpireNow(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	delete(k.expiry, key)
}

// Keys returns a snapshot of every key currently present.
func (k *Keyspace) Keys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.data))
	for key := range k.data {
		out = append(out, key)
	}
	return out
}

// Type reports the wire-visible type name for key, or "none" if absent.
func (k *Keyspace) Type(key string) string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	if !ok {
		return TypeNone.String()
	}
	return v.Kind.String()
}

// Mutate runs fn with exclusive access to the current value stored under
// key (nil if absent). If fn returns a non-nil Value, it replaces the
// current entry; if it returns an error, no change is made. This is the
// primitive XADD uses to perform its read-validate-insert under one lock
// acquisition.
func (k *Keyspace) Mutate(key string, fn func(existing *Value) (*Value, error)) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	existing := k.data[key]
	next, err := fn(existing)
	if err != nil {
		return err
	}
	if next != nil {
		k.data[key] = next
	}
	return nil
}
