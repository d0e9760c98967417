package jcc

// HashMap is an open-addressing map keyed by byte slices, grounded on
// original_source/src/hashmap.c (itself inherited from chibicc): FNV-1a
// hashing, linear probing, tombstones for deletion, and a rehash that
// drops tombstones once usage crosses a high watermark. Preprocessor
// macro tables and identifier interning use this instead of Go's
// built-in map so that deletion (#undef) doesn't require rebuilding
// the whole table and so keys can be raw token lexeme slices.
type HashMap struct {
	buckets []hashEntry
	used    int
}

type hashEntry struct {
	key   []byte
	val   any
	tomb  bool
	valid bool
}

const (
	hashmapInitSize      = 16
	hashmapHighWatermark = 70 // rehash once usage crosses this percent
	hashmapLowWatermark  = 50 // usage after rehashing stays below this
)

func fnvHash(key []byte) uint64 {
	var hash uint64 = 0xcbf29ce484222325
	for _, b := range key {
		hash ^= uint64(b)
		hash *= 0x100000001b3
	}
	return hash
}

func (m *HashMap) rehash() {
	nkeys := 0
	for _, e := range m.buckets {
		if e.valid && !e.tomb {
			nkeys++
		}
	}
	cap := len(m.buckets)
	if cap == 0 {
		cap = hashmapInitSize
	}
	for (nkeys*100)/cap >= hashmapLowWatermark {
		cap *= 2
	}
	fresh := &HashMap{buckets: make([]hashEntry, cap)}
	for _, e := range m.buckets {
		if e.valid && !e.tomb {
			fresh.put(e.key, e.val)
		}
	}
	*m = *fresh
}

func match(e *hashEntry, key []byte) bool {
	return e.valid && !e.tomb && bytesEqual(e.key, key)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (m *HashMap) getEntry(key []byte) *hashEntry {
	if len(m.buckets) == 0 {
		return nil
	}
	hash := fnvHash(key)
	cap := len(m.buckets)
	for i := 0; i < cap; i++ {
		e := &m.buckets[(int(hash)+i)%cap]
		if match(e, key) {
			return e
		}
		if !e.valid {
			return nil
		}
	}
	return nil
}

func (m *HashMap) getOrInsertEntry(key []byte) *hashEntry {
	if len(m.buckets) == 0 {
		m.buckets = make([]hashEntry, hashmapInitSize)
	} else if (m.used*100)/len(m.buckets) >= hashmapHighWatermark {
		m.rehash()
	}
	hash := fnvHash(key)
	cap := len(m.buckets)
	for i := 0; i < cap; i++ {
		e := &m.buckets[(int(hash)+i)%cap]
		if match(e, key) {
			return e
		}
		if e.valid && e.tomb {
			e.key = key
			e.tomb = false
			return e
		}
		if !e.valid {
			e.key = key
			e.valid = true
			m.used++
			return e
		}
	}
	panic("hashmap: no free bucket found after rehash")
}

// Get returns the value stored under key, or nil with ok=false.
func (m *HashMap) Get(key []byte) (any, bool) {
	e := m.getEntry(key)
	if e == nil {
		return nil, false
	}
	return e.val, true
}

// GetString is a convenience wrapper for string keys.
func (m *HashMap) GetString(key string) (any, bool) {
	return m.Get([]byte(key))
}

func (m *HashMap) put(key []byte, val any) {
	e := m.getOrInsertEntry(key)
	e.val = val
}

// Put inserts or overwrites the value stored under key.
func (m *HashMap) Put(key []byte, val any) { m.put(key, val) }

// PutString is a convenience wrapper for string keys.
func (m *HashMap) PutString(key string, val any) { m.put([]byte(key), val) }

// Delete replaces key's entry with a tombstone: the slot stays
// occupied for probing purposes but no longer matches lookups, and is
// reclaimed by the next rehash.
func (m *HashMap) Delete(key []byte) {
	if e := m.getEntry(key); e != nil {
		e.tomb = true
	}
}

// Len returns the number of live (non-tombstone) entries.
func (m *HashMap) Len() int {
	n := 0
	for _, e := range m.buckets {
		if e.valid && !e.tomb {
			n++
		}
	}
	return n
}

// Each calls fn for every live entry, in bucket order (unspecified,
// matching the original's iteration-by-bucket-index behavior).
func (m *HashMap) Each(fn func(key []byte, val any)) {
	for _, e := range m.buckets {
		if e.valid && !e.tomb {
			fn(e.key, e.val)
		}
	}
}
