package kv

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/tenkv/tenkv/lib/clock"
)

// --------------------------------------------------------------------------
// Database Type
// --------------------------------------------------------------------------

// Database is a single owned key-value map with independent per-key expiry
// tracking. Values are opaque strings. Expiry is stored as an absolute unix
// timestamp in a separate map; a key present in the expiry map is always
// present in the value map (Delete clears both).
//
// Database knows nothing about ownership or authentication, that is the
// store's concern.
type Database struct {
	values *xsync.MapOf[string, string]
	expiry *xsync.MapOf[string, int64]
	clk    clock.Clock
}

// Snapshot is the serializable state of a Database. Expiry timestamps are
// absolute, so a snapshot taken at time T and restored at time T+N keeps the
// original expiry schedule.
type Snapshot struct {
	Values map[string]string
	Expiry map[string]int64
}

// New creates an empty Database that reads time from the given clock.
func New(clk clock.Clock) *Database {
	return &Database{
		values: xsync.NewMapOf[string, string](),
		expiry: xsync.NewMapOf[string, int64](),
		clk:    clk,
	}
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get retrieves the value for a key. The boolean return value indicates
// whether the key was found. Keys past their expiry but not yet swept are
// still returned; the periodic sweep is the only place keys expire.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (d *Database) Get(key string) (string, bool) {
	return d.values.Load(key)
}

// Len returns the number of keys currently stored.
func (d *Database) Len() int {
	return d.values.Size()
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put inserts or updates the value for a key unconditionally. Any existing
// TTL is left untouched; TTL state is managed only via SetTTL/RemoveTTL.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (d *Database) Put(key, value string) {
	d.values.Store(key, value)
}

// Update overwrites the value for an existing key, preserving any TTL.
// It returns false (and stores nothing) if the key does not exist.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (d *Database) Update(key, value string) bool {
	_, ok := d.values.Compute(key, func(old string, loaded bool) (string, bool) {
		if !loaded {
			return old, true // don't create the key
		}
		return value, false
	})
	return ok
}

// Delete removes a key and its expiry entry if present. Deleting an absent
// key is a no-op, deletion is idempotent.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (d *Database) Delete(key string) {
	d.values.Delete(key)
	d.expiry.Delete(key)
}

// --------------------------------------------------------------------------
// TTL Operations
// --------------------------------------------------------------------------

// SetTTL sets the expiry for a key to now + ttlSeconds, overwriting any
// previous expiry.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (d *Database) SetTTL(key string, ttlSeconds int64) {
	d.expiry.Store(key, d.clk.Now().Unix()+ttlSeconds)
}

// RemoveTTL clears the expiry for a key. No-op if none exists.
func (d *Database) RemoveTTL(key string) {
	d.expiry.Delete(key)
}

// SweepExpired deletes every key whose expiry is at or before the current
// clock time, together with its expiry entry. It iterates over a stable
// snapshot of the expiry keys, so concurrent structural mutation during the
// scan is tolerated. Returns the number of keys removed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (d *Database) SweepExpired() int {
	now := d.clk.Now().Unix()

	// collect first, then delete: Range over a live map must not assume the
	// set of keys is stable while mutating
	var due []string
	d.expiry.Range(func(key string, expireAt int64) bool {
		if expireAt <= now {
			due = append(due, key)
		}
		return true
	})

	for _, key := range due {
		d.values.Delete(key)
		d.expiry.Delete(key)
	}
	return len(due)
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Export copies the database state into a Snapshot.
//
// Thread-safety: concurrent reads and writes are allowed during Export; the
// snapshot reflects some consistent-enough interleaving, the caller is
// expected to serialize Export against writes when an exact cut is required.
func (d *Database) Export() Snapshot {
	snap := Snapshot{
		Values: make(map[string]string, d.values.Size()),
		Expiry: make(map[string]int64, d.expiry.Size()),
	}
	d.values.Range(func(key, value string) bool {
		snap.Values[key] = value
		return true
	})
	d.expiry.Range(func(key string, expireAt int64) bool {
		// expiry without a value is meaningless, skip orphans
		if _, ok := snap.Values[key]; ok {
			snap.Expiry[key] = expireAt
		}
		return true
	})
	return snap
}

// Restore replaces the database state with the contents of a Snapshot.
//
// Thread-safety: This method is not thread-safe, call it only before the
// database is shared.
func (d *Database) Restore(snap Snapshot) {
	d.values.Clear()
	d.expiry.Clear()
	for key, value := range snap.Values {
		d.values.Store(key, value)
	}
	for key, expireAt := range snap.Expiry {
		if _, ok := snap.Values[key]; ok {
			d.expiry.Store(key, expireAt)
		}
	}
}
