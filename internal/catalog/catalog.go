// Package catalog tracks live objects created during restore, keyed by
// their dump-time handle, so that objects which reference each other (an
// MR's PD, a QP's CQs) can be resolved in dump order regardless of the
// order the kernel hands back real fds.
package catalog

import (
	"fmt"
	"sync"

	"github.com/coreos-rdma/ibverbscr/internal/constants"
	"github.com/coreos-rdma/ibverbscr/internal/uapi"
)

// ErrHandleOutOfRange is returned when a handle falls outside the
// catalog's configured ceiling, for both Remember and Lookup. The
// original rxe checkpoint/restore core only bounds-checked on the write
// side; a stray read of an out-of-range handle there returned garbage
// instead of a clean not-found signal. This catalog checks both.
type ErrHandleOutOfRange struct {
	Kind    uapi.ObjectKind
	Handle  uint32
	Ceiling int
}

func (e *ErrHandleOutOfRange) Error() string {
	return fmt.Sprintf("catalog: handle %d for kind %s exceeds ceiling %d", e.Handle, e.Kind, e.Ceiling)
}

// ErrAlreadyPresent is returned when Remember is called twice for the
// same (kind, handle) pair without an intervening Forget.
type ErrAlreadyPresent struct {
	Kind   uapi.ObjectKind
	Handle uint32
}

func (e *ErrAlreadyPresent) Error() string {
	return fmt.Sprintf("catalog: handle %d for kind %s already claimed", e.Handle, e.Kind)
}

// Catalog is a handle-indexed object table, one map per object kind. It
// grows dynamically rather than using the reference source's fixed
// ELEM_COUNT array, but still enforces a configurable ceiling so a
// handle outside the expected range is rejected the same way.
type Catalog struct {
	mu      sync.Mutex
	ceiling int
	tables  [constants.ObjectKindCount]map[uint32]any
}

// New returns a Catalog with the given per-kind handle ceiling.
func New(ceiling int) *Catalog {
	c := &Catalog{ceiling: ceiling}
	for i := range c.tables {
		c.tables[i] = make(map[uint32]any)
	}
	return c
}

// Ceiling returns the configured per-kind handle ceiling.
func (c *Catalog) Ceiling() int { return c.ceiling }

// Remember records the live object for (kind, handle). It fails if the
// handle is out of range or already claimed.
func (c *Catalog) Remember(kind uapi.ObjectKind, handle uint32, obj any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(handle) >= c.ceiling {
		return &ErrHandleOutOfRange{Kind: kind, Handle: handle, Ceiling: c.ceiling}
	}
	if _, present := c.tables[kind][handle]; present {
		return &ErrAlreadyPresent{Kind: kind, Handle: handle}
	}
	c.tables[kind][handle] = obj
	return nil
}

// Lookup returns the object remembered for (kind, handle), or ok=false if
// the handle is out of range or nothing has been remembered there yet.
func (c *Catalog) Lookup(kind uapi.ObjectKind, handle uint32) (obj any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(handle) >= c.ceiling {
		return nil, false
	}
	obj, ok = c.tables[kind][handle]
	return obj, ok
}

// Forget clears the entry for (kind, handle), allowing the handle to be
// reused within this catalog's lifetime.
func (c *Catalog) Forget(kind uapi.ObjectKind, handle uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tables[kind], handle)
}

// Count returns the number of live entries for a kind.
func (c *Catalog) Count(kind uapi.ObjectKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.tables[kind])
}
