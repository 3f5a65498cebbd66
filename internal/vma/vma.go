// Package vma tags and remaps the memory ranges backing dumped memory
// regions. During dump, a Keeper flags VMAs that overlap a registered MR
// so the generic memory dumper skips them in favor of the verbs-specific
// record. During restore, the restore pipeline tags CQ and QP ring
// ranges the same way so generic memory restore also skips them, and
// Remap can map a range at its original address backed by a given file
// and offset.
package vma

import (
	"fmt"
	"sort"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Range is a half-open byte range [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) overlaps(start, end uint64) bool {
	return start < r.End && r.Start < end
}

// Keeper tracks ibverbs-owned address ranges across a dump or restore
// session.
type Keeper struct {
	mu     sync.Mutex
	ranges []Range
}

// NewKeeper returns an empty Keeper.
func NewKeeper() *Keeper {
	return &Keeper{}
}

// Tag records [addr, addr+length) as backing a dumped memory region.
func (k *Keeper) Tag(addr, length uint64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.ranges = append(k.ranges, Range{Start: addr, End: addr + length})
	sort.Slice(k.ranges, func(i, j int) bool { return k.ranges[i].Start < k.ranges[j].Start })
}

// Owns reports whether [addr, addr+length) overlaps a tagged range, i.e.
// whether the generic memory dumper/restorer should skip it.
func (k *Keeper) Owns(addr, length uint64) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	end := addr + length
	for _, r := range k.ranges {
		if r.overlaps(addr, end) {
			return true
		}
	}
	return false
}

// Ranges returns a snapshot of all tagged ranges.
func (k *Keeper) Ranges() []Range {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]Range, len(k.ranges))
	copy(out, k.ranges)
	return out
}

// Remap maps [addr, addr+length) backed by fd at the given file offset,
// fixed at its original address. Remap only maps the range; it does not
// Tag it. No code in this module calls Remap: internal/restore and the
// root package's Restore do not remap any range.
//
// unix.Mmap does not expose a fixed-address hint, so this goes straight
// to the raw syscall the way the teacher's io_uring ring setup does for
// operations its wrapped helpers can't express.
func (k *Keeper) Remap(fd int, addr, length uint64, offset int64) error {
	ret, _, errno := syscall.Syscall6(
		unix.SYS_MMAP,
		uintptr(addr),
		uintptr(length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_FIXED|unix.MAP_SHARED,
		uintptr(fd),
		uintptr(offset),
	)
	if errno != 0 {
		return fmt.Errorf("vma: remap [0x%x, 0x%x): %w", addr, addr+length, errno)
	}
	if ret != uintptr(addr) {
		return fmt.Errorf("vma: remap [0x%x, 0x%x): kernel returned 0x%x instead of fixed address", addr, addr+length, ret)
	}
	return nil
}
