// Package interfaces provides internal interface definitions for the
// dump/restore core. These are separate from the public package's
// interfaces to avoid circular imports between the root package and the
// internal packages that implement it.
package interfaces

import "time"

// Logger is the minimal logging surface internal packages depend on.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives point-in-time signals from the dump/restore pipeline.
// Implementations must be safe for concurrent use; dump and restore walk
// objects sequentially but an Observer may be shared across sessions.
type Observer interface {
	ObserveDump(kind string, latency time.Duration, success bool)
	ObserveRestore(kind string, latency time.Duration, success bool)
	ObserveCatalogSize(size int)
}

// KnobStore abstracts the procfs last_qpn/last_mrn knobs so the restore
// pipeline can be driven against a fake in tests instead of a real rxe
// driver.
type KnobStore interface {
	ReadKnob(path string) (int64, error)
	WriteKnob(path string, value int64) error
}

// VerbsDevice abstracts the single ioctl entry point the restore pipeline
// uses to create and mutate kernel objects, so internal/restore can be
// tested without a real ib_uverbs character device.
type VerbsDevice interface {
	// RestoreObject issues one restore_object sub-operation against the
	// context and returns the kernel's response payload.
	RestoreObject(cmd uint32, payload []byte) ([]byte, error)
	Close() error
}

// DumpSource abstracts the kernel's context-dump ioctl so the dump
// pipeline can be tested without a real ib_uverbs character device.
type DumpSource interface {
	// DumpContext reads up to bufSize bytes of raw dump records out of
	// the context and returns the prefix the kernel actually filled in.
	DumpContext(bufSize uint32) ([]byte, error)
}
