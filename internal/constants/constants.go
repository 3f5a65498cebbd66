// Package constants holds the fixed sizes and paths shared across the
// dump/restore pipeline.
package constants

import "time"

// Catalog limits.
const (
	// DefaultCatalogCeiling is the default per-kind object table size,
	// matching the original rxe checkpoint/restore core.
	DefaultCatalogCeiling = 10

	// ObjectKindCount is the number of uverbs object kinds tracked
	// (PD, MR, CQ, QP).
	ObjectKindCount = 4
)

// Dump buffer sizing.
const (
	// DefaultDumpBufferSize is the size of the buffer the context-dump
	// ioctl fills with the whole record stream of one context.
	DefaultDumpBufferSize = 4096

	// RecordHeaderSize is the size in bytes of the common record header
	// (type, size, handle) prefixing every dumped object.
	RecordHeaderSize = 12
)

// rxe driver identification (soft-RoCE character device major/minor).
const (
	RxeCdevMajor = 231
	RxeCdevMinor = 192
)

// procfs knobs controlling the rxe driver's next-allocated qpn/mrn.
const (
	ProcLastQPN = "/proc/sys/net/rdma_rxe/last_qpn"
	ProcLastMRN = "/proc/sys/net/rdma_rxe/last_mrn"
)

// Device and record paths.
const (
	// IBDevicesDir is where ib_uverbs character devices are exposed.
	IBDevicesDir = "/dev/infiniband"

	// IBVerbsAreaTag marks VMAs owned by a dumped ibverbs context so the
	// restore side knows to remap them instead of treating them as plain
	// anonymous memory.
	IBVerbsAreaTag = "ibverbs"
)

// Timing constants for the restore pipeline.
//
// The kernel's rxe driver and uverbs subsystem need a short window after a
// knob write or object creation before a dependent ioctl is guaranteed to
// observe it. These delays mirror the two places the original core had to
// wait: after writing last_qpn/last_mrn and before issuing the paired
// create, and after each modify_qp QP state transition.
const (
	// ParamSettleDelay is the wait after writing a procfs knob before the
	// paired create ioctl is issued.
	ParamSettleDelay = 2 * time.Millisecond

	// QPStateSettleDelay is the wait after every modify_qp call, the
	// last transition included.
	QPStateSettleDelay = 1 * time.Millisecond
)
