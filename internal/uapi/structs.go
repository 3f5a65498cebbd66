// Package uapi defines the on-disk record layouts and kernel ioctl ABI
// structures used to dump and restore rxe (soft-RoCE) verbs objects.
package uapi

import "unsafe"

// ObjectKind identifies which uverbs object a record describes.
type ObjectKind uint32

const (
	KindPD ObjectKind = iota
	KindMR
	KindCQ
	KindQP
)

func (k ObjectKind) String() string {
	switch k {
	case KindPD:
		return "PD"
	case KindMR:
		return "MR"
	case KindCQ:
		return "CQ"
	case KindQP:
		return "QP"
	default:
		return "UNKNOWN"
	}
}

// RecordHeader prefixes every dumped object. Size is the length of the
// payload that follows, not including the header itself.
type RecordHeader struct {
	Type   uint32
	Size   uint32
	Handle uint32
}

var _ [12]byte = [unsafe.Sizeof(RecordHeader{})]byte{}

// PDRecord is the payload for a dumped protection domain. A PD carries no
// state of its own beyond its handle, which the header already has, but
// the type keeps the decoder's per-kind dispatch uniform.
type PDRecord struct {
	Handle uint32
}

var _ [4]byte = [unsafe.Sizeof(PDRecord{})]byte{}

// MRRecord is the payload for a dumped memory region. Mrn is the rxe
// driver's internal memory-region number, distinct from the uverbs
// handle; the restore pipeline primes last_mrn with it before
// re-registering so the kernel reissues the same number.
type MRRecord struct {
	Handle      uint32
	PDHandle    uint32
	Addr        uint64
	Length      uint64
	AccessFlags uint32
	LKey        uint32
	RKey        uint32
	Mrn         uint32
}

var _ [40]byte = [unsafe.Sizeof(MRRecord{})]byte{}

// RxeQueueSnapshot captures the producer/consumer state of one rxe ring
// buffer (a CQ, or a QP's send/receive queue) at dump time.
type RxeQueueSnapshot struct {
	Log2ElemSize   uint8
	_              [3]byte
	IndexMask      uint32
	ProducerIndex  uint32
	ConsumerIndex  uint32
}

var _ [16]byte = [unsafe.Sizeof(RxeQueueSnapshot{})]byte{}

// NoCompChannel is the comp_channel value a dumped CQ must carry; any
// other value is rejected as unsupported (completion channels aren't
// reproduced across a checkpoint).
const NoCompChannel int32 = -1

// CQRecord is the payload for a dumped completion queue. VMStart/VMSize
// describe the ring buffer's backing memory range, separate from Queue,
// which snapshots the ring's producer/consumer indices.
type CQRecord struct {
	Handle      uint32
	CQE         uint32
	CompChannel int32
	VMStart     uint64
	VMSize      uint64
	Queue       RxeQueueSnapshot
}

// In memory the struct carries 4 bytes of alignment padding before
// VMStart; MarshalCQ/UnmarshalCQ use a packed 44-byte wire payload.
var _ [48]byte = [unsafe.Sizeof(CQRecord{})]byte{}

// AHAttr mirrors the subset of ibv_ah_attr needed to populate a restored
// QP's address handle during the INIT->RTR transition.
type AHAttr struct {
	DGID         [16]byte
	FlowLabel    uint32
	DLID         uint16
	SGidIndex    uint8
	HopLimit     uint8
	TrafficClass uint8
	SL           uint8
	SrcPathBits  uint8
	StaticRate   uint8
	IsGlobal     uint8
	PortNum      uint8
	_            [2]byte
}

var _ [32]byte = [unsafe.Sizeof(AHAttr{})]byte{}

// QPAttr mirrors the subset of ibv_qp_attr state needed to drive a
// restored QP through RESET -> INIT -> RTR -> RTS.
type QPAttr struct {
	State           uint32
	PathMTU         uint32
	QPAccessFlags   uint32
	DestQPN         uint32
	RQPSN           uint32
	SQPSN           uint32
	MaxRdAtomic     uint8
	MaxDestRdAtomic uint8
	MinRnrTimer     uint8
	Timeout         uint8
	RetryCnt        uint8
	RnrRetry        uint8
	_               [2]byte
	AH              AHAttr
}

var _ [64]byte = [unsafe.Sizeof(QPAttr{})]byte{}

// NoSRQ is the srq_handle value a dumped QP must carry; any other value
// is rejected as unsupported (SRQ-backed QPs aren't reproduced across a
// checkpoint).
const NoSRQ uint32 = 0xFFFFFFFF

// QPRecord is the payload for a dumped queue pair. The Send/RecvVM
// fields describe the send and receive ring buffers' backing memory
// ranges, separate from SendQueue/RecvQueue, which snapshot ring
// producer/consumer indices.
type QPRecord struct {
	Handle        uint32
	QPNum         uint32
	PDHandle      uint32
	SendCQHandle  uint32
	RecvCQHandle  uint32
	SRQHandle     uint32
	QPType        uint32
	MaxSendWR     uint32
	MaxRecvWR     uint32
	MaxSendSGE    uint32
	MaxRecvSGE    uint32
	MaxInlineData uint32
	SendVMStart   uint64
	SendVMSize    uint64
	RecvVMStart   uint64
	RecvVMSize    uint64
	Attr          QPAttr
	SendQueue     RxeQueueSnapshot
	RecvQueue     RxeQueueSnapshot
}

var _ [176]byte = [unsafe.Sizeof(QPRecord{})]byte{}

// QP types supported by the restore pipeline. SRQ-backed QPs and UD are
// rejected up front; see internal/restore.
const (
	QPTypeRC uint32 = 2
	QPTypeUD uint32 = 3
)

// QP states, matching ibv_qp_state ordering.
const (
	QPStateReset uint32 = iota
	QPStateInit
	QPStateRTR
	QPStateRTS
)

// restore_object payload structs. These are marshaled into the ioctl
// argument buffer for the corresponding op in internal/ctrl.

// PDCreateArgs carries no request fields: allocating a PD takes no
// arguments beyond the destination context fd. Handle is an out
// parameter the kernel fills with the newly assigned PD handle.
type PDCreateArgs struct {
	Handle uint32
}

// MRRegArgs requests registration of a memory region against a PD.
// Handle is an out parameter filled with the newly assigned MR handle.
type MRRegArgs struct {
	Handle      uint32
	PDHandle    uint32
	Addr        uint64
	Length      uint64
	AccessFlags uint32
}

// MRKeysArgs requests that a previously registered MR's lkey/rkey be
// forced to specific values, recovering the pre-checkpoint identity.
type MRKeysArgs struct {
	MRHandle uint32
	LKey     uint32
	RKey     uint32
}

// CQCreateArgs requests creation of a completion queue with the original
// CQE depth and ring buffer VMA range. Handle is an out parameter
// filled with the newly assigned CQ handle. CompVector carries the
// completion vector to bind (no completion channel is ever supplied;
// CQRecord.CompChannel must be NoCompChannel).
type CQCreateArgs struct {
	Handle     uint32
	CQE        uint32
	CompVector uint32
	VMStart    uint64
	VMSize     uint64
}

// CQRefillArgs requests that the kernel fast-forward a freshly created
// CQ's ring indices to match the checkpointed producer/consumer state.
type CQRefillArgs struct {
	CQHandle uint32
	Queue    RxeQueueSnapshot
}

// QPCreateArgs requests creation of a queue pair in RESET state. Handle
// and QPNum are out parameters filled with the newly assigned QP handle
// and rxe qp_num. The Send/Recv VM fields carry the send and receive
// ring buffers' backing memory ranges.
type QPCreateArgs struct {
	Handle        uint32
	QPNum         uint32
	PDHandle      uint32
	SendCQHandle  uint32
	RecvCQHandle  uint32
	QPType        uint32
	MaxSendWR     uint32
	MaxRecvWR     uint32
	MaxSendSGE    uint32
	MaxRecvSGE    uint32
	MaxInlineData uint32
	SendVMStart   uint64
	SendVMSize    uint64
	RecvVMStart   uint64
	RecvVMSize    uint64
}

// QPRefillArgs requests that the kernel fast-forward a QP's send/receive
// ring indices to match the checkpointed state. Issued after the QP
// reaches its recorded target state, mirroring the original core's
// ordering.
type QPRefillArgs struct {
	QPHandle  uint32
	SendQueue RxeQueueSnapshot
	RecvQueue RxeQueueSnapshot
}

// QPModifyArgs drives one QP state transition.
type QPModifyArgs struct {
	QPHandle uint32
	Attr     QPAttr
}
