package uapi

import "encoding/binary"

// MarshalError reports a fixed-layout encode/decode failure.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const ErrInsufficientData MarshalError = "insufficient data for unmarshaling"

// MarshalHeader encodes a RecordHeader.
func MarshalHeader(h *RecordHeader) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], h.Type)
	binary.LittleEndian.PutUint32(buf[4:8], h.Size)
	binary.LittleEndian.PutUint32(buf[8:12], h.Handle)
	return buf
}

// UnmarshalHeader decodes a RecordHeader.
func UnmarshalHeader(data []byte, h *RecordHeader) error {
	if len(data) < 12 {
		return ErrInsufficientData
	}
	h.Type = binary.LittleEndian.Uint32(data[0:4])
	h.Size = binary.LittleEndian.Uint32(data[4:8])
	h.Handle = binary.LittleEndian.Uint32(data[8:12])
	return nil
}

// MarshalPD encodes a PDRecord.
func MarshalPD(r *PDRecord) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], r.Handle)
	return buf
}

// UnmarshalPD decodes a PDRecord.
func UnmarshalPD(data []byte, r *PDRecord) error {
	if len(data) < 4 {
		return ErrInsufficientData
	}
	r.Handle = binary.LittleEndian.Uint32(data[0:4])
	return nil
}

// MarshalMR encodes an MRRecord.
func MarshalMR(r *MRRecord) []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint32(buf[0:4], r.Handle)
	binary.LittleEndian.PutUint32(buf[4:8], r.PDHandle)
	binary.LittleEndian.PutUint64(buf[8:16], r.Addr)
	binary.LittleEndian.PutUint64(buf[16:24], r.Length)
	binary.LittleEndian.PutUint32(buf[24:28], r.AccessFlags)
	binary.LittleEndian.PutUint32(buf[28:32], r.LKey)
	binary.LittleEndian.PutUint32(buf[32:36], r.RKey)
	binary.LittleEndian.PutUint32(buf[36:40], r.Mrn)
	return buf
}

// UnmarshalMR decodes an MRRecord.
func UnmarshalMR(data []byte, r *MRRecord) error {
	if len(data) < 40 {
		return ErrInsufficientData
	}
	r.Handle = binary.LittleEndian.Uint32(data[0:4])
	r.PDHandle = binary.LittleEndian.Uint32(data[4:8])
	r.Addr = binary.LittleEndian.Uint64(data[8:16])
	r.Length = binary.LittleEndian.Uint64(data[16:24])
	r.AccessFlags = binary.LittleEndian.Uint32(data[24:28])
	r.LKey = binary.LittleEndian.Uint32(data[28:32])
	r.RKey = binary.LittleEndian.Uint32(data[32:36])
	r.Mrn = binary.LittleEndian.Uint32(data[36:40])
	return nil
}

func marshalQueueInto(buf []byte, q *RxeQueueSnapshot) {
	buf[0] = q.Log2ElemSize
	binary.LittleEndian.PutUint32(buf[4:8], q.IndexMask)
	binary.LittleEndian.PutUint32(buf[8:12], q.ProducerIndex)
	binary.LittleEndian.PutUint32(buf[12:16], q.ConsumerIndex)
}

func unmarshalQueueFrom(data []byte, q *RxeQueueSnapshot) {
	q.Log2ElemSize = data[0]
	q.IndexMask = binary.LittleEndian.Uint32(data[4:8])
	q.ProducerIndex = binary.LittleEndian.Uint32(data[8:12])
	q.ConsumerIndex = binary.LittleEndian.Uint32(data[12:16])
}

// MarshalCQ encodes a CQRecord.
func MarshalCQ(r *CQRecord) []byte {
	buf := make([]byte, 44)
	binary.LittleEndian.PutUint32(buf[0:4], r.Handle)
	binary.LittleEndian.PutUint32(buf[4:8], r.CQE)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.CompChannel))
	binary.LittleEndian.PutUint64(buf[12:20], r.VMStart)
	binary.LittleEndian.PutUint64(buf[20:28], r.VMSize)
	marshalQueueInto(buf[28:44], &r.Queue)
	return buf
}

// UnmarshalCQ decodes a CQRecord.
func UnmarshalCQ(data []byte, r *CQRecord) error {
	if len(data) < 44 {
		return ErrInsufficientData
	}
	r.Handle = binary.LittleEndian.Uint32(data[0:4])
	r.CQE = binary.LittleEndian.Uint32(data[4:8])
	r.CompChannel = int32(binary.LittleEndian.Uint32(data[8:12]))
	r.VMStart = binary.LittleEndian.Uint64(data[12:20])
	r.VMSize = binary.LittleEndian.Uint64(data[20:28])
	unmarshalQueueFrom(data[28:44], &r.Queue)
	return nil
}

func marshalAHInto(buf []byte, ah *AHAttr) {
	copy(buf[0:16], ah.DGID[:])
	binary.LittleEndian.PutUint32(buf[16:20], ah.FlowLabel)
	binary.LittleEndian.PutUint16(buf[20:22], ah.DLID)
	buf[22] = ah.SGidIndex
	buf[23] = ah.HopLimit
	buf[24] = ah.TrafficClass
	buf[25] = ah.SL
	buf[26] = ah.SrcPathBits
	buf[27] = ah.StaticRate
	buf[28] = ah.IsGlobal
	buf[29] = ah.PortNum
}

func unmarshalAHFrom(data []byte, ah *AHAttr) {
	copy(ah.DGID[:], data[0:16])
	ah.FlowLabel = binary.LittleEndian.Uint32(data[16:20])
	ah.DLID = binary.LittleEndian.Uint16(data[20:22])
	ah.SGidIndex = data[22]
	ah.HopLimit = data[23]
	ah.TrafficClass = data[24]
	ah.SL = data[25]
	ah.SrcPathBits = data[26]
	ah.StaticRate = data[27]
	ah.IsGlobal = data[28]
	ah.PortNum = data[29]
}

func marshalAttrInto(buf []byte, a *QPAttr) {
	binary.LittleEndian.PutUint32(buf[0:4], a.State)
	binary.LittleEndian.PutUint32(buf[4:8], a.PathMTU)
	binary.LittleEndian.PutUint32(buf[8:12], a.QPAccessFlags)
	binary.LittleEndian.PutUint32(buf[12:16], a.DestQPN)
	binary.LittleEndian.PutUint32(buf[16:20], a.RQPSN)
	binary.LittleEndian.PutUint32(buf[20:24], a.SQPSN)
	buf[24] = a.MaxRdAtomic
	buf[25] = a.MaxDestRdAtomic
	buf[26] = a.MinRnrTimer
	buf[27] = a.Timeout
	buf[28] = a.RetryCnt
	buf[29] = a.RnrRetry
	marshalAHInto(buf[32:64], &a.AH)
}

func unmarshalAttrFrom(data []byte, a *QPAttr) {
	a.State = binary.LittleEndian.Uint32(data[0:4])
	a.PathMTU = binary.LittleEndian.Uint32(data[4:8])
	a.QPAccessFlags = binary.LittleEndian.Uint32(data[8:12])
	a.DestQPN = binary.LittleEndian.Uint32(data[12:16])
	a.RQPSN = binary.LittleEndian.Uint32(data[16:20])
	a.SQPSN = binary.LittleEndian.Uint32(data[20:24])
	a.MaxRdAtomic = data[24]
	a.MaxDestRdAtomic = data[25]
	a.MinRnrTimer = data[26]
	a.Timeout = data[27]
	a.RetryCnt = data[28]
	a.RnrRetry = data[29]
	unmarshalAHFrom(data[32:64], &a.AH)
}

// MarshalQP encodes a QPRecord.
func MarshalQP(r *QPRecord) []byte {
	buf := make([]byte, 176)
	binary.LittleEndian.PutUint32(buf[0:4], r.Handle)
	binary.LittleEndian.PutUint32(buf[4:8], r.QPNum)
	binary.LittleEndian.PutUint32(buf[8:12], r.PDHandle)
	binary.LittleEndian.PutUint32(buf[12:16], r.SendCQHandle)
	binary.LittleEndian.PutUint32(buf[16:20], r.RecvCQHandle)
	binary.LittleEndian.PutUint32(buf[20:24], r.SRQHandle)
	binary.LittleEndian.PutUint32(buf[24:28], r.QPType)
	binary.LittleEndian.PutUint32(buf[28:32], r.MaxSendWR)
	binary.LittleEndian.PutUint32(buf[32:36], r.MaxRecvWR)
	binary.LittleEndian.PutUint32(buf[36:40], r.MaxSendSGE)
	binary.LittleEndian.PutUint32(buf[40:44], r.MaxRecvSGE)
	binary.LittleEndian.PutUint32(buf[44:48], r.MaxInlineData)
	binary.LittleEndian.PutUint64(buf[48:56], r.SendVMStart)
	binary.LittleEndian.PutUint64(buf[56:64], r.SendVMSize)
	binary.LittleEndian.PutUint64(buf[64:72], r.RecvVMStart)
	binary.LittleEndian.PutUint64(buf[72:80], r.RecvVMSize)
	marshalAttrInto(buf[80:144], &r.Attr)
	marshalQueueInto(buf[144:160], &r.SendQueue)
	marshalQueueInto(buf[160:176], &r.RecvQueue)
	return buf
}

// MarshalPDCreateArgs encodes a PDCreateArgs request buffer.
func MarshalPDCreateArgs(a *PDCreateArgs) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf[0:4], a.Handle)
	return buf
}

// UnmarshalPDCreateArgs decodes the kernel's response into a.
func UnmarshalPDCreateArgs(data []byte, a *PDCreateArgs) error {
	if len(data) < 4 {
		return ErrInsufficientData
	}
	a.Handle = binary.LittleEndian.Uint32(data[0:4])
	return nil
}

// MarshalMRRegArgs encodes an MRRegArgs request buffer.
func MarshalMRRegArgs(a *MRRegArgs) []byte {
	buf := make([]byte, 28)
	binary.LittleEndian.PutUint32(buf[0:4], a.Handle)
	binary.LittleEndian.PutUint32(buf[4:8], a.PDHandle)
	binary.LittleEndian.PutUint64(buf[8:16], a.Addr)
	binary.LittleEndian.PutUint64(buf[16:24], a.Length)
	binary.LittleEndian.PutUint32(buf[24:28], a.AccessFlags)
	return buf
}

// UnmarshalMRRegArgs decodes the kernel's response into a.
func UnmarshalMRRegArgs(data []byte, a *MRRegArgs) error {
	if len(data) < 28 {
		return ErrInsufficientData
	}
	a.Handle = binary.LittleEndian.Uint32(data[0:4])
	a.PDHandle = binary.LittleEndian.Uint32(data[4:8])
	a.Addr = binary.LittleEndian.Uint64(data[8:16])
	a.Length = binary.LittleEndian.Uint64(data[16:24])
	a.AccessFlags = binary.LittleEndian.Uint32(data[24:28])
	return nil
}

// MarshalMRKeysArgs encodes an MRKeysArgs request buffer.
func MarshalMRKeysArgs(a *MRKeysArgs) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], a.MRHandle)
	binary.LittleEndian.PutUint32(buf[4:8], a.LKey)
	binary.LittleEndian.PutUint32(buf[8:12], a.RKey)
	return buf
}

// UnmarshalMRKeysArgs decodes an MRKeysArgs buffer.
func UnmarshalMRKeysArgs(data []byte, a *MRKeysArgs) error {
	if len(data) < 12 {
		return ErrInsufficientData
	}
	a.MRHandle = binary.LittleEndian.Uint32(data[0:4])
	a.LKey = binary.LittleEndian.Uint32(data[4:8])
	a.RKey = binary.LittleEndian.Uint32(data[8:12])
	return nil
}

// MarshalCQCreateArgs encodes a CQCreateArgs request buffer.
func MarshalCQCreateArgs(a *CQCreateArgs) []byte {
	buf := make([]byte, 28)
	binary.LittleEndian.PutUint32(buf[0:4], a.Handle)
	binary.LittleEndian.PutUint32(buf[4:8], a.CQE)
	binary.LittleEndian.PutUint32(buf[8:12], a.CompVector)
	binary.LittleEndian.PutUint64(buf[12:20], a.VMStart)
	binary.LittleEndian.PutUint64(buf[20:28], a.VMSize)
	return buf
}

// UnmarshalCQCreateArgs decodes the kernel's response into a.
func UnmarshalCQCreateArgs(data []byte, a *CQCreateArgs) error {
	if len(data) < 28 {
		return ErrInsufficientData
	}
	a.Handle = binary.LittleEndian.Uint32(data[0:4])
	a.CQE = binary.LittleEndian.Uint32(data[4:8])
	a.CompVector = binary.LittleEndian.Uint32(data[8:12])
	a.VMStart = binary.LittleEndian.Uint64(data[12:20])
	a.VMSize = binary.LittleEndian.Uint64(data[20:28])
	return nil
}

// MarshalCQRefillArgs encodes a CQRefillArgs request buffer.
func MarshalCQRefillArgs(a *CQRefillArgs) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], a.CQHandle)
	marshalQueueInto(buf[4:20], &a.Queue)
	return buf
}

// UnmarshalCQRefillArgs decodes a CQRefillArgs buffer, used by fake verbs
// backends in tests to inspect what the restore pipeline requested.
func UnmarshalCQRefillArgs(data []byte, a *CQRefillArgs) error {
	if len(data) < 20 {
		return ErrInsufficientData
	}
	a.CQHandle = binary.LittleEndian.Uint32(data[0:4])
	unmarshalQueueFrom(data[4:20], &a.Queue)
	return nil
}

// MarshalQPCreateArgs encodes a QPCreateArgs request buffer.
func MarshalQPCreateArgs(a *QPCreateArgs) []byte {
	buf := make([]byte, 76)
	binary.LittleEndian.PutUint32(buf[0:4], a.Handle)
	binary.LittleEndian.PutUint32(buf[4:8], a.QPNum)
	binary.LittleEndian.PutUint32(buf[8:12], a.PDHandle)
	binary.LittleEndian.PutUint32(buf[12:16], a.SendCQHandle)
	binary.LittleEndian.PutUint32(buf[16:20], a.RecvCQHandle)
	binary.LittleEndian.PutUint32(buf[20:24], a.QPType)
	binary.LittleEndian.PutUint32(buf[24:28], a.MaxSendWR)
	binary.LittleEndian.PutUint32(buf[28:32], a.MaxRecvWR)
	binary.LittleEndian.PutUint32(buf[32:36], a.MaxSendSGE)
	binary.LittleEndian.PutUint32(buf[36:40], a.MaxRecvSGE)
	binary.LittleEndian.PutUint32(buf[40:44], a.MaxInlineData)
	binary.LittleEndian.PutUint64(buf[44:52], a.SendVMStart)
	binary.LittleEndian.PutUint64(buf[52:60], a.SendVMSize)
	binary.LittleEndian.PutUint64(buf[60:68], a.RecvVMStart)
	binary.LittleEndian.PutUint64(buf[68:76], a.RecvVMSize)
	return buf
}

// UnmarshalQPCreateArgs decodes the kernel's response into a.
func UnmarshalQPCreateArgs(data []byte, a *QPCreateArgs) error {
	if len(data) < 76 {
		return ErrInsufficientData
	}
	a.Handle = binary.LittleEndian.Uint32(data[0:4])
	a.QPNum = binary.LittleEndian.Uint32(data[4:8])
	a.PDHandle = binary.LittleEndian.Uint32(data[8:12])
	a.SendCQHandle = binary.LittleEndian.Uint32(data[12:16])
	a.RecvCQHandle = binary.LittleEndian.Uint32(data[16:20])
	a.QPType = binary.LittleEndian.Uint32(data[20:24])
	a.MaxSendWR = binary.LittleEndian.Uint32(data[24:28])
	a.MaxRecvWR = binary.LittleEndian.Uint32(data[28:32])
	a.MaxSendSGE = binary.LittleEndian.Uint32(data[32:36])
	a.MaxRecvSGE = binary.LittleEndian.Uint32(data[36:40])
	a.MaxInlineData = binary.LittleEndian.Uint32(data[40:44])
	a.SendVMStart = binary.LittleEndian.Uint64(data[44:52])
	a.SendVMSize = binary.LittleEndian.Uint64(data[52:60])
	a.RecvVMStart = binary.LittleEndian.Uint64(data[60:68])
	a.RecvVMSize = binary.LittleEndian.Uint64(data[68:76])
	return nil
}

// MarshalQPModifyArgs encodes a QPModifyArgs request buffer.
func MarshalQPModifyArgs(a *QPModifyArgs) []byte {
	buf := make([]byte, 68)
	binary.LittleEndian.PutUint32(buf[0:4], a.QPHandle)
	marshalAttrInto(buf[4:68], &a.Attr)
	return buf
}

// UnmarshalQPModifyArgs decodes a QPModifyArgs buffer, used by fake verbs
// backends in tests to inspect what the restore pipeline requested.
func UnmarshalQPModifyArgs(data []byte, a *QPModifyArgs) error {
	if len(data) < 68 {
		return ErrInsufficientData
	}
	a.QPHandle = binary.LittleEndian.Uint32(data[0:4])
	unmarshalAttrFrom(data[4:68], &a.Attr)
	return nil
}

// MarshalQPRefillArgs encodes a QPRefillArgs request buffer.
func MarshalQPRefillArgs(a *QPRefillArgs) []byte {
	buf := make([]byte, 36)
	binary.LittleEndian.PutUint32(buf[0:4], a.QPHandle)
	marshalQueueInto(buf[4:20], &a.SendQueue)
	marshalQueueInto(buf[20:36], &a.RecvQueue)
	return buf
}

// UnmarshalQPRefillArgs decodes a QPRefillArgs buffer, used by fake verbs
// backends in tests to inspect what the restore pipeline requested.
func UnmarshalQPRefillArgs(data []byte, a *QPRefillArgs) error {
	if len(data) < 36 {
		return ErrInsufficientData
	}
	a.QPHandle = binary.LittleEndian.Uint32(data[0:4])
	unmarshalQueueFrom(data[4:20], &a.SendQueue)
	unmarshalQueueFrom(data[20:36], &a.RecvQueue)
	return nil
}

// UnmarshalQP decodes a QPRecord.
func UnmarshalQP(data []byte, r *QPRecord) error {
	if len(data) < 176 {
		return ErrInsufficientData
	}
	r.Handle = binary.LittleEndian.Uint32(data[0:4])
	r.QPNum = binary.LittleEndian.Uint32(data[4:8])
	r.PDHandle = binary.LittleEndian.Uint32(data[8:12])
	r.SendCQHandle = binary.LittleEndian.Uint32(data[12:16])
	r.RecvCQHandle = binary.LittleEndian.Uint32(data[16:20])
	r.SRQHandle = binary.LittleEndian.Uint32(data[20:24])
	r.QPType = binary.LittleEndian.Uint32(data[24:28])
	r.MaxSendWR = binary.LittleEndian.Uint32(data[28:32])
	r.MaxRecvWR = binary.LittleEndian.Uint32(data[32:36])
	r.MaxSendSGE = binary.LittleEndian.Uint32(data[36:40])
	r.MaxRecvSGE = binary.LittleEndian.Uint32(data[40:44])
	r.MaxInlineData = binary.LittleEndian.Uint32(data[44:48])
	r.SendVMStart = binary.LittleEndian.Uint64(data[48:56])
	r.SendVMSize = binary.LittleEndian.Uint64(data[56:64])
	r.RecvVMStart = binary.LittleEndian.Uint64(data[64:72])
	r.RecvVMSize = binary.LittleEndian.Uint64(data[72:80])
	unmarshalAttrFrom(data[80:144], &r.Attr)
	unmarshalQueueFrom(data[144:160], &r.SendQueue)
	unmarshalQueueFrom(data[160:176], &r.RecvQueue)
	return nil
}
