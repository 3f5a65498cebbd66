package ibverbscr

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreos-rdma/ibverbscr/internal/catalog"
	"github.com/coreos-rdma/ibverbscr/internal/constants"
	"github.com/coreos-rdma/ibverbscr/internal/decoder"
	"github.com/coreos-rdma/ibverbscr/internal/restore"
	"github.com/coreos-rdma/ibverbscr/internal/rxeparam"
	"github.com/coreos-rdma/ibverbscr/internal/uapi"
	"github.com/coreos-rdma/ibverbscr/internal/vma"
)

func TestDefaultConfigFillsZeroValues(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, uint32(constants.DefaultDumpBufferSize), cfg.DumpBufferSize)
	assert.Equal(t, constants.DefaultCatalogCeiling, cfg.CatalogCeiling)
}

func TestDefaultConfigLeavesExplicitValues(t *testing.T) {
	cfg := Config{DumpBufferSize: 8192, CatalogCeiling: 64}.withDefaults()
	assert.Equal(t, uint32(8192), cfg.DumpBufferSize)
	assert.Equal(t, 64, cfg.CatalogCeiling)
}

func TestIbverbsEntryObjsRoundTripsThroughDecoder(t *testing.T) {
	var buf bytes.Buffer
	pd := &uapi.PDRecord{Handle: 0}
	require.NoError(t, decoder.EncodeEntry(&buf, decoder.Entry{Kind: uapi.KindPD, PD: pd}))

	entries, err := decoder.DecodeAll(&buf, nil)
	require.NoError(t, err)
	entry := &IbverbsEntry{ID: 1, Objs: entries}

	assert.Len(t, entry.Objs, 1)
	assert.Equal(t, uapi.KindPD, entry.Objs[0].Kind)
}

func TestLastEventFDAfterRecord(t *testing.T) {
	eventTracker.Record(42)
	fd, err := LastEventFD()
	require.NoError(t, err)
	assert.Equal(t, 42, fd)
}

func TestContextFdListAccumulatesAndIsolatesCaller(t *testing.T) {
	saved := contextFDs
	contextFDs = nil
	defer func() { contextFDs = saved }()

	contextFDs = append(contextFDs, 7, 11)
	list := ContextFdList()
	assert.Equal(t, []int{7, 11}, list)

	list[0] = 99
	assert.Equal(t, []int{7, 11}, ContextFdList(), "mutating the returned slice must not alter the tracked state")
}

// newTestPipeline wires a restore.Pipeline against the exported fakes
// from testing.go, exercising the same seam Restore uses internally,
// without touching a real rxe device.
func newTestPipeline(dev *FakeVerbsBackend, procfs *FakeProcfs) *restore.Pipeline {
	return restore.New(dev, rxeparam.New(procfs), catalog.New(constants.DefaultCatalogCeiling), vma.NewKeeper(), nil)
}

func decodeBuffer(t *testing.T, entries ...decoder.Entry) []decoder.Entry {
	t.Helper()
	var buf bytes.Buffer
	for _, e := range entries {
		require.NoError(t, decoder.EncodeEntry(&buf, e))
	}
	decoded, err := decoder.DecodeAll(&buf, vma.NewKeeper())
	require.NoError(t, err)
	return decoded
}

func TestScenarioPDOnly(t *testing.T) {
	dev := NewFakeVerbsBackend()
	dev.QueueResponse(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&uapi.PDCreateArgs{Handle: 0}))
	procfs := NewFakeProcfs(nil)

	entries := decodeBuffer(t, decoder.Entry{Kind: uapi.KindPD, PD: &uapi.PDRecord{Handle: 0}})
	require.NoError(t, newTestPipeline(dev, procfs).Run(entries))

	assert.Len(t, dev.CallsFor(uapi.OpPDCreate.Cmd()), 1)
	assert.Empty(t, procfs.Writes())
}

func TestScenarioPDPlusMRIdentity(t *testing.T) {
	dev := NewFakeVerbsBackend()
	dev.QueueResponse(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&uapi.PDCreateArgs{Handle: 0}))
	dev.QueueResponse(uapi.OpMRReg.Cmd(), uapi.MarshalMRRegArgs(&uapi.MRRegArgs{Handle: 1}))
	procfs := NewFakeProcfs(map[string]int64{constants.ProcLastMRN: 7})

	keeper := vma.NewKeeper()
	var buf bytes.Buffer
	require.NoError(t, decoder.EncodeEntry(&buf, decoder.Entry{Kind: uapi.KindPD, PD: &uapi.PDRecord{Handle: 0}}))
	require.NoError(t, decoder.EncodeEntry(&buf, decoder.Entry{Kind: uapi.KindMR, MR: &uapi.MRRecord{
		Handle: 1, PDHandle: 0, Mrn: 42, LKey: 0xAAAA, RKey: 0xBBBB, Addr: 0x400000, Length: 0x2000,
	}}))
	entries, err := decoder.DecodeAll(&buf, keeper)
	require.NoError(t, err)

	require.NoError(t, newTestPipeline(dev, procfs).Run(entries))

	assert.True(t, keeper.Owns(0x400000, 0x2000))
	assert.Equal(t, int64(7), procfs.Value(constants.ProcLastMRN))

	keysCalls := dev.CallsFor(uapi.OpMRKeys.Cmd())
	require.Len(t, keysCalls, 1)
	var keys uapi.MRKeysArgs
	require.NoError(t, uapi.UnmarshalMRKeysArgs(keysCalls[0].Payload, &keys))
	assert.Equal(t, uint32(0xAAAA), keys.LKey)
	assert.Equal(t, uint32(0xBBBB), keys.RKey)
}

func TestScenarioPDPlusCQRing(t *testing.T) {
	dev := NewFakeVerbsBackend()
	dev.QueueResponse(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 2}))
	procfs := NewFakeProcfs(nil)

	snap := uapi.RxeQueueSnapshot{Log2ElemSize: 5, IndexMask: 0x7f, ProducerIndex: 7, ConsumerIndex: 3}
	entries := decodeBuffer(t, decoder.Entry{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{
		Handle: 2, CQE: 128, CompChannel: uapi.NoCompChannel,
		VMStart: 0x7f0000000000, VMSize: 0x4000, Queue: snap,
	}})

	p := newTestPipeline(dev, procfs)
	require.NoError(t, p.Run(entries))

	refillCalls := dev.CallsFor(uapi.OpCQRefill.Cmd())
	require.Len(t, refillCalls, 1)
	var refill uapi.CQRefillArgs
	require.NoError(t, uapi.UnmarshalCQRefillArgs(refillCalls[0].Payload, &refill))
	assert.Equal(t, snap, refill.Queue)
}

func TestScenarioFullRCQPRoundTripToRTS(t *testing.T) {
	dev := NewFakeVerbsBackend()
	dev.QueueResponse(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&uapi.PDCreateArgs{Handle: 0}))
	dev.QueueResponse(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 1}))
	dev.QueueResponse(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 2}))
	dev.QueueResponse(uapi.OpQPCreate.Cmd(), uapi.MarshalQPCreateArgs(&uapi.QPCreateArgs{Handle: 3, QPNum: 0x100}))
	procfs := NewFakeProcfs(map[string]int64{constants.ProcLastQPN: 500})

	entries := decodeBuffer(t,
		decoder.Entry{Kind: uapi.KindPD, PD: &uapi.PDRecord{Handle: 0}},
		decoder.Entry{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 1, CompChannel: uapi.NoCompChannel}},
		decoder.Entry{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 2, CompChannel: uapi.NoCompChannel}},
		decoder.Entry{Kind: uapi.KindQP, QP: &uapi.QPRecord{
			Handle: 3, QPNum: 0x100, PDHandle: 0, SendCQHandle: 1, RecvCQHandle: 2,
			SRQHandle: uapi.NoSRQ, QPType: uapi.QPTypeRC,
			Attr: uapi.QPAttr{
				State: uapi.QPStateRTS, PathMTU: 1, QPAccessFlags: 0x7, DestQPN: 0x20,
				RQPSN: 5, SQPSN: 9, MaxRdAtomic: 4, MaxDestRdAtomic: 4,
				MinRnrTimer: 12, Timeout: 14, RetryCnt: 7, RnrRetry: 7,
			},
		}},
	)

	require.NoError(t, newTestPipeline(dev, procfs).Run(entries))

	assert.Equal(t, int64(500), procfs.Value(constants.ProcLastQPN))
	assert.Len(t, dev.CallsFor(uapi.OpQPModify.Cmd()), 3)
	assert.Len(t, dev.CallsFor(uapi.OpQPRefill.Cmd()), 1)
}

func TestScenarioSRQRejected(t *testing.T) {
	dev := NewFakeVerbsBackend()
	dev.QueueResponse(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&uapi.PDCreateArgs{Handle: 0}))
	dev.QueueResponse(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 1}))
	dev.QueueResponse(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 2}))
	procfs := NewFakeProcfs(nil)

	entries := decodeBuffer(t,
		decoder.Entry{Kind: uapi.KindPD, PD: &uapi.PDRecord{Handle: 0}},
		decoder.Entry{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 1, CompChannel: uapi.NoCompChannel}},
		decoder.Entry{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 2, CompChannel: uapi.NoCompChannel}},
		decoder.Entry{Kind: uapi.KindQP, QP: &uapi.QPRecord{
			Handle: 3, QPNum: 0x100, PDHandle: 0, SendCQHandle: 1, RecvCQHandle: 2,
			SRQHandle: 5, QPType: uapi.QPTypeRC,
		}},
	)

	p := newTestPipeline(dev, procfs)
	err := p.Run(entries)
	var unsupported *restore.ErrUnsupportedFeature
	require.ErrorAs(t, err, &unsupported)

	_, ok := p.Lookup(uapi.KindQP, 3)
	assert.False(t, ok)
}

func TestScenarioSizeMismatchAbortsDecode(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeHeader(uint32(uapi.KindPD), 0, 0))

	_, err := decoder.DecodeAll(&buf, nil)
	var mismatch *decoder.ErrSizeMismatch
	require.ErrorAs(t, err, &mismatch)
}
