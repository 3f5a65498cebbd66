package restore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/coreos-rdma/ibverbscr/internal/catalog"
	"github.com/coreos-rdma/ibverbscr/internal/constants"
	"github.com/coreos-rdma/ibverbscr/internal/decoder"
	"github.com/coreos-rdma/ibverbscr/internal/rxeparam"
	"github.com/coreos-rdma/ibverbscr/internal/uapi"
	"github.com/coreos-rdma/ibverbscr/internal/vma"
)

type fakeCall struct {
	cmd     uint32
	payload []byte
}

// fakeDevice implements interfaces.VerbsDevice. Responses are queued per
// ioctl command; an op with no queued response echoes its request
// payload back, which is sufficient for ops this pipeline never reads a
// response from (MR_KEYS, CQ_REFILL, QP_MODIFY, QP_REFILL).
type fakeDevice struct {
	responses map[uint32][][]byte
	calls     []fakeCall
	failOn    uint32
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{responses: make(map[uint32][][]byte)}
}

func (f *fakeDevice) queue(cmd uint32, resp []byte) {
	f.responses[cmd] = append(f.responses[cmd], resp)
}

func (f *fakeDevice) RestoreObject(cmd uint32, payload []byte) ([]byte, error) {
	f.calls = append(f.calls, fakeCall{cmd: cmd, payload: append([]byte(nil), payload...)})
	if f.failOn != 0 && cmd == f.failOn {
		return nil, errors.New("fake device failure")
	}
	q := f.responses[cmd]
	if len(q) == 0 {
		return payload, nil
	}
	f.responses[cmd] = q[1:]
	return q[0], nil
}

func (f *fakeDevice) Close() error { return nil }

func (f *fakeDevice) callsFor(cmd uint32) []fakeCall {
	var out []fakeCall
	for _, c := range f.calls {
		if c.cmd == cmd {
			out = append(out, c)
		}
	}
	return out
}

type fakeKnobs struct {
	qpn, mrn int64
	writes   []string
}

func (f *fakeKnobs) ReadKnob(path string) (int64, error) {
	if path == constants.ProcLastQPN {
		return f.qpn, nil
	}
	return f.mrn, nil
}

func (f *fakeKnobs) WriteKnob(path string, value int64) error {
	f.writes = append(f.writes, fmt.Sprintf("%s=%d", path, value))
	if path == constants.ProcLastQPN {
		f.qpn = value
	} else {
		f.mrn = value
	}
	return nil
}

func newPipeline(dev *fakeDevice, knobs *fakeKnobs) *Pipeline {
	return New(dev, rxeparam.New(knobs), catalog.New(constants.DefaultCatalogCeiling), vma.NewKeeper(), nil)
}

func TestRestorePDOnly(t *testing.T) {
	dev := newFakeDevice()
	dev.queue(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&uapi.PDCreateArgs{Handle: 0}))
	knobs := &fakeKnobs{}
	p := newPipeline(dev, knobs)

	entries := []decoder.Entry{{Kind: uapi.KindPD, PD: &uapi.PDRecord{Handle: 0}}}
	if err := p.Run(entries); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if p.cat.Count(uapi.KindPD) != 1 {
		t.Errorf("expected 1 cataloged PD, got %d", p.cat.Count(uapi.KindPD))
	}
	if len(dev.calls) != 1 {
		t.Errorf("expected exactly one restore_object call, got %d", len(dev.calls))
	}
	if len(knobs.writes) != 0 {
		t.Errorf("PD restore should not touch procfs knobs, got writes %v", knobs.writes)
	}
}

func TestRestoreMRIdentityAndKnobNeutrality(t *testing.T) {
	dev := newFakeDevice()
	dev.queue(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&uapi.PDCreateArgs{Handle: 0}))
	dev.queue(uapi.OpMRReg.Cmd(), uapi.MarshalMRRegArgs(&uapi.MRRegArgs{Handle: 1}))
	knobs := &fakeKnobs{mrn: 100}
	p := newPipeline(dev, knobs)

	entries := []decoder.Entry{
		{Kind: uapi.KindPD, PD: &uapi.PDRecord{Handle: 0}},
		{Kind: uapi.KindMR, MR: &uapi.MRRecord{
			Handle: 1, PDHandle: 0, Mrn: 42, LKey: 0xAAAA, RKey: 0xBBBB, Addr: 0x400000, Length: 0x2000,
		}},
	}
	if err := p.Run(entries); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if knobs.mrn != 100 {
		t.Errorf("knob neutrality violated: last_mrn = %d, want restored to 100", knobs.mrn)
	}
	wantWrite := fmt.Sprintf("%s=41", constants.ProcLastMRN)
	found := false
	for _, w := range knobs.writes {
		if w == wantWrite {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a write of %q, got %v", wantWrite, knobs.writes)
	}

	keysCalls := dev.callsFor(uapi.OpMRKeys.Cmd())
	if len(keysCalls) != 1 {
		t.Fatalf("expected 1 MR_KEYS call, got %d", len(keysCalls))
	}
	var keys uapi.MRKeysArgs
	if err := uapi.UnmarshalMRKeysArgs(keysCalls[0].payload, &keys); err != nil {
		t.Fatalf("unmarshal MR_KEYS payload: %v", err)
	}
	if keys.LKey != 0xAAAA || keys.RKey != 0xBBBB {
		t.Errorf("MR_KEYS payload = %+v, want lkey=0xAAAA rkey=0xBBBB", keys)
	}
}

func TestRestoreMRMissingPDDependency(t *testing.T) {
	dev := newFakeDevice()
	p := newPipeline(dev, &fakeKnobs{})

	entries := []decoder.Entry{
		{Kind: uapi.KindMR, MR: &uapi.MRRecord{Handle: 1, PDHandle: 0, Mrn: 1}},
	}
	err := p.Run(entries)
	if _, ok := err.(*ErrMissingDependency); !ok {
		t.Fatalf("expected ErrMissingDependency, got %v", err)
	}
}

func TestRestoreCQRing(t *testing.T) {
	dev := newFakeDevice()
	dev.queue(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 2}))
	p := newPipeline(dev, &fakeKnobs{})

	snap := uapi.RxeQueueSnapshot{Log2ElemSize: 5, IndexMask: 0x7f, ProducerIndex: 7, ConsumerIndex: 3}
	entries := []decoder.Entry{
		{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{
			Handle: 2, CQE: 128, CompChannel: uapi.NoCompChannel,
			VMStart: 0x7f0000000000, VMSize: 0x4000, Queue: snap,
		}},
	}
	if err := p.Run(entries); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !p.keeper.Owns(0x7f0000000000, 0x100) {
		t.Error("expected CQ ring range to be tagged in the VMA keeper")
	}

	refillCalls := dev.callsFor(uapi.OpCQRefill.Cmd())
	if len(refillCalls) != 1 {
		t.Fatalf("expected 1 CQ_REFILL call, got %d", len(refillCalls))
	}
	var refill uapi.CQRefillArgs
	if err := uapi.UnmarshalCQRefillArgs(refillCalls[0].payload, &refill); err != nil {
		t.Fatalf("unmarshal CQ_REFILL payload: %v", err)
	}
	if refill.Queue != snap {
		t.Errorf("CQ_REFILL queue = %+v, want %+v", refill.Queue, snap)
	}
}

func TestRestoreCQRejectsCompChannel(t *testing.T) {
	dev := newFakeDevice()
	p := newPipeline(dev, &fakeKnobs{})

	entries := []decoder.Entry{
		{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 2, CQE: 128, CompChannel: 5}},
	}
	err := p.Run(entries)
	if _, ok := err.(*ErrUnsupportedFeature); !ok {
		t.Fatalf("expected ErrUnsupportedFeature, got %v", err)
	}
}

func TestRestoreQPFullRoundTripToRTS(t *testing.T) {
	dev := newFakeDevice()
	dev.queue(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&uapi.PDCreateArgs{Handle: 0}))
	dev.queue(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 1}))
	dev.queue(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 2}))
	dev.queue(uapi.OpQPCreate.Cmd(), uapi.MarshalQPCreateArgs(&uapi.QPCreateArgs{Handle: 3, QPNum: 0x100}))
	knobs := &fakeKnobs{qpn: 500}
	p := newPipeline(dev, knobs)

	entries := []decoder.Entry{
		{Kind: uapi.KindPD, PD: &uapi.PDRecord{Handle: 0}},
		{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 1, CompChannel: uapi.NoCompChannel}},
		{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 2, CompChannel: uapi.NoCompChannel}},
		{Kind: uapi.KindQP, QP: &uapi.QPRecord{
			Handle: 3, QPNum: 0x100, PDHandle: 0, SendCQHandle: 1, RecvCQHandle: 2,
			SRQHandle: uapi.NoSRQ, QPType: uapi.QPTypeRC,
			Attr: uapi.QPAttr{
				State: uapi.QPStateRTS, PathMTU: 1, QPAccessFlags: 0x7, DestQPN: 0x20,
				RQPSN: 5, SQPSN: 9, MaxRdAtomic: 4, MaxDestRdAtomic: 4,
				MinRnrTimer: 12, Timeout: 14, RetryCnt: 7, RnrRetry: 7,
			},
		}},
	}

	if err := p.Run(entries); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if knobs.qpn != 500 {
		t.Errorf("knob neutrality violated: last_qpn = %d, want restored to 500", knobs.qpn)
	}

	modifyCalls := dev.callsFor(uapi.OpQPModify.Cmd())
	if len(modifyCalls) != 3 {
		t.Fatalf("expected 3 modify_qp calls (INIT, RTR, RTS), got %d", len(modifyCalls))
	}

	var initArgs, rtrArgs, rtsArgs uapi.QPModifyArgs
	if err := uapi.UnmarshalQPModifyArgs(modifyCalls[0].payload, &initArgs); err != nil {
		t.Fatalf("unmarshal INIT modify: %v", err)
	}
	if err := uapi.UnmarshalQPModifyArgs(modifyCalls[1].payload, &rtrArgs); err != nil {
		t.Fatalf("unmarshal RTR modify: %v", err)
	}
	if err := uapi.UnmarshalQPModifyArgs(modifyCalls[2].payload, &rtsArgs); err != nil {
		t.Fatalf("unmarshal RTS modify: %v", err)
	}

	if initArgs.Attr.State != uapi.QPStateInit || initArgs.Attr.QPAccessFlags != 0x7 {
		t.Errorf("INIT modify attr = %+v", initArgs.Attr)
	}
	if rtrArgs.Attr.State != uapi.QPStateRTR || rtrArgs.Attr.DestQPN != 0x20 || rtrArgs.Attr.MinRnrTimer != 12 {
		t.Errorf("RTR modify attr = %+v", rtrArgs.Attr)
	}
	if rtsArgs.Attr.State != uapi.QPStateRTS || rtsArgs.Attr.SQPSN != 9 || rtsArgs.Attr.RetryCnt != 7 {
		t.Errorf("RTS modify attr = %+v", rtsArgs.Attr)
	}

	if len(dev.callsFor(uapi.OpQPRefill.Cmd())) != 1 {
		t.Errorf("expected exactly 1 QP_REFILL call")
	}
}

func TestRestoreQPStopsAtRecordedTargetState(t *testing.T) {
	dev := newFakeDevice()
	dev.queue(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&uapi.PDCreateArgs{Handle: 0}))
	dev.queue(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 1}))
	dev.queue(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 2}))
	dev.queue(uapi.OpQPCreate.Cmd(), uapi.MarshalQPCreateArgs(&uapi.QPCreateArgs{Handle: 3, QPNum: 0x100}))
	p := newPipeline(dev, &fakeKnobs{})

	entries := []decoder.Entry{
		{Kind: uapi.KindPD, PD: &uapi.PDRecord{Handle: 0}},
		{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 1, CompChannel: uapi.NoCompChannel}},
		{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 2, CompChannel: uapi.NoCompChannel}},
		{Kind: uapi.KindQP, QP: &uapi.QPRecord{
			Handle: 3, QPNum: 0x100, PDHandle: 0, SendCQHandle: 1, RecvCQHandle: 2,
			SRQHandle: uapi.NoSRQ, QPType: uapi.QPTypeRC,
			Attr: uapi.QPAttr{State: uapi.QPStateInit},
		}},
	}

	if err := p.Run(entries); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := len(dev.callsFor(uapi.OpQPModify.Cmd())); n != 1 {
		t.Errorf("expected 1 modify_qp call for an INIT-only target, got %d", n)
	}
}

func TestRestoreQPRejectsSRQ(t *testing.T) {
	dev := newFakeDevice()
	dev.queue(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&uapi.PDCreateArgs{Handle: 0}))
	dev.queue(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 1}))
	dev.queue(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&uapi.CQCreateArgs{Handle: 2}))
	p := newPipeline(dev, &fakeKnobs{})

	entries := []decoder.Entry{
		{Kind: uapi.KindPD, PD: &uapi.PDRecord{Handle: 0}},
		{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 1, CompChannel: uapi.NoCompChannel}},
		{Kind: uapi.KindCQ, CQ: &uapi.CQRecord{Handle: 2, CompChannel: uapi.NoCompChannel}},
		{Kind: uapi.KindQP, QP: &uapi.QPRecord{
			Handle: 3, QPNum: 0x100, PDHandle: 0, SendCQHandle: 1, RecvCQHandle: 2,
			SRQHandle: 5, QPType: uapi.QPTypeRC,
		}},
	}

	err := p.Run(entries)
	if _, ok := err.(*ErrUnsupportedFeature); !ok {
		t.Fatalf("expected ErrUnsupportedFeature, got %v", err)
	}
	if _, ok := p.cat.Lookup(uapi.KindQP, 3); ok {
		t.Error("catalog should not contain the rejected QP")
	}
}

func TestRestorePDIdentityMismatch(t *testing.T) {
	dev := newFakeDevice()
	dev.queue(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&uapi.PDCreateArgs{Handle: 7}))
	p := newPipeline(dev, &fakeKnobs{})

	entries := []decoder.Entry{{Kind: uapi.KindPD, PD: &uapi.PDRecord{Handle: 0}}}
	err := p.Run(entries)
	if _, ok := err.(*ErrIdentityMismatch); !ok {
		t.Fatalf("expected ErrIdentityMismatch, got %v", err)
	}
}
