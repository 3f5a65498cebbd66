package ibverbscr

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/coreos-rdma/ibverbscr/internal/interfaces"
)

// FakeVerbsBackend is a test double for the kernel's restore_object and
// dump_context ioctl multiplex, queuing canned responses per ioctl
// command the way the teacher's MockBackend tracks calls against a
// RAM-backed block device. Responses for a command not queued are
// echoed back verbatim, which is sufficient for ops this core never
// reads a response from (MR_KEYS, CQ_REFILL, QP_MODIFY, QP_REFILL).
type FakeVerbsBackend struct {
	mu        sync.Mutex
	responses map[uint32][][]byte
	calls     []FakeCall
	dumpBuf   []byte
	failOn    uint32
	closed    bool
}

// FakeCall records one RestoreObject invocation for later inspection.
type FakeCall struct {
	Cmd     uint32
	Payload []byte
}

// NewFakeVerbsBackend returns an empty FakeVerbsBackend.
func NewFakeVerbsBackend() *FakeVerbsBackend {
	return &FakeVerbsBackend{responses: make(map[uint32][][]byte)}
}

// QueueResponse arranges for the next RestoreObject call against cmd to
// return resp instead of echoing its request payload.
func (f *FakeVerbsBackend) QueueResponse(cmd uint32, resp []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmd] = append(f.responses[cmd], resp)
}

// FailOn arranges for every RestoreObject call against cmd to fail.
func (f *FakeVerbsBackend) FailOn(cmd uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn = cmd
}

// SetDumpBuffer arranges for DumpContext to return buf (trimmed to the
// requested size), simulating a kernel dump_context ioctl result.
func (f *FakeVerbsBackend) SetDumpBuffer(buf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dumpBuf = buf
}

// RestoreObject implements interfaces.VerbsDevice.
func (f *FakeVerbsBackend) RestoreObject(cmd uint32, payload []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, FakeCall{Cmd: cmd, Payload: append([]byte(nil), payload...)})
	if f.failOn != 0 && cmd == f.failOn {
		return nil, errors.New("fake verbs backend: forced failure")
	}
	q := f.responses[cmd]
	if len(q) == 0 {
		return payload, nil
	}
	f.responses[cmd] = q[1:]
	return q[0], nil
}

// DumpContext implements interfaces.DumpSource.
func (f *FakeVerbsBackend) DumpContext(bufSize uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(f.dumpBuf)
	if uint32(n) > bufSize {
		n = int(bufSize)
	}
	return append([]byte(nil), f.dumpBuf[:n]...), nil
}

// Close implements interfaces.VerbsDevice.
func (f *FakeVerbsBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Calls returns every RestoreObject call recorded so far, in order.
func (f *FakeVerbsBackend) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// CallsFor filters Calls to those matching cmd.
func (f *FakeVerbsBackend) CallsFor(cmd uint32) []FakeCall {
	var out []FakeCall
	for _, c := range f.Calls() {
		if c.Cmd == cmd {
			out = append(out, c)
		}
	}
	return out
}

// IsClosed reports whether Close has been called.
func (f *FakeVerbsBackend) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var (
	_ interfaces.VerbsDevice = (*FakeVerbsBackend)(nil)
	_ interfaces.DumpSource  = (*FakeVerbsBackend)(nil)
)

// FakeProcfs is an in-memory interfaces.KnobStore, recording every write
// for assertions about the knob set/restore dance, without touching a
// real rxe driver's procfs files.
type FakeProcfs struct {
	mu     sync.Mutex
	values map[string]int64
	writes []string
}

// NewFakeProcfs returns a FakeProcfs seeded with the given initial knob
// values (keyed by the constants.ProcLastQPN/ProcLastMRN paths).
func NewFakeProcfs(initial map[string]int64) *FakeProcfs {
	values := make(map[string]int64, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &FakeProcfs{values: values}
}

// ReadKnob implements interfaces.KnobStore.
func (f *FakeProcfs) ReadKnob(path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[path], nil
}

// WriteKnob implements interfaces.KnobStore.
func (f *FakeProcfs) WriteKnob(path string, value int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[path] = value
	f.writes = append(f.writes, path)
	return nil
}

// Writes returns every knob path written so far, in order, with
// repeats for repeated writes to the same path.
func (f *FakeProcfs) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// Value returns the current value of path.
func (f *FakeProcfs) Value(path string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[path]
}

var _ interfaces.KnobStore = (*FakeProcfs)(nil)

// RecordingFileRecorder is a RegularFileRecorder test double that
// remembers every path it was asked to record; flags are not kept.
type RecordingFileRecorder struct {
	mu      sync.Mutex
	Paths   []string
	LastErr error
}

// RecordRegularFile implements RegularFileRecorder.
func (r *RecordingFileRecorder) RecordRegularFile(path string, flags uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Paths = append(r.Paths, path)
	return r.LastErr
}

// EncodeHeader is a small test helper that builds a raw {type, size,
// handle} record header (no payload), matching the wire format
// internal/decoder consumes, for tests that assemble a fake dump buffer
// by hand rather than going through EncodeEntry.
func EncodeHeader(typ, size, handle uint32) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], typ)
	binary.LittleEndian.PutUint32(buf[4:8], size)
	binary.LittleEndian.PutUint32(buf[8:12], handle)
	return buf
}
