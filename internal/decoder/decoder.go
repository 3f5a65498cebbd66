// Package decoder reads a dump image (a sequence of {type, size, handle}
// records) into in-memory object records ready for the restore pipeline,
// and encodes live-context state back into the same wire format during
// dump.
package decoder

import (
	"fmt"
	"io"

	"github.com/coreos-rdma/ibverbscr/internal/constants"
	"github.com/coreos-rdma/ibverbscr/internal/uapi"
	"github.com/coreos-rdma/ibverbscr/internal/vma"
)

// Entry is a discriminated union over the four object kinds a dump image
// can carry. Exactly one of PD/MR/CQ/QP is non-nil, matching Kind.
type Entry struct {
	Kind uapi.ObjectKind
	PD   *uapi.PDRecord
	MR   *uapi.MRRecord
	CQ   *uapi.CQRecord
	QP   *uapi.QPRecord
}

// Handle returns the dump-time handle for this entry regardless of kind.
func (e Entry) Handle() uint32 {
	switch e.Kind {
	case uapi.KindPD:
		return e.PD.Handle
	case uapi.KindMR:
		return e.MR.Handle
	case uapi.KindCQ:
		return e.CQ.Handle
	case uapi.KindQP:
		return e.QP.Handle
	default:
		return 0
	}
}

// ErrUnknownType is returned when a record header names a type this
// decoder does not recognize.
type ErrUnknownType struct{ Type uint32 }

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("decoder: unknown record type %d", e.Type)
}

// ErrSizeMismatch is returned when a record header's declared size does
// not match the fixed payload size for its type.
type ErrSizeMismatch struct {
	Kind     uapi.ObjectKind
	Declared uint32
	Expected uint32
}

func (e *ErrSizeMismatch) Error() string {
	return fmt.Sprintf("decoder: %s record declares size %d, expected %d", e.Kind, e.Declared, e.Expected)
}

var expectedSize = map[uapi.ObjectKind]uint32{
	uapi.KindPD: 4,
	uapi.KindMR: 40,
	uapi.KindCQ: 44,
	uapi.KindQP: 176,
}

// DecodeAll reads every record from r until EOF, validating each header
// and payload, and tagging MR-backed ranges against the supplied VMA
// keeper so the restore side knows which address ranges it must remap
// instead of leaving to the generic memory restorer.
func DecodeAll(r io.Reader, keeper *vma.Keeper) ([]Entry, error) {
	var entries []Entry

	headerBuf := make([]byte, constants.RecordHeaderSize)
	for {
		if _, err := io.ReadFull(r, headerBuf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decoder: read header: %w", err)
		}

		var hdr uapi.RecordHeader
		if err := uapi.UnmarshalHeader(headerBuf, &hdr); err != nil {
			return nil, err
		}

		kind := uapi.ObjectKind(hdr.Type)
		want, known := expectedSize[kind]
		if !known {
			return nil, &ErrUnknownType{Type: hdr.Type}
		}
		if hdr.Size != want {
			return nil, &ErrSizeMismatch{Kind: kind, Declared: hdr.Size, Expected: want}
		}

		payload := make([]byte, hdr.Size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("decoder: read %s payload: %w", kind, err)
		}

		entry, err := decodePayload(kind, hdr.Handle, payload)
		if err != nil {
			return nil, err
		}

		if entry.Kind == uapi.KindMR && keeper != nil {
			keeper.Tag(entry.MR.Addr, entry.MR.Length)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func decodePayload(kind uapi.ObjectKind, handle uint32, payload []byte) (Entry, error) {
	switch kind {
	case uapi.KindPD:
		var r uapi.PDRecord
		if err := uapi.UnmarshalPD(payload, &r); err != nil {
			return Entry{}, err
		}
		r.Handle = handle
		return Entry{Kind: kind, PD: &r}, nil

	case uapi.KindMR:
		var r uapi.MRRecord
		if err := uapi.UnmarshalMR(payload, &r); err != nil {
			return Entry{}, err
		}
		r.Handle = handle
		return Entry{Kind: kind, MR: &r}, nil

	case uapi.KindCQ:
		var r uapi.CQRecord
		if err := uapi.UnmarshalCQ(payload, &r); err != nil {
			return Entry{}, err
		}
		r.Handle = handle
		return Entry{Kind: kind, CQ: &r}, nil

	case uapi.KindQP:
		var r uapi.QPRecord
		if err := uapi.UnmarshalQP(payload, &r); err != nil {
			return Entry{}, err
		}
		r.Handle = handle
		applyMinRnrTimerQuirk(&r)
		return Entry{Kind: kind, QP: &r}, nil

	default:
		return Entry{}, &ErrUnknownType{Type: uint32(kind)}
	}
}

// applyMinRnrTimerQuirk reproduces a field-assignment bug present in the
// reference dump/restore core, which populated min_rnr_timer from
// path_mtu instead of the dumped min_rnr_timer value. Downstream QP
// restores inherit whatever RNR timer this produces; see
// internal/decoder's tests for the pinned behavior.
func applyMinRnrTimerQuirk(r *uapi.QPRecord) {
	r.Attr.MinRnrTimer = uint8(r.Attr.PathMTU)
}

// EncodeEntry writes one entry back out in the same header+payload wire
// format DecodeAll consumes. Used by the dump path.
func EncodeEntry(w io.Writer, e Entry) error {
	var payload []byte
	switch e.Kind {
	case uapi.KindPD:
		payload = uapi.MarshalPD(e.PD)
	case uapi.KindMR:
		payload = uapi.MarshalMR(e.MR)
	case uapi.KindCQ:
		payload = uapi.MarshalCQ(e.CQ)
	case uapi.KindQP:
		payload = uapi.MarshalQP(e.QP)
	default:
		return &ErrUnknownType{Type: uint32(e.Kind)}
	}

	hdr := uapi.RecordHeader{Type: uint32(e.Kind), Size: uint32(len(payload)), Handle: e.Handle()}
	if _, err := w.Write(uapi.MarshalHeader(&hdr)); err != nil {
		return fmt.Errorf("decoder: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("decoder: write payload: %w", err)
	}
	return nil
}
