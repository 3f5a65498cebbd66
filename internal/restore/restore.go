// Package restore drives the restore pipeline: it walks a decoded object
// list in dependency order and recreates protection domains, memory
// regions, completion queues, and queue pairs against a live verbs
// context, coercing the kernel into reissuing the dumped handles, keys,
// and qp_num, and driving each queue pair through its recorded state.
package restore

import (
	"fmt"
	"sort"
	"time"

	"github.com/coreos-rdma/ibverbscr/internal/catalog"
	"github.com/coreos-rdma/ibverbscr/internal/constants"
	"github.com/coreos-rdma/ibverbscr/internal/decoder"
	"github.com/coreos-rdma/ibverbscr/internal/interfaces"
	"github.com/coreos-rdma/ibverbscr/internal/logging"
	"github.com/coreos-rdma/ibverbscr/internal/rxeparam"
	"github.com/coreos-rdma/ibverbscr/internal/uapi"
	"github.com/coreos-rdma/ibverbscr/internal/vma"
)

// ErrIdentityMismatch is returned when the kernel assigns a rebuilt
// object a different identity (handle or qp_num) than the one recorded
// at dump time.
type ErrIdentityMismatch struct {
	Kind  uapi.ObjectKind
	Field string
	Got   uint32
	Want  uint32
}

func (e *ErrIdentityMismatch) Error() string {
	return fmt.Sprintf("restore: %s %s mismatch: kernel assigned %d, recorded %d", e.Kind, e.Field, e.Got, e.Want)
}

// ErrMissingDependency is returned when an entry references a handle the
// catalog has no record of, meaning restore order was violated or the
// dump is incomplete.
type ErrMissingDependency struct {
	Kind      uapi.ObjectKind
	Handle    uint32
	DepKind   uapi.ObjectKind
	DepHandle uint32
}

func (e *ErrMissingDependency) Error() string {
	return fmt.Sprintf("restore: %s %d references unrestored %s %d", e.Kind, e.Handle, e.DepKind, e.DepHandle)
}

// ErrUnsupportedFeature is returned when an entry requires a feature this
// pipeline deliberately does not implement (SRQs, completion channels,
// non-RC queue pairs, or an unrecognized target QP state).
type ErrUnsupportedFeature struct {
	Kind   uapi.ObjectKind
	Reason string
}

func (e *ErrUnsupportedFeature) Error() string {
	return fmt.Sprintf("restore: %s: unsupported: %s", e.Kind, e.Reason)
}

// Pipeline restores a decoded object list against a live verbs context.
type Pipeline struct {
	dev    interfaces.VerbsDevice
	knobs  *rxeparam.Controller
	cat    *catalog.Catalog
	keeper *vma.Keeper
	obs    interfaces.Observer
	logger *logging.Logger
}

// New returns a Pipeline. obs may be nil, in which case restore
// proceeds without emitting observations.
func New(dev interfaces.VerbsDevice, knobs *rxeparam.Controller, cat *catalog.Catalog, keeper *vma.Keeper, obs interfaces.Observer) *Pipeline {
	return &Pipeline{dev: dev, knobs: knobs, cat: cat, keeper: keeper, obs: obs, logger: logging.Default()}
}

// Lookup exposes the restore catalog's Lookup for callers that need to
// assert post-restore state (e.g. that a rejected object never got
// cataloged) without reaching into the pipeline's internals.
func (p *Pipeline) Lookup(kind uapi.ObjectKind, handle uint32) (any, bool) {
	return p.cat.Lookup(kind, handle)
}

// Run restores every entry, in dependency order. The uapi.ObjectKind
// enumeration already encodes the dependency tiers (PD < MR,CQ < QP), so
// a stable sort by kind is sufficient to satisfy the "every PD precedes
// any MR/QP referencing it" ordering requirement regardless of the order
// entries arrived in from the decoder.
func (p *Pipeline) Run(entries []decoder.Entry) error {
	ordered := make([]decoder.Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Kind < ordered[j].Kind })

	for _, e := range ordered {
		start := time.Now()
		err := p.restoreOne(e)
		p.observe(e.Kind, time.Since(start), err == nil)
		if err != nil {
			return err
		}
	}

	if p.obs != nil {
		for _, k := range []uapi.ObjectKind{uapi.KindPD, uapi.KindMR, uapi.KindCQ, uapi.KindQP} {
			p.obs.ObserveCatalogSize(p.cat.Count(k))
		}
	}

	return nil
}

func (p *Pipeline) observe(kind uapi.ObjectKind, d time.Duration, ok bool) {
	if p.obs != nil {
		p.obs.ObserveRestore(kind.String(), d, ok)
	}
}

func (p *Pipeline) restoreOne(e decoder.Entry) error {
	switch e.Kind {
	case uapi.KindPD:
		return p.restorePD(e.PD)
	case uapi.KindMR:
		return p.restoreMR(e.MR)
	case uapi.KindCQ:
		return p.restoreCQ(e.CQ)
	case uapi.KindQP:
		return p.restoreQP(e.QP)
	default:
		return &decoder.ErrUnknownType{Type: uint32(e.Kind)}
	}
}

func (p *Pipeline) restorePD(r *uapi.PDRecord) error {
	args := uapi.PDCreateArgs{}
	resp, err := p.dev.RestoreObject(uapi.OpPDCreate.Cmd(), uapi.MarshalPDCreateArgs(&args))
	if err != nil {
		return fmt.Errorf("restore: alloc_pd: %w", err)
	}
	if err := uapi.UnmarshalPDCreateArgs(resp, &args); err != nil {
		return err
	}
	if args.Handle != r.Handle {
		return &ErrIdentityMismatch{Kind: uapi.KindPD, Field: "handle", Got: args.Handle, Want: r.Handle}
	}
	return p.cat.Remember(uapi.KindPD, r.Handle, args.Handle)
}

func (p *Pipeline) restoreMR(r *uapi.MRRecord) error {
	if _, ok := p.cat.Lookup(uapi.KindPD, r.PDHandle); !ok {
		return &ErrMissingDependency{Kind: uapi.KindMR, Handle: r.Handle, DepKind: uapi.KindPD, DepHandle: r.PDHandle}
	}

	prevMRN, err := p.knobs.CurrentMRN()
	if err != nil {
		return err
	}
	if err := p.knobs.PrepareMRN(r.Mrn); err != nil {
		return err
	}

	args := uapi.MRRegArgs{PDHandle: r.PDHandle, Addr: r.Addr, Length: r.Length, AccessFlags: r.AccessFlags}
	resp, err := p.dev.RestoreObject(uapi.OpMRReg.Cmd(), uapi.MarshalMRRegArgs(&args))
	if err != nil {
		p.restoreMRNBestEffort(prevMRN, r.Handle)
		return fmt.Errorf("restore: reg_mr: %w", err)
	}
	if err := p.knobs.RestoreMRN(prevMRN); err != nil {
		return err
	}
	if err := uapi.UnmarshalMRRegArgs(resp, &args); err != nil {
		return err
	}
	if args.Handle != r.Handle {
		return &ErrIdentityMismatch{Kind: uapi.KindMR, Field: "handle", Got: args.Handle, Want: r.Handle}
	}

	keys := uapi.MRKeysArgs{MRHandle: args.Handle, LKey: r.LKey, RKey: r.RKey}
	if _, err := p.dev.RestoreObject(uapi.OpMRKeys.Cmd(), uapi.MarshalMRKeysArgs(&keys)); err != nil {
		return fmt.Errorf("restore: mr_keys: %w", err)
	}

	return p.cat.Remember(uapi.KindMR, r.Handle, args.Handle)
}

func (p *Pipeline) restoreMRNBestEffort(prev int64, handle uint32) {
	if err := p.knobs.RestoreMRN(prev); err != nil {
		args := append(logging.ObjectFields("MR", handle), "err", err)
		p.logger.Warn("failed to restore last_mrn after failed reg_mr", args...)
	}
}

func (p *Pipeline) restoreCQ(r *uapi.CQRecord) error {
	if r.CompChannel != uapi.NoCompChannel {
		return &ErrUnsupportedFeature{Kind: uapi.KindCQ, Reason: "completion channels are not supported"}
	}

	args := uapi.CQCreateArgs{CQE: r.CQE, VMStart: r.VMStart, VMSize: r.VMSize}
	resp, err := p.dev.RestoreObject(uapi.OpCQCreate.Cmd(), uapi.MarshalCQCreateArgs(&args))
	if err != nil {
		return fmt.Errorf("restore: cq_create: %w", err)
	}
	if err := uapi.UnmarshalCQCreateArgs(resp, &args); err != nil {
		return err
	}
	if args.Handle != r.Handle {
		return &ErrIdentityMismatch{Kind: uapi.KindCQ, Field: "handle", Got: args.Handle, Want: r.Handle}
	}

	if r.VMSize > 0 {
		p.keeper.Tag(r.VMStart, r.VMSize)
	}

	if err := p.cat.Remember(uapi.KindCQ, r.Handle, args.Handle); err != nil {
		return err
	}

	refill := uapi.CQRefillArgs{CQHandle: args.Handle, Queue: r.Queue}
	if _, err := p.dev.RestoreObject(uapi.OpCQRefill.Cmd(), uapi.MarshalCQRefillArgs(&refill)); err != nil {
		return fmt.Errorf("restore: cq_refill: %w", err)
	}

	return nil
}

func (p *Pipeline) restoreQP(r *uapi.QPRecord) error {
	if r.SRQHandle != uapi.NoSRQ {
		return &ErrUnsupportedFeature{Kind: uapi.KindQP, Reason: "SRQ-backed queue pairs are not supported"}
	}
	if r.QPType != uapi.QPTypeRC {
		return &ErrUnsupportedFeature{Kind: uapi.KindQP, Reason: "only RC queue pairs are supported"}
	}

	if _, ok := p.cat.Lookup(uapi.KindPD, r.PDHandle); !ok {
		return &ErrMissingDependency{Kind: uapi.KindQP, Handle: r.Handle, DepKind: uapi.KindPD, DepHandle: r.PDHandle}
	}
	if _, ok := p.cat.Lookup(uapi.KindCQ, r.SendCQHandle); !ok {
		return &ErrMissingDependency{Kind: uapi.KindQP, Handle: r.Handle, DepKind: uapi.KindCQ, DepHandle: r.SendCQHandle}
	}
	if _, ok := p.cat.Lookup(uapi.KindCQ, r.RecvCQHandle); !ok {
		return &ErrMissingDependency{Kind: uapi.KindQP, Handle: r.Handle, DepKind: uapi.KindCQ, DepHandle: r.RecvCQHandle}
	}

	prevQPN, err := p.knobs.CurrentQPN()
	if err != nil {
		return err
	}
	if err := p.knobs.PrepareQPN(r.QPNum); err != nil {
		return err
	}

	args := uapi.QPCreateArgs{
		PDHandle: r.PDHandle, SendCQHandle: r.SendCQHandle, RecvCQHandle: r.RecvCQHandle,
		QPType: r.QPType, MaxSendWR: r.MaxSendWR, MaxRecvWR: r.MaxRecvWR,
		MaxSendSGE: r.MaxSendSGE, MaxRecvSGE: r.MaxRecvSGE, MaxInlineData: r.MaxInlineData,
		SendVMStart: r.SendVMStart, SendVMSize: r.SendVMSize,
		RecvVMStart: r.RecvVMStart, RecvVMSize: r.RecvVMSize,
	}
	resp, err := p.dev.RestoreObject(uapi.OpQPCreate.Cmd(), uapi.MarshalQPCreateArgs(&args))
	if err != nil {
		p.restoreQPNBestEffort(prevQPN, r.Handle)
		return fmt.Errorf("restore: qp_create: %w", err)
	}
	if err := p.knobs.RestoreQPN(prevQPN); err != nil {
		return err
	}
	if err := uapi.UnmarshalQPCreateArgs(resp, &args); err != nil {
		return err
	}
	if args.Handle != r.Handle {
		return &ErrIdentityMismatch{Kind: uapi.KindQP, Field: "handle", Got: args.Handle, Want: r.Handle}
	}
	if args.QPNum != r.QPNum {
		return &ErrIdentityMismatch{Kind: uapi.KindQP, Field: "qp_num", Got: args.QPNum, Want: r.QPNum}
	}

	if r.SendVMSize > 0 {
		p.keeper.Tag(r.SendVMStart, r.SendVMSize)
	}
	if r.RecvVMSize > 0 {
		p.keeper.Tag(r.RecvVMStart, r.RecvVMSize)
	}

	if err := p.cat.Remember(uapi.KindQP, r.Handle, args.Handle); err != nil {
		return err
	}

	if err := p.stepQP(args.Handle, r); err != nil {
		return err
	}

	refill := uapi.QPRefillArgs{QPHandle: args.Handle, SendQueue: r.SendQueue, RecvQueue: r.RecvQueue}
	if _, err := p.dev.RestoreObject(uapi.OpQPRefill.Cmd(), uapi.MarshalQPRefillArgs(&refill)); err != nil {
		return fmt.Errorf("restore: qp_refill: %w", err)
	}

	return nil
}

func (p *Pipeline) restoreQPNBestEffort(prev int64, handle uint32) {
	if err := p.knobs.RestoreQPN(prev); err != nil {
		args := append(logging.ObjectFields("QP", handle), "err", err)
		p.logger.Warn("failed to restore last_qpn after failed qp_create", args...)
	}
}

// stepQP walks a freshly created queue pair from RESET to the recorded
// target state, issuing one modify_qp ioctl per transition with the
// attribute subset the target state requires. Only RESET, INIT, RTR, and
// RTS are recognized targets; anything else is unsupported.
func (p *Pipeline) stepQP(handle uint32, r *uapi.QPRecord) error {
	target := r.Attr.State
	switch target {
	case uapi.QPStateReset:
		return nil
	case uapi.QPStateInit, uapi.QPStateRTR, uapi.QPStateRTS:
		// fall through to the walk below
	default:
		return &ErrUnsupportedFeature{Kind: uapi.KindQP, Reason: "unrecognized target qp state"}
	}

	initAttr := uapi.QPAttr{State: uapi.QPStateInit}
	if r.QPType == uapi.QPTypeRC {
		initAttr.QPAccessFlags = r.Attr.QPAccessFlags
	}
	if err := p.modifyQP(handle, initAttr); err != nil {
		return err
	}
	if target == uapi.QPStateInit {
		return nil
	}

	rtrAttr := uapi.QPAttr{
		State:           uapi.QPStateRTR,
		PathMTU:         r.Attr.PathMTU,
		DestQPN:         r.Attr.DestQPN,
		RQPSN:           r.Attr.RQPSN,
		MaxDestRdAtomic: r.Attr.MaxDestRdAtomic,
		MinRnrTimer:     r.Attr.MinRnrTimer,
		AH:              r.Attr.AH,
	}
	if err := p.modifyQP(handle, rtrAttr); err != nil {
		return err
	}
	if target == uapi.QPStateRTR {
		return nil
	}

	rtsAttr := uapi.QPAttr{
		State:       uapi.QPStateRTS,
		SQPSN:       r.Attr.SQPSN,
		MaxRdAtomic: r.Attr.MaxRdAtomic,
		RetryCnt:    r.Attr.RetryCnt,
		RnrRetry:    r.Attr.RnrRetry,
		Timeout:     r.Attr.Timeout,
	}
	return p.modifyQP(handle, rtsAttr)
}

func (p *Pipeline) modifyQP(handle uint32, attr uapi.QPAttr) error {
	args := uapi.QPModifyArgs{QPHandle: handle, Attr: attr}
	if _, err := p.dev.RestoreObject(uapi.OpQPModify.Cmd(), uapi.MarshalQPModifyArgs(&args)); err != nil {
		return fmt.Errorf("restore: modify_qp to state %d: %w", attr.State, err)
	}
	time.Sleep(constants.QPStateSettleDelay)
	return nil
}
