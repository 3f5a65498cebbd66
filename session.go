// Package ibverbscr dumps and restores the userspace-visible state of an
// open soft-RoCE (rxe) verbs context: its protection domains, memory
// regions, completion queues, and queue pairs. Dump translates the
// kernel's raw dump buffer into a typed, serializable object graph;
// Restore recreates that graph against a fresh context, coercing the
// kernel into reissuing identical handles, keys, and qp_num.
package ibverbscr

import (
	"bytes"
	"context"

	"github.com/coreos-rdma/ibverbscr/internal/catalog"
	"github.com/coreos-rdma/ibverbscr/internal/constants"
	"github.com/coreos-rdma/ibverbscr/internal/ctrl"
	"github.com/coreos-rdma/ibverbscr/internal/decoder"
	"github.com/coreos-rdma/ibverbscr/internal/device"
	"github.com/coreos-rdma/ibverbscr/internal/event"
	"github.com/coreos-rdma/ibverbscr/internal/interfaces"
	"github.com/coreos-rdma/ibverbscr/internal/logging"
	"github.com/coreos-rdma/ibverbscr/internal/restore"
	"github.com/coreos-rdma/ibverbscr/internal/rxeparam"
	"github.com/coreos-rdma/ibverbscr/internal/vma"
)

// Config holds the tunables for a Dump or Restore call, mirroring the
// teacher's DeviceParams/Options pair. Zero-valued fields fall back to
// DefaultConfig's values at call time.
type Config struct {
	// DeviceName selects the rxe device to operate against (e.g.
	// "rxe0"). Empty selects the first rxe device found.
	DeviceName string

	// DumpBufferSize is the scratch buffer size for reading one dump
	// record stream off the kernel.
	DumpBufferSize uint32

	// CatalogCeiling is the per-kind handle ceiling the restore
	// pipeline's object catalog enforces.
	CatalogCeiling int

	// Logger receives structured log lines; nil uses logging.Default().
	Logger *logging.Logger

	// Observer receives restore/dump latency and outcome signals; nil
	// means no observations are emitted.
	Observer interfaces.Observer
}

// DefaultConfig returns a Config with sensible defaults, mirroring the
// teacher's DefaultParams constructor.
func DefaultConfig() Config {
	return Config{
		DumpBufferSize: constants.DefaultDumpBufferSize,
		CatalogCeiling: constants.DefaultCatalogCeiling,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DumpBufferSize == 0 {
		c.DumpBufferSize = def.DumpBufferSize
	}
	if c.CatalogCeiling == 0 {
		c.CatalogCeiling = def.CatalogCeiling
	}
	return c
}

func (c Config) logger() *logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.Default()
}

// RegularFileRecorder lets a caller plug the process-migration
// framework's generic file-entry recording in for the character device
// backing a dumped verbs context, without this core depending on the
// image container directly. Dump invokes it once, if non-nil, with the
// resolved device node path.
type RegularFileRecorder interface {
	RecordRegularFile(path string, flags uint32) error
}

// IbeventEntry mirrors the sibling async-event file entry emitted
// alongside every dumped verbs context; restoring one requires the
// matching IbverbsEntry's context to have been restored first in the
// same process, enforced by the package-level event tracker.
type IbeventEntry struct {
	ID    uint32 `json:"id"`
	Flags uint32 `json:"flags"`
	Fown  uint32 `json:"fown"`
}

// IbverbsEntry is the serializable image-container record for one
// dumped verbs context: its own id/flags/fown plus the typed object
// graph the decoder produced.
type IbverbsEntry struct {
	ID    uint32          `json:"id"`
	Flags uint32          `json:"flags"`
	Fown  uint32          `json:"fown"`
	Objs  []decoder.Entry `json:"objs"`
}

// eventTracker is process-global, matching spec.md §5's description of
// last_event_fd as process-local state owned by this subsystem.
var eventTracker = event.NewTracker()

// contextFDs accumulates the command fd of every context Restore has
// successfully restored in this process, matching spec.md §3/§4.6's
// ContextFdList: the post-pivot restorer copies this list into its
// privately-allocated restore-args region so later stages can still
// reference surviving contexts. Process-local like eventTracker, and
// populated the same way: Restore appends, nothing ever removes.
var contextFDs []int

// ContextFdList returns the command fds of every context Restore has
// restored so far in this process, in restore order, for the caller to
// hand to the post-pivot restorer.
func ContextFdList() []int {
	out := make([]int, len(contextFDs))
	copy(out, contextFDs)
	return out
}

// Dump wraps an already-open verbs context fd as a context (closing it
// on return), reads its raw dump buffer off the kernel, decodes it into a typed
// object graph, and tags the VMAs backing every dumped memory region
// against keeper. id/flags/fown are the image container's identifiers
// for the owning file entry, supplied by the caller since this core
// does not allocate them itself.
func Dump(ctx context.Context, existingFD int, id, flags, fown uint32, keeper *vma.Keeper, cfg Config, rec RegularFileRecorder) (*IbverbsEntry, *IbeventEntry, error) {
	cfg = cfg.withDefaults()
	logger := cfg.logger()

	dev, err := device.FindIBDev(cfg.DeviceName)
	if err != nil {
		return nil, nil, WrapError("Dump", err)
	}

	vctx, err := device.ReopenDevice(dev, existingFD)
	if err != nil {
		return nil, nil, WrapError("Dump", err)
	}
	defer vctx.Close()

	eventTracker.Record(vctx.AsyncFD)

	if rec != nil {
		if err := rec.RecordRegularFile(dev.Path, 0); err != nil {
			return nil, nil, WrapError("Dump", err)
		}
	}

	controller := ctrl.New(vctx.CmdFD)
	raw, err := controller.DumpContext(cfg.DumpBufferSize)
	if err != nil {
		return nil, nil, &Error{Op: "Dump", Kind: KindIOFail, Msg: "dump_context ioctl failed", Inner: err}
	}

	entries, err := decoder.DecodeAll(bytes.NewReader(raw), keeper)
	if err != nil {
		return nil, nil, WrapError("Dump", err)
	}

	logger.Info("dumped verbs context", "id", id, "objects", len(entries))

	return &IbverbsEntry{ID: id, Flags: flags, Fown: fown, Objs: entries},
		&IbeventEntry{ID: id, Flags: flags, Fown: fown},
		nil
}

// Restore recreates a verbs context from a previously dumped
// IbverbsEntry against a live rxe device, returning the new context's
// command fd (the value the file-descriptor restorer installs at the
// original slot) and the async-event fd the event-file shim hands out
// for the sibling IbeventEntry.
func Restore(ctx context.Context, entry *IbverbsEntry, knobStore interfaces.KnobStore, cfg Config) (cmdFD, asyncFD int, err error) {
	cfg = cfg.withDefaults()
	logger := cfg.logger()

	dev, err := device.FindIBDev(cfg.DeviceName)
	if err != nil {
		return 0, 0, WrapError("Restore", err)
	}

	vctx, err := device.OpenDevice(dev)
	if err != nil {
		return 0, 0, WrapError("Restore", err)
	}

	eventTracker.Record(vctx.AsyncFD)

	controller := ctrl.New(vctx.CmdFD)
	knobs := rxeparam.New(knobStore)
	cat := catalog.New(cfg.CatalogCeiling)
	keeper := vma.NewKeeper()

	pipeline := restore.New(controller, knobs, cat, keeper, cfg.Observer)
	if err := pipeline.Run(entry.Objs); err != nil {
		vctx.Close()
		return 0, 0, WrapError("Restore", err)
	}

	contextFDs = append(contextFDs, vctx.CmdFD)

	logger.Info("restored verbs context", "id", entry.ID, "objects", len(entry.Objs))

	return vctx.CmdFD, vctx.AsyncFD, nil
}

// LastEventFD returns the async fd of the most recently dumped or
// restored verbs context, for restoring the sibling IbeventEntry. It
// fails if no context has been dumped or restored yet in this process.
func LastEventFD() (int, error) {
	fd, err := eventTracker.FD()
	if err != nil {
		return 0, WrapError("LastEventFD", err)
	}
	return fd, nil
}
