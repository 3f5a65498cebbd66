// Package device resolves an ib_uverbs character device by name and
// opens a verbs context against it, covering both the dump path (which
// reopens the device aliased onto an already-open fd) and the restore
// path (which opens a fresh context).
package device

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/coreos-rdma/ibverbscr/internal/constants"
	"github.com/coreos-rdma/ibverbscr/internal/driver"
)

// Binding names one ib_uverbs character device on the host.
type Binding struct {
	Name string
	Path string
}

// Context is an open verbs context: a file descriptor the caller issues
// restore_object/dump ioctls against, plus the async event fd a process
// normally polls for CQ/QP events.
type Context struct {
	CmdFD   int
	AsyncFD int
}

// Close releases the context's file descriptors. When AsyncFD was
// aliased onto CmdFD (the dump-path workaround), only one fd is closed.
func (c *Context) Close() error {
	if c.AsyncFD != c.CmdFD {
		unix.Close(c.AsyncFD)
	}
	return unix.Close(c.CmdFD)
}

// FindIBDev resolves name to a live rxe uverbs device. An empty name
// selects the first rxe device found, matching the reference core's
// fallback to dev_list[0] when no explicit device name was recorded.
func FindIBDev(name string) (*Binding, error) {
	if name == "" {
		devices, err := driver.ListRxeDevices()
		if err != nil {
			return nil, fmt.Errorf("device: list rxe devices: %w", err)
		}
		if len(devices) == 0 {
			return nil, fmt.Errorf("device: no rxe devices found")
		}
		name = devices[0]
	}

	path := filepath.Join(constants.IBDevicesDir, uverbsNodeFor(name))
	if _, err := driver.Resolve(path); err != nil {
		return nil, err
	}

	return &Binding{Name: name, Path: path}, nil
}

// uverbsNodeFor maps an rdma sysfs device name (e.g. "rxe0") to its
// uverbs character device node name. The rxe driver numbers uverbs
// nodes independently of the ib device index, but in practice assigns
// them in registration order, so the Nth rxe device gets uverbsN.
func uverbsNodeFor(name string) string {
	for i, r := range name {
		if r >= '0' && r <= '9' {
			return "uverbs" + name[i:]
		}
	}
	return "uverbs0"
}

// ReopenDevice wraps existingFD, an already-open verbs context fd on
// dev, as a Context without opening the device again, so dump ioctls
// run against the context being dumped. AsyncFD is aliased onto CmdFD,
// a workaround carried over from the reference core; Close therefore
// closes existingFD exactly once.
func ReopenDevice(dev *Binding, existingFD int) (*Context, error) {
	return &Context{CmdFD: existingFD, AsyncFD: existingFD}, nil
}

// OpenDevice opens a fresh context against dev with its own async fd,
// used on the restore path where no prior fd identity needs preserving.
func OpenDevice(dev *Binding) (*Context, error) {
	cmdFD, err := unix.Open(dev.Path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", dev.Path, err)
	}

	asyncFD, err := unix.Open(dev.Path, unix.O_RDWR, 0)
	if err != nil {
		unix.Close(cmdFD)
		return nil, fmt.Errorf("device: open async fd for %s: %w", dev.Path, err)
	}

	return &Context{CmdFD: cmdFD, AsyncFD: asyncFD}, nil
}
