// Package ctrl issues restore_object ioctl commands against an open
// ib_uverbs context. Every PD/MR/CQ/QP create, refill, and modify
// operation in the restore pipeline funnels through here.
package ctrl

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/coreos-rdma/ibverbscr/internal/interfaces"
	"github.com/coreos-rdma/ibverbscr/internal/logging"
	"github.com/coreos-rdma/ibverbscr/internal/uapi"
)

var (
	_ interfaces.VerbsDevice = (*Controller)(nil)
	_ interfaces.DumpSource  = (*Controller)(nil)
)

// Controller drives the restore_object ioctl multiplex against one open
// verbs context file descriptor.
type Controller struct {
	fd     int
	logger *logging.Logger
}

// New returns a Controller issuing ioctls against fd, the cmd fd of an
// already-open verbs context.
func New(fd int) *Controller {
	return &Controller{fd: fd, logger: logging.Default()}
}

// RestoreObject issues one restore_object sub-operation. payload is
// marshaled request data on entry; the kernel ioctl is read/write, so on
// success payload is overwritten in place with the kernel's response
// (e.g. an assigned qp_num) and returned.
func (c *Controller) RestoreObject(cmd uint32, payload []byte) ([]byte, error) {
	c.logger.Debugf("restore_object cmd=%#x size=%d", cmd, len(payload))

	var ptr uintptr
	if len(payload) > 0 {
		ptr = uintptr(unsafe.Pointer(&payload[0]))
	}

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(c.fd), uintptr(cmd), ptr)
	if errno != 0 {
		return nil, fmt.Errorf("ctrl: restore_object cmd=%#x: %w", cmd, errno)
	}

	return payload, nil
}

// DumpContext issues the context-dump ioctl against a scratch buffer of
// bufSize bytes and returns the prefix the kernel actually filled in,
// ready for internal/decoder to parse into a typed object list. The
// ioctl's return value is taken as the number of bytes written; unlike
// RestoreObject, which ignores the return value and hands back the
// whole payload buffer.
func (c *Controller) DumpContext(bufSize uint32) ([]byte, error) {
	c.logger.Debugf("dump_context bufsize=%d", bufSize)

	buf := make([]byte, bufSize)
	var ptr uintptr
	if len(buf) > 0 {
		ptr = uintptr(unsafe.Pointer(&buf[0]))
	}

	cmd := uapi.DumpContextCmd(bufSize)
	ret, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(c.fd), uintptr(cmd), ptr)
	if errno != 0 {
		return nil, fmt.Errorf("ctrl: dump_context: %w", errno)
	}

	used := int(ret)
	if used < 0 || used > len(buf) {
		return nil, fmt.Errorf("ctrl: dump_context: kernel reported implausible length %d for a %d-byte buffer", used, len(buf))
	}
	return buf[:used], nil
}

// Close closes the underlying context fd.
func (c *Controller) Close() error {
	return syscall.Close(c.fd)
}
