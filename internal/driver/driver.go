// Package driver identifies the kernel driver backing an ib_uverbs
// context and cross-checks it against the host's RDMA device inventory.
// Dump and restore both refuse to proceed against a non-rxe device: the
// queue-snapshot format this core speaks is soft-RoCE specific.
package driver

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Mellanox/rdmamap"
	"golang.org/x/sys/unix"

	"github.com/coreos-rdma/ibverbscr/internal/constants"
)

// ErrNotRxe indicates the character device behind a context is not the
// rxe (soft-RoCE) driver this core supports.
type ErrNotRxe struct {
	Major, Minor uint32
}

func (e *ErrNotRxe) Error() string {
	return fmt.Sprintf("driver: device major=%d minor=%d is not rxe (want major=%d minor=%d)",
		e.Major, e.Minor, constants.RxeCdevMajor, constants.RxeCdevMinor)
}

// Info describes the driver backing one context.
type Info struct {
	Path  string
	Major uint32
	Minor uint32
}

// Resolve stats the context's character device node and verifies it is
// the rxe driver, mirroring the original core's major/minor check
// against /proc/devices before trusting a dumped context.
func Resolve(path string) (*Info, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, fmt.Errorf("driver: stat %s: %w", path, err)
	}

	major := unix.Major(uint64(st.Rdev))
	minor := unix.Minor(uint64(st.Rdev))

	if major != constants.RxeCdevMajor || minor != constants.RxeCdevMinor {
		return nil, &ErrNotRxe{Major: major, Minor: minor}
	}

	return &Info{Path: path, Major: major, Minor: minor}, nil
}

// ListRxeDevices returns the sysfs names of RDMA devices on the host
// whose driver is rxe. Device enumeration comes from rdmamap's sysfs
// inventory; the driver symlink is still resolved directly, since rdmamap
// exposes device and port statistics but not driver identity.
func ListRxeDevices() ([]string, error) {
	var rxe []string
	for _, name := range rdmamap.GetRdmaDeviceList() {
		target, err := filepath.EvalSymlinks(fmt.Sprintf("/sys/class/infiniband/%s/device/driver", name))
		if err != nil {
			continue
		}
		if strings.HasSuffix(target, "rdma_rxe") {
			rxe = append(rxe, name)
		}
	}
	return rxe, nil
}
