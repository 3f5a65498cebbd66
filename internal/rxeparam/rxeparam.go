// Package rxeparam drives the rxe driver's procfs knobs that control the
// next queue-pair number and memory-region number it will allocate. The
// restore pipeline writes one of these knobs immediately before the
// paired create ioctl so the kernel reissues the checkpointed handle
// instead of the next sequential one.
package rxeparam

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/coreos-rdma/ibverbscr/internal/constants"
	"github.com/coreos-rdma/ibverbscr/internal/interfaces"
	"github.com/coreos-rdma/ibverbscr/internal/logging"
)

// qpnPreOffset and mrnPreOffset mirror the original core's knob-setting
// arithmetic: the rxe driver's next QP allocation lands 16 above
// last_qpn and its next MR allocation 1 above last_mrn, so PrepareQPN
// and PrepareMRN write the target minus these offsets.
const (
	qpnPreOffset = 16
	mrnPreOffset = 1
)

// ProcfsStore is the real knob store, reading and writing the rxe
// driver's procfs files directly.
type ProcfsStore struct{}

// ReadKnob implements interfaces.KnobStore.
func (ProcfsStore) ReadKnob(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("rxeparam: read %s: %w", path, err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rxeparam: parse %s: %w", path, err)
	}
	return v, nil
}

// WriteKnob implements interfaces.KnobStore.
func (ProcfsStore) WriteKnob(path string, value int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("rxeparam: open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.WriteString(strconv.FormatInt(value, 10)); err != nil {
		return fmt.Errorf("rxeparam: write %s: %w", path, err)
	}
	return nil
}

// Controller sequences knob writes ahead of the paired create ioctl.
type Controller struct {
	store  interfaces.KnobStore
	logger *logging.Logger
}

// New returns a Controller backed by the given knob store. Pass
// ProcfsStore{} for a real rxe driver, or a fake in tests.
func New(store interfaces.KnobStore) *Controller {
	return &Controller{store: store, logger: logging.Default()}
}

// PrepareQPN arranges for the rxe driver's next QP allocation to produce
// targetQPN.
func (c *Controller) PrepareQPN(targetQPN uint32) error {
	want := int64(targetQPN) - qpnPreOffset
	c.logger.Debug("priming last_qpn", "target", targetQPN, "write", want)
	if err := c.store.WriteKnob(constants.ProcLastQPN, want); err != nil {
		return err
	}
	time.Sleep(constants.ParamSettleDelay)
	return nil
}

// PrepareMRN arranges for the rxe driver's next MR allocation to produce
// targetMRN.
func (c *Controller) PrepareMRN(targetMRN uint32) error {
	want := int64(targetMRN) - mrnPreOffset
	c.logger.Debug("priming last_mrn", "target", targetMRN, "write", want)
	if err := c.store.WriteKnob(constants.ProcLastMRN, want); err != nil {
		return err
	}
	time.Sleep(constants.ParamSettleDelay)
	return nil
}

// RestoreQPN writes value directly to last_qpn with no offset applied,
// used to put the knob back once the paired create ioctl has run.
func (c *Controller) RestoreQPN(value int64) error {
	return c.store.WriteKnob(constants.ProcLastQPN, value)
}

// RestoreMRN writes value directly to last_mrn with no offset applied,
// used to put the knob back once the paired create ioctl has run.
func (c *Controller) RestoreMRN(value int64) error {
	return c.store.WriteKnob(constants.ProcLastMRN, value)
}

// CurrentQPN returns the rxe driver's present last_qpn value, useful for
// diagnostics and for restoring the knob to a quiescent value once a
// restore session completes.
func (c *Controller) CurrentQPN() (int64, error) {
	return c.store.ReadKnob(constants.ProcLastQPN)
}

// CurrentMRN returns the rxe driver's present last_mrn value.
func (c *Controller) CurrentMRN() (int64, error) {
	return c.store.ReadKnob(constants.ProcLastMRN)
}
