package uapi

// Field widths and shifts of the Linux ioctl command-number encoding.
const (
	_IOC_WRITE     = 1
	_IOC_READ      = 2
	_IOC_SIZEBITS  = 14
	_IOC_DIRBITS   = 2
	_IOC_TYPEBITS  = 8
	_IOC_NRBITS    = 8
	_IOC_NRSHIFT   = 0
	_IOC_TYPESHIFT = _IOC_NRSHIFT + _IOC_NRBITS
	_IOC_SIZESHIFT = _IOC_TYPESHIFT + _IOC_TYPEBITS
	_IOC_DIRSHIFT  = _IOC_SIZESHIFT + _IOC_SIZEBITS
)

// restoreMagic is the ioctl "type" byte for every restore_object command,
// matching the kernel's RDMA_VERBS_IOCTL magic for wrapped-ioctl verbs
// commands.
const restoreMagic = 'K'

// IoctlEncode builds a Linux-style ioctl command number.
func IoctlEncode(dir, typ, nr, size uint32) uint32 {
	return (dir << _IOC_DIRSHIFT) |
		(size << _IOC_SIZESHIFT) |
		(typ << _IOC_TYPESHIFT) |
		(nr << _IOC_NRSHIFT)
}

// RestoreOp identifies which restore_object sub-operation a command
// performs. The kernel-facing ioctl multiplexes on a single "restore
// object" entry point the same way the original core's restore_object()
// dispatched on (kind, op) pairs.
type RestoreOp uint32

const (
	OpPDCreate RestoreOp = iota
	OpMRReg
	OpMRKeys
	OpCQCreate
	OpCQRefill
	OpQPCreate
	OpQPModify
	OpQPRefill
)

// argSize is the marshaled size, in bytes, of the args struct carried by
// each RestoreOp. Used to pick the ioctl size field.
var argSize = map[RestoreOp]uint32{
	OpPDCreate: 4,
	OpMRReg:    28,
	OpMRKeys:   12,
	OpCQCreate: 28,
	OpCQRefill: 20,
	OpQPCreate: 76,
	OpQPModify: 68,
	OpQPRefill: 36,
}

// Cmd returns the ioctl command number for a restore_object sub-operation.
func (op RestoreOp) Cmd() uint32 {
	return IoctlEncode(_IOC_READ|_IOC_WRITE, restoreMagic, uint32(op), argSize[op])
}

// dumpContextNr is the ioctl "nr" field for the context-dump primitive,
// chosen outside the 0-7 range RestoreOp's sub-operations occupy so the
// two command families never collide.
const dumpContextNr = 0xFF

// DumpContextCmd returns the ioctl command number for reading a raw dump
// buffer of bufSize bytes out of an open verbs context.
func DumpContextCmd(bufSize uint32) uint32 {
	return IoctlEncode(_IOC_READ, restoreMagic, dumpContextNr, bufSize)
}
