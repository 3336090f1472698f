package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	scripto "github.com/ban1717/scripto"
	"github.com/ban1717/scripto/errors"
	"github.com/ban1717/scripto/prepare"
)

// WazeroMemory wraps wazero memory to implement scripto.Memory.
// Out-of-bounds accesses fail with KindMemoryAccess.
type WazeroMemory struct {
	mem api.Memory
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.Execution(errors.KindMemoryAccess, "read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.Execution(errors.KindMemoryAccess, "write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.Execution(errors.KindMemoryAccess, "read u32 out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.Execution(errors.KindMemoryAccess, "write u32 out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

// guestAllocator calls the contract's scrypto_alloc and scrypto_free.
type guestAllocator struct {
	allocFn  api.Function
	freeFn   api.Function
	stackBuf []uint64
}

func newGuestAllocator(mod api.Module) *guestAllocator {
	return &guestAllocator{
		allocFn:  mod.ExportedFunction(prepare.ExportAlloc),
		freeFn:   mod.ExportedFunction(prepare.ExportFree),
		stackBuf: make([]uint64, 1),
	}
}

// Alloc reserves a buffer of length payload bytes and returns its address.
func (a *guestAllocator) Alloc(ctx context.Context, length uint32) (uint32, error) {
	if a.allocFn == nil {
		return 0, errors.Execution(errors.KindAllocationFailed, "no %s export", prepare.ExportAlloc)
	}
	a.stackBuf[0] = api.EncodeU32(length)
	if err := a.allocFn.CallWithStack(ctx, a.stackBuf); err != nil {
		return 0, err
	}
	return api.DecodeU32(a.stackBuf[0]), nil
}

// Free releases a buffer returned by Alloc or by an export.
func (a *guestAllocator) Free(ctx context.Context, ptr uint32) error {
	if a.freeFn == nil {
		return errors.Execution(errors.KindAllocationFailed, "no %s export", prepare.ExportFree)
	}
	a.stackBuf[0] = api.EncodeU32(ptr)
	return a.freeFn.CallWithStack(ctx, a.stackBuf)
}

// readBuffer copies the length-prefixed buffer at ptr out of guest memory.
// An unreadable prefix fails with KindMemoryAccess; a payload running past
// the end of memory fails with outOfRange.
func readBuffer(mem *WazeroMemory, ptr uint32, outOfRange errors.Kind) ([]byte, error) {
	length, err := mem.ReadU32(ptr)
	if err != nil {
		return nil, err
	}
	end := uint64(ptr) + prepare.BufferHeaderSize + uint64(length)
	if end > uint64(mem.Size()) {
		return nil, errors.Execution(outOfRange, "buffer at %d with length %d ends past memory size %d", ptr, length, mem.Size())
	}
	data, err := mem.Read(ptr+prepare.BufferHeaderSize, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// writeBuffer allocates a guest buffer for data and copies it in.
func writeBuffer(ctx context.Context, mem *WazeroMemory, alloc scripto.Allocator, data []byte) (uint32, error) {
	if uint64(len(data)) > uint64(^uint32(0))-prepare.BufferHeaderSize {
		return 0, errors.Execution(errors.KindAllocationFailed, "buffer of %d bytes does not fit in guest memory", len(data))
	}
	length := uint32(len(data))

	ptr, err := alloc.Alloc(ctx, length)
	if err != nil {
		return 0, classify(ctx, err, errors.KindAllocationFailed)
	}
	if uint64(ptr)+prepare.BufferHeaderSize+uint64(length) > uint64(mem.Size()) {
		return 0, errors.Execution(errors.KindAllocationFailed, "allocation at %d with length %d ends past memory size %d", ptr, length, mem.Size())
	}
	prefix, err := mem.ReadU32(ptr)
	if err != nil {
		return 0, err
	}
	if prefix != length {
		return 0, errors.Execution(errors.KindAllocationFailed, "allocation at %d has length prefix %d, want %d", ptr, prefix, length)
	}
	if err := mem.Write(ptr+prepare.BufferHeaderSize, data); err != nil {
		return 0, err
	}
	return ptr, nil
}

var (
	_ scripto.Memory      = (*WazeroMemory)(nil)
	_ scripto.MemorySizer = (*WazeroMemory)(nil)
	_ scripto.Allocator   = (*guestAllocator)(nil)
)
