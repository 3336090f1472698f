package scripto

import "context"

// Memory represents guest linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
}

// MemorySizer provides the current size of guest linear memory in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates length-prefixed buffers through the guest's
// scrypto_alloc and scrypto_free exports. Calls run guest code and are
// metered like any other.
type Allocator interface {
	Alloc(ctx context.Context, length uint32) (uint32, error)
	Free(ctx context.Context, ptr uint32) error
}
