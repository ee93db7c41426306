package device

import (
	"fmt"
	"unsafe"

	"github.com/23skdu/longbow-bodkin/internal/dtype"
)

// ControlSize is the byte size of the control block every matmul kernel
// binds. Fixed layout, zero-initialized, opaque to the host numerics.
const ControlSize = 16

// Buffer is a host-visible device allocation. The host may read or write
// it only while no command buffer is in flight against it; the harness
// guarantees that by draining every batch before touching memory.
type Buffer struct {
	ctx  *Context
	data []byte
}

// NewBuffer allocates size bytes of host-visible memory through the
// context's Arrow allocator. The allocation is 64-byte aligned, which
// keeps the typed views below safe.
func (c *Context) NewBuffer(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	data := c.mem.Allocate(size)
	if data == nil {
		return nil, fmt.Errorf("device allocation of %d bytes failed", size)
	}
	clear(data)
	c.recordAlloc(int64(size))
	return &Buffer{ctx: c, data: data}, nil
}

func (b *Buffer) Len() int { return len(b.data) }

// Bytes exposes the raw allocation for direct host access.
func (b *Buffer) Bytes() []byte { return b.data }

// Float32s views the buffer as float32 elements.
func (b *Buffer) Float32s() []float32 {
	return unsafe.Slice((*float32)(unsafe.Pointer(&b.data[0])), len(b.data)/4)
}

// BF16s views the buffer as bfloat16 elements.
func (b *Buffer) BF16s() []dtype.BFloat16 {
	return unsafe.Slice((*dtype.BFloat16)(unsafe.Pointer(&b.data[0])), len(b.data)/2)
}

// Free returns the allocation to the allocator. Safe to call more than
// once; the buffer must not be bound to an in-flight command buffer.
func (b *Buffer) Free() {
	if b.data == nil {
		return
	}
	b.ctx.recordAlloc(-int64(len(b.data)))
	b.ctx.mem.Free(b.data)
	b.data = nil
}
