package device

import (
	"fmt"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// Kernel identifiers. Stable names, one per entry point; lookup by any
// other string is a configuration error.
const (
	KernelF32FillRandom            = "bodkin_f32_fill_random"
	KernelBF16FillRandom           = "bodkin_bf16_fill_random"
	KernelF32BF16WMatMul           = "bodkin_f32_bf16w_matmul"
	KernelF32BF16WMatMulQKV        = "bodkin_f32_bf16w_dense_matmul_qkv"
	KernelF32BF16WMatMulAttnOutput = "bodkin_f32_bf16w_dense_matmul_attn_output"
	KernelF32BF16WMatMulMLPGate    = "bodkin_f32_bf16w_dense_matmul_mlp_gate"
)

// Context holds the device connection, command queue and compiled kernel
// library. One Context serves any number of sequential command buffers.
type Context struct {
	mem       memory.Allocator
	functions map[string]*Function
	allocated atomic.Int64
}

// Function is a compiled kernel entry point resolved by name.
type Function struct {
	name   string
	fill   fillKernel
	matmul matmulKernel
}

func (f *Function) Name() string { return f.name }

func NewContext() *Context {
	return NewContextWithAllocator(memory.NewGoAllocator())
}

// NewContextWithAllocator builds a context over a caller-supplied
// allocator. Tests use this with memory.CheckedAllocator to catch
// buffer leaks.
func NewContextWithAllocator(mem memory.Allocator) *Context {
	ctx := &Context{
		mem:       mem,
		functions: make(map[string]*Function),
	}
	ctx.register(&Function{name: KernelF32FillRandom, fill: fillRandomF32})
	ctx.register(&Function{name: KernelBF16FillRandom, fill: fillRandomBF16})
	ctx.register(&Function{name: KernelF32BF16WMatMul, matmul: matmulDecode})
	ctx.register(&Function{name: KernelF32BF16WMatMulQKV, matmul: matmulDenseQKV})
	ctx.register(&Function{name: KernelF32BF16WMatMulAttnOutput, matmul: matmulDenseAttnOutput})
	ctx.register(&Function{name: KernelF32BF16WMatMulMLPGate, matmul: matmulDenseMLPGate})
	return ctx
}

func (c *Context) register(fn *Function) {
	c.functions[fn.name] = fn
}

// Function resolves a kernel entry point. A missing name is a fatal
// configuration error at the call site, never retried.
func (c *Context) Function(name string) (*Function, error) {
	fn, ok := c.functions[name]
	if !ok {
		return nil, fmt.Errorf("kernel function %q not found in library", name)
	}
	return fn, nil
}

func (c *Context) Free() {
	c.functions = nil
}

// AllocatedBytes reports live host-visible buffer bytes.
func (c *Context) AllocatedBytes() int64 {
	return c.allocated.Load()
}

func (c *Context) recordAlloc(n int64) {
	metrics.RecordDeviceMemory(c.allocated.Add(n))
}
