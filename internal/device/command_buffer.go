package device

import (
	"fmt"
	"time"

	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

// CommandBuffer batches kernel launches. Encode everything, Commit once,
// Wait once. Launches within one buffer execute in encode order; a kernel
// may parallelize internally, but no two launches overlap.
type CommandBuffer struct {
	ctx       *Context
	launches  []launch
	committed bool
	done      chan struct{}
	err       error
}

type launch struct {
	name string
	run  func() error
}

func (c *Context) NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{
		ctx:  c,
		done: make(chan struct{}),
	}
}

func (cb *CommandBuffer) encode(name string, run func() error) error {
	if cb.committed {
		return fmt.Errorf("encode %s: command buffer already committed", name)
	}
	cb.launches = append(cb.launches, launch{name: name, run: run})
	return nil
}

// FillParams binds a fill-random launch: count elements of output filled
// with values uniform in [Min, Max], deterministic in (Seed, Offset).
type FillParams struct {
	Output   *Buffer
	Count    int
	Seed     uint64
	Offset   uint64
	Min, Max float32

	// MaxThreadgroups caps internal parallelism; zero means the kernel
	// picks. A scheduling knob only, never a correctness input.
	MaxThreadgroups int
}

// EncodeFillRandom encodes one fill-random launch for fn, which must be
// one of the two fill kernels.
func (cb *CommandBuffer) EncodeFillRandom(fn *Function, p FillParams) error {
	if fn == nil || fn.fill == nil {
		return fmt.Errorf("encode fill random: %s is not a fill kernel", fnName(fn))
	}
	if p.Output == nil || p.Output.data == nil {
		return fmt.Errorf("encode %s: nil output buffer", fn.name)
	}
	if p.Count <= 0 {
		return fmt.Errorf("encode %s: invalid element count %d", fn.name, p.Count)
	}
	if p.Min > p.Max {
		return fmt.Errorf("encode %s: empty range [%g, %g]", fn.name, p.Min, p.Max)
	}
	kernel, out := fn.fill, p
	return cb.encode(fn.name, func() error { return kernel(out) })
}

// MatMulParams binds one fused matmul launch.
// Output[t,r] = Bias[r] + sum_c Input[t,c]*Weight[r,c]; the attn-output
// kernel additionally accumulates onto the values already in Output.
type MatMulParams struct {
	Input   *Buffer // NumTokens x NumCols float32
	Weight  *Buffer // NumRows x NumCols bfloat16
	Bias    *Buffer // NumRows bfloat16
	Output  *Buffer // NumTokens x NumRows float32
	Control *Buffer // ControlSize bytes, zeroed

	NumTokens, NumCols, NumRows int
	ThreadgroupSize             int
}

// EncodeMatMul encodes one fused matmul launch for fn, which must be one
// of the four matmul kernels. Binding sizes are validated here; a
// mismatch is an encode error, not a deferred execution fault.
func (cb *CommandBuffer) EncodeMatMul(fn *Function, p MatMulParams) error {
	if fn == nil || fn.matmul == nil {
		return fmt.Errorf("encode matmul: %s is not a matmul kernel", fnName(fn))
	}
	if err := p.validate(fn.name); err != nil {
		return err
	}
	kernel, args := fn.matmul, p
	return cb.encode(fn.name, func() error { return kernel(args) })
}

func (p *MatMulParams) validate(name string) error {
	if p.NumTokens <= 0 || p.NumRows <= 0 || p.NumCols <= 0 {
		return fmt.Errorf("encode %s: invalid dimensions %dx%dx%d",
			name, p.NumTokens, p.NumCols, p.NumRows)
	}
	bindings := []struct {
		label string
		buf   *Buffer
		bytes int
	}{
		{"input", p.Input, p.NumTokens * p.NumCols * 4},
		{"weight", p.Weight, p.NumRows * p.NumCols * 2},
		{"bias", p.Bias, p.NumRows * 2},
		{"output", p.Output, p.NumTokens * p.NumRows * 4},
		{"control", p.Control, ControlSize},
	}
	for _, b := range bindings {
		if b.buf == nil || b.buf.data == nil {
			return fmt.Errorf("encode %s: nil %s buffer binding", name, b.label)
		}
		if b.buf.Len() < b.bytes {
			return fmt.Errorf("encode %s: %s buffer is %d bytes, need %d",
				name, b.label, b.buf.Len(), b.bytes)
		}
	}
	return nil
}

// Commit submits the encoded launches for asynchronous execution.
func (cb *CommandBuffer) Commit() {
	if cb.committed {
		return
	}
	cb.committed = true
	go func() {
		defer close(cb.done)
		for _, l := range cb.launches {
			start := time.Now()
			if err := l.run(); err != nil {
				cb.err = fmt.Errorf("kernel %s: %w", l.name, err)
				return
			}
			metrics.RecordKernelDuration(l.name, time.Since(start))
		}
	}()
}

// Wait blocks until every committed launch has completed, then reports
// the first execution error. There is no timeout; a stalled device
// blocks indefinitely.
func (cb *CommandBuffer) Wait() error {
	if !cb.committed {
		return fmt.Errorf("wait on uncommitted command buffer")
	}
	<-cb.done
	return cb.err
}

func fnName(fn *Function) string {
	if fn == nil {
		return "<nil function>"
	}
	return fn.name
}
