package kerneltest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-bodkin/internal/device"
)

func newTestContext(t *testing.T) *device.Context {
	t.Helper()
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	ctx := device.NewContextWithAllocator(mem)
	t.Cleanup(func() {
		ctx.Free()
		mem.AssertSize(t, 0)
	})
	return ctx
}

func TestValidate(t *testing.T) {
	ctx := newTestContext(t)

	tests := []struct {
		name    string
		setup   func(*MatMulKernelTester) *MatMulKernelTester
		wantErr string
	}{
		{"defaults pass", func(kt *MatMulKernelTester) *MatMulKernelTester { return kt }, ""},
		{"zero rows", func(kt *MatMulKernelTester) *MatMulKernelTester { return kt.NumRows(0) }, "num_rows"},
		{"zero cols", func(kt *MatMulKernelTester) *MatMulKernelTester { return kt.NumCols(0) }, "num_cols"},
		{"zero tokens", func(kt *MatMulKernelTester) *MatMulKernelTester { return kt.NumTokens(0) }, "num_tokens"},
		{"zero threadgroup", func(kt *MatMulKernelTester) *MatMulKernelTester { return kt.ThreadgroupSize(0) }, "threadgroup_size"},
		{"misaligned cols", func(kt *MatMulKernelTester) *MatMulKernelTester { return kt.NumCols(30) }, "multiple of vector size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kt := tt.setup(NewMatMulKernelTester(ctx))
			err := kt.Validate(4)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

type countingAllocator struct {
	mem    memory.Allocator
	allocs int
}

func (c *countingAllocator) Allocate(size int) []byte {
	c.allocs++
	return c.mem.Allocate(size)
}

func (c *countingAllocator) Reallocate(size int, b []byte) []byte {
	return c.mem.Reallocate(size, b)
}

func (c *countingAllocator) Free(b []byte) { c.mem.Free(b) }

func TestValidationFailsBeforeAnyAllocation(t *testing.T) {
	mem := &countingAllocator{mem: memory.NewGoAllocator()}
	ctx := device.NewContextWithAllocator(mem)
	defer ctx.Free()

	// 30 % 4 != 0, so the run must fail without touching the allocator.
	_, err := NewMatMulKernelTester(ctx).NumCols(30).Run(DecodeOptimized)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if mem.allocs != 0 {
		t.Errorf("validation failure allocated %d buffers, want 0", mem.allocs)
	}
}

func TestRunRejectsUnknownKernelType(t *testing.T) {
	ctx := newTestContext(t)
	if _, err := NewMatMulKernelTester(ctx).Run(KernelType(9)); err == nil {
		t.Error("expected error for unknown kernel type")
	}
}

func TestF32BF16WDecodeSingleToken(t *testing.T) {
	// 1 token, 1 row, 32 cols: one input row, one weight row and a
	// bias scalar, bias + dot product within (2e-4, 1e-4).
	ctx := newTestContext(t)

	kt := NewMatMulKernelTester(ctx)
	if kt.Tokens() != 1 || kt.Rows() != 1 || kt.Cols() != 32 || kt.GroupSize() != 32 {
		t.Fatalf("unexpected defaults: tokens=%d rows=%d cols=%d group=%d",
			kt.Tokens(), kt.Rows(), kt.Cols(), kt.GroupSize())
	}
	kt.TestF32BF16W(t, DecodeOptimized)
}

func TestF32BF16WAttnOutputResidual(t *testing.T) {
	// The pre-run random output contents must come back as a residual
	// term on top of bias + dot product.
	ctx := newTestContext(t)
	NewMatMulKernelTester(ctx).NumTokens(4).NumRows(8).TestF32BF16W(t, PrefillAttnOutputOptimized)
}

func TestF32BF16WAllVariants(t *testing.T) {
	ctx := newTestContext(t)
	for _, kernel := range Variants {
		t.Run(kernel.String(), func(t *testing.T) {
			NewMatMulKernelTester(ctx).
				NumTokens(4).
				NumRows(8).
				NumCols(64).
				TestF32BF16W(t, kernel)
		})
	}
}

func TestF32BF16WShapeSweep(t *testing.T) {
	ctx := newTestContext(t)
	shapes := []struct {
		tokens, rows, cols uint32
	}{
		{1, 1, 4},
		{1, 16, 128},
		{3, 7, 36},
		{8, 8, 64},
		{16, 2, 256},
	}
	for _, s := range shapes {
		for _, kernel := range Variants {
			name := fmt.Sprintf("%s/%dx%dx%d", kernel, s.tokens, s.rows, s.cols)
			t.Run(name, func(t *testing.T) {
				NewMatMulKernelTester(ctx).
					NumTokens(s.tokens).
					NumRows(s.rows).
					NumCols(s.cols).
					TestF32BF16W(t, kernel)
			})
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	ctx := newTestContext(t)

	run := func() *Report {
		report, err := NewMatMulKernelTester(ctx).
			NumTokens(4).
			NumRows(8).
			NumCols(64).
			Run(PrefillAttnOutputOptimized)
		if err != nil {
			t.Fatal(err)
		}
		return report
	}

	a, b := run(), run()
	if !a.Passed() || !b.Passed() {
		t.Fatalf("runs did not pass: %d and %d mismatches", len(a.Mismatches), len(b.Mismatches))
	}
	if a.MaxAbsErr != b.MaxAbsErr {
		t.Errorf("max abs error differs across identical runs: %v vs %v", a.MaxAbsErr, b.MaxAbsErr)
	}
	if a.Elements != 32 || b.Elements != 32 {
		t.Errorf("element counts = %d, %d, want 32", a.Elements, b.Elements)
	}
}

func TestSeedChangesOutcomeDeterministically(t *testing.T) {
	ctx := newTestContext(t)

	base, err := NewMatMulKernelTester(ctx).Seed(7).NumRows(4).Run(DecodeOptimized)
	if err != nil {
		t.Fatal(err)
	}
	again, err := NewMatMulKernelTester(ctx).Seed(7).NumRows(4).Run(DecodeOptimized)
	if err != nil {
		t.Fatal(err)
	}
	if base.MaxAbsErr != again.MaxAbsErr {
		t.Error("same seed produced different error profiles")
	}
	if !base.Passed() {
		t.Errorf("seeded run failed with %d mismatches", len(base.Mismatches))
	}
}

func TestReportFailureCarriesContext(t *testing.T) {
	ctx := newTestContext(t)

	// Zero tolerances force mismatches: float32 kernel accumulation
	// cannot match the float64 reference bit-for-bit at cols=128.
	report, err := NewMatMulKernelTester(ctx).
		NumTokens(2).
		NumRows(4).
		NumCols(128).
		Tolerances(0, 0).
		Run(DecodeOptimized)
	if err != nil {
		t.Fatal(err)
	}
	if report.Passed() {
		t.Skip("kernel matched the reference exactly; nothing to inspect")
	}
	m := report.Mismatches[0]
	if m.Reason == "" {
		t.Error("mismatch carries no diagnostic")
	}
	if !strings.Contains(m.Reason, fmt.Sprintf("output[%d][%d]", m.Token, m.Row)) {
		t.Errorf("diagnostic %q does not name element (%d,%d)", m.Reason, m.Token, m.Row)
	}
	if !strings.Contains(m.Reason, "reference") {
		t.Errorf("diagnostic %q does not name the reference operand", m.Reason)
	}
}
