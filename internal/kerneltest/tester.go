package kerneltest

import (
	"fmt"
	"math"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/metrics"
)

const (
	// Kernels consume 4-wide vectors; the reduction width must divide
	// evenly into them.
	matmulVecSize = 4

	fillRandomMaxThreadgroups = 10
)

// MatMulKernelTester drives one fused f32/bf16w matmul kernel variant
// over seeded random tensors and checks every output element against a
// double-precision host reference. It owns all buffers for the duration
// of one check; nothing is shared or reused across checks.
type MatMulKernelTester struct {
	ctx *device.Context

	numTokens       uint32
	numRows         uint32
	numCols         uint32
	threadgroupSize int

	seed uint64
	tol  Tolerance
}

func NewMatMulKernelTester(ctx *device.Context) *MatMulKernelTester {
	return &MatMulKernelTester{
		ctx:             ctx,
		numTokens:       1,
		numRows:         1,
		numCols:         32,
		threadgroupSize: 32,
		seed:            config.DefaultSeed,
		tol:             KernelTolerances["matmul"],
	}
}

func (t *MatMulKernelTester) NumTokens(n uint32) *MatMulKernelTester {
	t.numTokens = n
	return t
}

func (t *MatMulKernelTester) NumRows(n uint32) *MatMulKernelTester {
	t.numRows = n
	return t
}

func (t *MatMulKernelTester) NumCols(n uint32) *MatMulKernelTester {
	t.numCols = n
	return t
}

func (t *MatMulKernelTester) ThreadgroupSize(n int) *MatMulKernelTester {
	t.threadgroupSize = n
	return t
}

func (t *MatMulKernelTester) Seed(seed uint64) *MatMulKernelTester {
	t.seed = seed
	return t
}

func (t *MatMulKernelTester) Tolerances(abs, rel float64) *MatMulKernelTester {
	t.tol = Tolerance{Abs: abs, Rel: rel}
	return t
}

func (t *MatMulKernelTester) Tokens() uint32 { return t.numTokens }
func (t *MatMulKernelTester) Rows() uint32   { return t.numRows }
func (t *MatMulKernelTester) Cols() uint32   { return t.numCols }
func (t *MatMulKernelTester) GroupSize() int { return t.threadgroupSize }

// Validate rejects zero dimensions and reduction widths that do not
// divide into the kernel vector size. Runs before any buffer is
// allocated.
func (t *MatMulKernelTester) Validate(vecSize uint32) error {
	if t.numRows == 0 {
		return t.configError("num_rows is zero", "zero_rows")
	}
	if t.numCols == 0 {
		return t.configError("num_cols is zero", "zero_cols")
	}
	if t.numCols%vecSize != 0 {
		return t.configError(
			fmt.Sprintf("num_cols=%d is not a multiple of vector size %d", t.numCols, vecSize),
			"misaligned_cols")
	}
	if t.numTokens == 0 {
		return t.configError("num_tokens is zero", "zero_tokens")
	}
	if t.threadgroupSize <= 0 {
		return t.configError("threadgroup_size is zero", "zero_threadgroup")
	}
	return nil
}

func (t *MatMulKernelTester) configError(msg, errType string) error {
	metrics.RecordValidationError("matmul_tester", errType)
	return fmt.Errorf("invalid matmul tester configuration: %s", msg)
}

// Mismatch is one output element outside tolerance, or non-finite.
type Mismatch struct {
	Token, Row int
	Got, Want  float64
	Reason     string
}

// Report summarizes one kernel check.
type Report struct {
	Kernel     KernelType
	Elements   int
	Mismatches []Mismatch
	NonFinite  int
	MaxAbsErr  float64
}

func (r *Report) Passed() bool {
	return len(r.Mismatches) == 0
}

// TestF32BF16W runs the check for kernel and reports through tb:
// configuration and device failures are fatal, tolerance violations
// accumulate one tb.Errorf per failing element.
func (t *MatMulKernelTester) TestF32BF16W(tb testing.TB, kernel KernelType) {
	tb.Helper()
	report, err := t.Run(kernel)
	if err != nil {
		tb.Fatalf("f32_bf16w matmul (%s): %v", kernel, err)
	}
	for _, m := range report.Mismatches {
		tb.Errorf("token %d: %s", m.Token, m.Reason)
	}
}

// Run executes the full check sequence for kernel: fill, snapshot,
// launch, reference, compare. Returns an error for configuration and
// device faults; per-element tolerance violations land in the Report.
func (t *MatMulKernelTester) Run(kernel KernelType) (*Report, error) {
	if err := t.Validate(matmulVecSize); err != nil {
		return nil, err
	}

	fnName, err := kernel.FunctionName()
	if err != nil {
		return nil, err
	}
	matmulFn, err := t.ctx.Function(fnName)
	if err != nil {
		return nil, err
	}
	fillF32Fn, err := t.ctx.Function(device.KernelF32FillRandom)
	if err != nil {
		return nil, err
	}
	fillBF16Fn, err := t.ctx.Function(device.KernelBF16FillRandom)
	if err != nil {
		return nil, err
	}

	tokens := int(t.numTokens)
	rows := int(t.numRows)
	cols := int(t.numCols)

	input, err := t.ctx.NewBuffer(tokens * cols * 4)
	if err != nil {
		return nil, err
	}
	defer input.Free()
	weight, err := t.ctx.NewBuffer(rows * cols * 2)
	if err != nil {
		return nil, err
	}
	defer weight.Free()
	bias, err := t.ctx.NewBuffer(rows * 2)
	if err != nil {
		return nil, err
	}
	defer bias.Free()
	output, err := t.ctx.NewBuffer(tokens * rows * 4)
	if err != nil {
		return nil, err
	}
	defer output.Free()
	control, err := t.ctx.NewBuffer(device.ControlSize)
	if err != nil {
		return nil, err
	}
	defer control.Free()

	// One batch fills every buffer; each logical tensor gets its own
	// seed so the streams are mutually independent. The output buffer
	// is randomized too: the attn-output kernel must accumulate onto
	// it, and the others must fully overwrite it.
	fills := []struct {
		fn    *device.Function
		buf   *device.Buffer
		count int
		seed  uint64
	}{
		{fillF32Fn, input, tokens * cols, t.seed},
		{fillBF16Fn, weight, rows * cols, t.seed + 1},
		{fillBF16Fn, bias, rows, t.seed + 2},
		{fillF32Fn, output, tokens * rows, t.seed + 3},
	}
	cbInit := t.ctx.NewCommandBuffer()
	for _, f := range fills {
		err := cbInit.EncodeFillRandom(f.fn, device.FillParams{
			Output:          f.buf,
			Count:           f.count,
			Seed:            f.seed,
			Min:             -1.0,
			Max:             1.0,
			MaxThreadgroups: fillRandomMaxThreadgroups,
		})
		if err != nil {
			return nil, err
		}
	}
	cbInit.Commit()
	if err := cbInit.Wait(); err != nil {
		return nil, fmt.Errorf("random fill batch: %w", err)
	}

	// Snapshot the pre-run output contents while no batch is in
	// flight; the attn-output reference needs the residual the kernel
	// will fold in.
	var residual *device.Buffer
	if kernel.HasResidual() {
		residual, err = t.ctx.NewBuffer(tokens * rows * 4)
		if err != nil {
			return nil, err
		}
		defer residual.Free()
		copy(residual.Bytes(), output.Bytes())
	}

	cbCompute := t.ctx.NewCommandBuffer()
	err = cbCompute.EncodeMatMul(matmulFn, device.MatMulParams{
		Input:           input,
		Weight:          weight,
		Bias:            bias,
		Output:          output,
		Control:         control,
		NumTokens:       tokens,
		NumCols:         cols,
		NumRows:         rows,
		ThreadgroupSize: t.threadgroupSize,
	})
	if err != nil {
		return nil, err
	}
	cbCompute.Commit()
	if err := cbCompute.Wait(); err != nil {
		return nil, fmt.Errorf("matmul batch: %w", err)
	}

	elems := tokens * rows
	var residualValues []float32
	if residual != nil {
		residualValues = residual.Float32s()[:elems]
	}
	expected := Reference(
		input.Float32s()[:tokens*cols],
		weight.BF16s()[:rows*cols],
		bias.BF16s()[:rows],
		residualValues,
		tokens, rows, cols, kernel)

	report := &Report{Kernel: kernel, Elements: elems}
	got := output.Float32s()[:elems]
	for tok := 0; tok < tokens; tok++ {
		for r := 0; r < rows; r++ {
			idx := tok*rows + r
			a := float64(got[idx])
			b := expected[idx]
			cmpErr := IsNearAbsRel(
				fmt.Sprintf("output[%d][%d]", tok, r), "reference",
				a, b, t.tol.Abs, t.tol.Rel)
			if cmpErr == nil {
				report.MaxAbsErr = math.Max(report.MaxAbsErr, math.Abs(a-b))
				continue
			}
			if !isFinite(a) || !isFinite(b) {
				report.NonFinite++
			} else {
				report.MaxAbsErr = math.Max(report.MaxAbsErr, math.Abs(a-b))
			}
			report.Mismatches = append(report.Mismatches, Mismatch{
				Token:  tok,
				Row:    r,
				Got:    a,
				Want:   b,
				Reason: cmpErr.Error(),
			})
		}
	}

	metrics.RecordMatMulCheck(fnName, report.Elements, len(report.Mismatches), report.MaxAbsErr)
	metrics.RecordNonFinite(fnName, report.NonFinite)
	return report, nil
}
