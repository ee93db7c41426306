package kerneltest

import (
	"math"
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/dtype"
)

func bf16s(values ...float32) []dtype.BFloat16 {
	out := make([]dtype.BFloat16, len(values))
	for i, v := range values {
		out[i] = dtype.FromFloat32(v)
	}
	return out
}

func TestReferenceKnownValues(t *testing.T) {
	// 2 tokens, 2 rows, 4 cols; every operand exact in bf16.
	input := []float32{
		1, 2, 3, 4,
		-1, 0.5, 0, 2,
	}
	weight := bf16s(
		1, 1, 1, 1,
		2, 0, -2, 0,
	)
	bias := bf16s(0.5, -0.5)

	got := Reference(input, weight, bias, nil, 2, 2, 4, DecodeOptimized)

	want := []float64{
		0.5 + 10, -0.5 + (2 - 6),
		0.5 + 1.5, -0.5 + (-2),
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReferenceResidualOnlyForAttnOutput(t *testing.T) {
	input := []float32{1, 1, 1, 1}
	weight := bf16s(1, 1, 1, 1)
	bias := bf16s(0)
	residual := []float32{7}

	withRes := Reference(input, weight, bias, residual, 1, 1, 4, PrefillAttnOutputOptimized)
	if withRes[0] != 11 {
		t.Errorf("attn-output expected = %v, want 11", withRes[0])
	}

	// The other variants ignore a residual entirely; passing nil must
	// be safe for them.
	for _, k := range []KernelType{DecodeOptimized, PrefillQKVOptimized, PrefillMLPGateOptimized} {
		without := Reference(input, weight, bias, nil, 1, 1, 4, k)
		if without[0] != 4 {
			t.Errorf("%s expected = %v, want 4", k, without[0])
		}
	}
}

func TestReferenceIsPure(t *testing.T) {
	input := make([]float32, 3*16)
	weight := make([]dtype.BFloat16, 5*16)
	bias := make([]dtype.BFloat16, 5)
	residual := make([]float32, 3*5)
	for i := range input {
		input[i] = float32(math.Sin(float64(i)))
	}
	for i := range weight {
		weight[i] = dtype.FromFloat32(float32(math.Cos(float64(i))))
	}
	for i := range bias {
		bias[i] = dtype.FromFloat32(float32(i) * 0.25)
	}
	for i := range residual {
		residual[i] = float32(i)
	}

	a := Reference(input, weight, bias, residual, 3, 5, 16, PrefillAttnOutputOptimized)
	b := Reference(input, weight, bias, residual, 3, 5, 16, PrefillAttnOutputOptimized)
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			t.Fatalf("element %d differs between invocations: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestReferenceAccumulationOrder(t *testing.T) {
	// Terms fold in ascending column order with one rounding each.
	// 2^60 swamps the +1 at column 1, so left-to-right accumulation
	// yields exactly 1; any reordering would give a different result.
	input := []float32{0x1p60, 1, -0x1p60, 1}
	weight := bf16s(1, 1, 1, 1)
	bias := bf16s(0)

	got := Reference(input, weight, bias, nil, 1, 1, 4, DecodeOptimized)
	if got[0] != 1 {
		t.Errorf("expected = %v, want exactly 1 from ordered accumulation", got[0])
	}
}
