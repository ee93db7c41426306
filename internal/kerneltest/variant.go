package kerneltest

import (
	"fmt"

	"github.com/23skdu/longbow-bodkin/internal/device"
)

// KernelType selects which fused f32/bf16w matmul variant a check runs.
// The variants share one mathematical contract, bias plus dot product;
// only the attn-output variant adds a residual term on top. The set is
// closed, dispatch is a switch, never an interface.
type KernelType int

const (
	DecodeOptimized KernelType = iota
	PrefillQKVOptimized
	PrefillAttnOutputOptimized
	PrefillMLPGateOptimized
)

func (k KernelType) String() string {
	switch k {
	case DecodeOptimized:
		return "decode_optimized"
	case PrefillQKVOptimized:
		return "prefill_qkv_optimized"
	case PrefillAttnOutputOptimized:
		return "prefill_attn_output_optimized"
	case PrefillMLPGateOptimized:
		return "prefill_mlp_gate_optimized"
	default:
		return fmt.Sprintf("KernelType(%d)", int(k))
	}
}

// FunctionName maps the variant to its kernel entry point in the device
// library. Unknown variants are a configuration error.
func (k KernelType) FunctionName() (string, error) {
	switch k {
	case DecodeOptimized:
		return device.KernelF32BF16WMatMul, nil
	case PrefillQKVOptimized:
		return device.KernelF32BF16WMatMulQKV, nil
	case PrefillAttnOutputOptimized:
		return device.KernelF32BF16WMatMulAttnOutput, nil
	case PrefillMLPGateOptimized:
		return device.KernelF32BF16WMatMulMLPGate, nil
	default:
		return "", fmt.Errorf("unknown kernel type %d", int(k))
	}
}

// HasResidual reports whether the variant accumulates the pre-existing
// output values as a residual term.
func (k KernelType) HasResidual() bool {
	return k == PrefillAttnOutputOptimized
}

// Variants lists every kernel type, for sweeps.
var Variants = []KernelType{
	DecodeOptimized,
	PrefillQKVOptimized,
	PrefillAttnOutputOptimized,
	PrefillMLPGateOptimized,
}
