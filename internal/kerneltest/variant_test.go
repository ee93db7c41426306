package kerneltest

import (
	"testing"

	"github.com/23skdu/longbow-bodkin/internal/device"
)

func TestKernelTypeFunctionNames(t *testing.T) {
	tests := []struct {
		kernel KernelType
		want   string
	}{
		{DecodeOptimized, device.KernelF32BF16WMatMul},
		{PrefillQKVOptimized, device.KernelF32BF16WMatMulQKV},
		{PrefillAttnOutputOptimized, device.KernelF32BF16WMatMulAttnOutput},
		{PrefillMLPGateOptimized, device.KernelF32BF16WMatMulMLPGate},
	}
	for _, tt := range tests {
		name, err := tt.kernel.FunctionName()
		if err != nil {
			t.Errorf("%s: %v", tt.kernel, err)
			continue
		}
		if name != tt.want {
			t.Errorf("%s maps to %q, want %q", tt.kernel, name, tt.want)
		}
	}
}

func TestKernelTypeUnknown(t *testing.T) {
	bad := KernelType(42)
	if _, err := bad.FunctionName(); err == nil {
		t.Error("unknown kernel type resolved to a function name")
	}
	if bad.String() != "KernelType(42)" {
		t.Errorf("String() = %q", bad.String())
	}
}

func TestOnlyAttnOutputHasResidual(t *testing.T) {
	for _, k := range Variants {
		want := k == PrefillAttnOutputOptimized
		if k.HasResidual() != want {
			t.Errorf("%s HasResidual = %v, want %v", k, k.HasResidual(), want)
		}
	}
}
