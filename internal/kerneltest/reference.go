package kerneltest

import (
	"math"

	"github.com/23skdu/longbow-bodkin/internal/dtype"
)

// Reference computes the expected output entirely in float64, on the
// host, from the same inputs the kernel consumed. Pure function: no
// state, no device. Per (token, row) the accumulator starts at the
// upcast bias and each input*weight term is folded in with math.FMA, a
// single rounding per term. The kernel reduces in the same column order
// in float32, which keeps its drift inside the matmul tolerance.
//
// residual must be the snapshot of the output buffer taken before the
// kernel ran; it is consumed only by the attn-output variant and may be
// nil for the others.
func Reference(input []float32, weight, bias []dtype.BFloat16, residual []float32,
	numTokens, numRows, numCols int, kernel KernelType) []float64 {

	expected := make([]float64, numTokens*numRows)
	for t := 0; t < numTokens; t++ {
		in := input[t*numCols : (t+1)*numCols]
		for r := 0; r < numRows; r++ {
			w := weight[r*numCols : (r+1)*numCols]
			sum := bias[r].Float64()
			for c := 0; c < numCols; c++ {
				sum = math.FMA(float64(in[c]), w[c].Float64(), sum)
			}
			if kernel.HasResidual() {
				sum += float64(residual[t*numRows+r])
			}
			expected[t*numRows+r] = sum
		}
	}
	return expected
}
