package device

import (
	"sync"

	"github.com/23skdu/longbow-bodkin/internal/dtype"
)

type fillKernel func(FillParams) error

type matmulKernel func(MatMulParams) error

const defaultFillThreadgroups = 10

// splitmix64 output function. Full-period mix of a 64-bit counter.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}

// randomUniform derives the value at element index i purely from
// (seed, offset+i), so the fill is bit-identical regardless of how many
// threadgroups the launch is split across.
func randomUniform(seed, offset, i uint64, min, max float32) float32 {
	u := splitmix64(seed ^ splitmix64(offset+i))
	// 24 high bits give a float32-exact value in [0, 1).
	unit := float32(u>>40) * (1.0 / (1 << 24))
	return min + (max-min)*unit
}

func fillThreadgroups(p FillParams) int {
	groups := p.MaxThreadgroups
	if groups <= 0 {
		groups = defaultFillThreadgroups
	}
	if groups > p.Count {
		groups = p.Count
	}
	return groups
}

func fillRandomF32(p FillParams) error {
	out := p.Output.Float32s()[:p.Count]
	parallelChunks(p.Count, fillThreadgroups(p), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = randomUniform(p.Seed, p.Offset, uint64(i), p.Min, p.Max)
		}
	})
	return nil
}

func fillRandomBF16(p FillParams) error {
	out := p.Output.BF16s()[:p.Count]
	parallelChunks(p.Count, fillThreadgroups(p), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = dtype.FromFloat32(randomUniform(p.Seed, p.Offset, uint64(i), p.Min, p.Max))
		}
	})
	return nil
}

// parallelChunks splits [0, n) into at most groups contiguous ranges and
// runs body over them concurrently.
func parallelChunks(n, groups int, body func(lo, hi int)) {
	if groups <= 1 {
		body(0, n)
		return
	}
	var wg sync.WaitGroup
	chunk := (n + groups - 1) / groups
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			body(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// dotRow accumulates bias[r] + input[t,:]·weight[r,:] in float32 with a
// strict ascending-column order. Every matmul variant reduces in this
// order, so their rounding behavior is identical; they differ only in
// how work is partitioned across threadgroups.
func dotRow(input []float32, weight []dtype.BFloat16, bias dtype.BFloat16, cols int) float32 {
	acc := bias.Float32()
	c := 0
	for ; c+4 <= cols; c += 4 {
		acc += input[c] * weight[c].Float32()
		acc += input[c+1] * weight[c+1].Float32()
		acc += input[c+2] * weight[c+2].Float32()
		acc += input[c+3] * weight[c+3].Float32()
	}
	for ; c < cols; c++ {
		acc += input[c] * weight[c].Float32()
	}
	return acc
}

// matmulDecode is tuned for single-token decode: one threadgroup strip
// per block of output rows.
func matmulDecode(p MatMulParams) error {
	input := p.Input.Float32s()
	weight := p.Weight.BF16s()
	bias := p.Bias.BF16s()
	output := p.Output.Float32s()

	parallelChunks(p.NumRows, groupsFor(p.NumRows, p.ThreadgroupSize), func(lo, hi int) {
		for t := 0; t < p.NumTokens; t++ {
			in := input[t*p.NumCols : (t+1)*p.NumCols]
			for r := lo; r < hi; r++ {
				w := weight[r*p.NumCols : (r+1)*p.NumCols]
				output[t*p.NumRows+r] = dotRow(in, w, bias[r], p.NumCols)
			}
		}
	})
	return nil
}

// matmulDenseQKV is tuned for batched prefill: parallel over tokens so
// the fused QKV projection streams each weight row once per token block.
func matmulDenseQKV(p MatMulParams) error {
	return denseMatMul(p, false)
}

// matmulDenseAttnOutput fuses the residual add: the values already in
// the output buffer are accumulated onto the matmul result.
func matmulDenseAttnOutput(p MatMulParams) error {
	return denseMatMul(p, true)
}

// matmulDenseMLPGate shares the dense prefill path; the gate projection
// differs from QKV only in dispatch shape on real hardware.
func matmulDenseMLPGate(p MatMulParams) error {
	return denseMatMul(p, false)
}

func denseMatMul(p MatMulParams, accumulate bool) error {
	input := p.Input.Float32s()
	weight := p.Weight.BF16s()
	bias := p.Bias.BF16s()
	output := p.Output.Float32s()

	parallelChunks(p.NumTokens, groupsFor(p.NumTokens, p.ThreadgroupSize), func(lo, hi int) {
		for t := lo; t < hi; t++ {
			in := input[t*p.NumCols : (t+1)*p.NumCols]
			for r := 0; r < p.NumRows; r++ {
				w := weight[r*p.NumCols : (r+1)*p.NumCols]
				sum := dotRow(in, w, bias[r], p.NumCols)
				if accumulate {
					sum += output[t*p.NumRows+r]
				}
				output[t*p.NumRows+r] = sum
			}
		}
	})
	return nil
}

func groupsFor(n, threadgroupSize int) int {
	if threadgroupSize <= 0 {
		return 1
	}
	groups := (n + threadgroupSize - 1) / threadgroupSize
	if groups < 1 {
		groups = 1
	}
	return groups
}
