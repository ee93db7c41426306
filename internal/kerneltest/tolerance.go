package kerneltest

import (
	"fmt"
	"math"
)

// Tolerance defines acceptable numeric drift between a kernel result and
// the double-precision reference.
type Tolerance struct {
	Abs float64
	Rel float64
}

// KernelTolerances holds per-kernel parity targets. A relative-only
// tolerance fails near zero and an absolute-only tolerance fails at
// large magnitudes; taking the max of both stays scale-robust across
// the dynamic range bf16 weights produce.
var KernelTolerances = map[string]Tolerance{
	"matmul": {Abs: 2.0e-4, Rel: 1.0e-4},
}

func KernelTolerance(name string) (Tolerance, error) {
	t, ok := KernelTolerances[name]
	if !ok {
		return Tolerance{}, fmt.Errorf("no tolerance configured for kernel %q", name)
	}
	return t, nil
}

// IsNearAbsRel reports whether a and b agree within
// max(absTol, relTol*max(|a|,|b|)). Non-finite operands fail outright;
// finiteness is a precondition, never coerced. aExpr and bExpr name the
// operands in the failure diagnostic.
func IsNearAbsRel(aExpr, bExpr string, a, b, absTol, relTol float64) error {
	if !isFinite(a) || !isFinite(b) {
		return fmt.Errorf("non-finite value(s): %s=%v, %s=%v", aExpr, a, bExpr, b)
	}

	diff := math.Abs(a - b)
	rel := relTol * math.Max(math.Abs(a), math.Abs(b))
	thr := math.Max(absTol, rel)

	if diff <= thr {
		return nil
	}

	return fmt.Errorf("%s vs %s differ by %v > max(abs_tol=%v, rel_tol*max(|a|,|b|)=%v); %s=%v, %s=%v",
		aExpr, bExpr, diff, absTol, rel, aExpr, a, bExpr, b)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
