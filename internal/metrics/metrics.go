package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "device_kernel_duration_seconds",
		Help:    "Histogram of kernel execution times",
		Buckets: prometheus.DefBuckets,
	}, []string{"kernel"})

	DeviceMemoryAllocated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_memory_allocated_bytes",
		Help: "Current bytes of host-visible device memory allocated",
	})

	MatMulCheckPass = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matmul_check_pass_total",
		Help: "Count of matmul kernel checks with zero mismatched elements",
	}, []string{"kernel"})

	MatMulCheckFail = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matmul_check_fail_total",
		Help: "Count of matmul kernel checks with at least one mismatch",
	}, []string{"kernel"})

	MatMulElementsCompared = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matmul_elements_compared_total",
		Help: "Total output elements compared against the reference",
	})

	MatMulMaxAbsError = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matmul_max_abs_error",
		Help:    "Maximum absolute error per check against the double-precision reference",
		Buckets: []float64{0, 1e-7, 1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1.0},
	})

	NonFiniteValues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "non_finite_values_total",
		Help: "Total number of NaN/Inf values detected during comparison",
	}, []string{"kernel"})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})
)

func RecordKernelDuration(name string, duration time.Duration) {
	KernelDuration.WithLabelValues(name).Observe(duration.Seconds())
}

func RecordDeviceMemory(bytes int64) {
	DeviceMemoryAllocated.Set(float64(bytes))
}

// RecordMatMulCheck records the outcome of one kernel check: how many
// elements were compared, how many missed tolerance, and the worst
// absolute error seen.
func RecordMatMulCheck(kernel string, elements, mismatches int, maxAbsErr float64) {
	MatMulElementsCompared.Add(float64(elements))
	MatMulMaxAbsError.Observe(maxAbsErr)
	if mismatches == 0 {
		MatMulCheckPass.WithLabelValues(kernel).Inc()
	} else {
		MatMulCheckFail.WithLabelValues(kernel).Inc()
	}
}

func RecordNonFinite(kernel string, count int) {
	if count > 0 {
		NonFiniteValues.WithLabelValues(kernel).Add(float64(count))
	}
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}
