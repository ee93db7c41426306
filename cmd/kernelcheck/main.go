package main

import (
	"flag"
	"os"

	"github.com/23skdu/longbow-bodkin/internal/config"
	"github.com/23skdu/longbow-bodkin/internal/device"
	"github.com/23skdu/longbow-bodkin/internal/kerneltest"
	"github.com/23skdu/longbow-bodkin/internal/logger"
)

var (
	numTokens = flag.Uint("tokens", 4, "Number of input tokens")
	numRows   = flag.Uint("rows", 64, "Output width (rows)")
	numCols   = flag.Uint("cols", 128, "Reduction width (cols), multiple of 4")
	groupSize = flag.Int("threadgroup", 32, "Threadgroup size")
	seed      = flag.Uint64("seed", 0, "Override base random seed (0 = default)")
)

func main() {
	flag.Parse()

	cfg := config.FromEnv()
	if *seed != 0 {
		cfg.Seed = *seed
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Log.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx := device.NewContext()
	defer ctx.Free()

	failed := 0
	for _, kernel := range kerneltest.Variants {
		log := logger.Log.WithKernel(kernel.String())

		report, err := kerneltest.NewMatMulKernelTester(ctx).
			NumTokens(uint32(*numTokens)).
			NumRows(uint32(*numRows)).
			NumCols(uint32(*numCols)).
			ThreadgroupSize(*groupSize).
			Seed(cfg.Seed).
			Tolerances(cfg.AbsTol, cfg.RelTol).
			Run(kernel)
		if err != nil {
			log.Error("kernel check aborted", "error", err)
			os.Exit(2)
		}

		if report.Passed() {
			log.Info("kernel check passed",
				"elements", report.Elements,
				"max_abs_error", report.MaxAbsErr)
			continue
		}

		failed++
		log.Error("kernel check failed",
			"elements", report.Elements,
			"mismatches", len(report.Mismatches),
			"non_finite", report.NonFinite,
			"max_abs_error", report.MaxAbsErr)
		for i, m := range report.Mismatches {
			if i == 10 {
				log.Error("further mismatches suppressed", "remaining", len(report.Mismatches)-i)
				break
			}
			log.Error("mismatch", "token", m.Token, "row", m.Row, "detail", m.Reason)
		}
	}

	if failed > 0 {
		logger.Log.Error("kernel checks failed", "kernels", failed)
		os.Exit(1)
	}
	logger.Log.Info("all kernel checks passed",
		"tokens", *numTokens, "rows", *numRows, "cols", *numCols)
}
