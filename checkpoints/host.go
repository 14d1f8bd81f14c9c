package checkpoints

import (
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

// HostInfo describes the CPU the snapshot was produced on, e.g.
// "AMD EPYC 7B13 (8 cores, avx2)".
func HostInfo() string {
	features := "generic"
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ):
		features = "avx512"
	case cpuid.CPU.Supports(cpuid.AVX2):
		features = "avx2"
	case cpuid.CPU.Supports(cpuid.ASIMD):
		features = "neon"
	}

	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = "unknown cpu"
	}
	return fmt.Sprintf("%s (%d cores, %s)", brand, cpuid.CPU.PhysicalCores, features)
}
