// Package device resolves the compute target named in a training
// configuration. Training runs on the host CPU; accelerator identifiers are
// recognized and rejected.
package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// ErrUnsupportedDevice is returned for compute targets this build cannot use.
var ErrUnsupportedDevice = errors.New("unsupported device")

// Info describes the resolved compute target.
type Info struct {
	Name         string
	Brand        string
	LogicalCores int
	AVX2         bool
	FMA3         bool
	AVX512       bool
}

func (i Info) String() string {
	return fmt.Sprintf("%s (%s, %d logical cores, avx2=%t fma3=%t avx512=%t)",
		i.Name, i.Brand, i.LogicalCores, i.AVX2, i.FMA3, i.AVX512)
}

// Resolve maps a device identifier to the host CPU. Empty and "cpu"
// (optionally "cpu:N") select the CPU; "cuda", "mps" and "gpu" identifiers
// return ErrUnsupportedDevice.
func Resolve(name string) (Info, error) {
	id := strings.ToLower(strings.TrimSpace(name))
	kind := id
	if i := strings.IndexByte(id, ':'); i >= 0 {
		kind = id[:i]
	}

	switch kind {
	case "", "cpu":
	case "cuda", "mps", "gpu", "metal":
		return Info{}, fmt.Errorf("device %q: only cpu training is available: %w", name, ErrUnsupportedDevice)
	default:
		return Info{}, fmt.Errorf("device %q: %w", name, ErrUnsupportedDevice)
	}

	return Info{
		Name:         "cpu",
		Brand:        cpuid.CPU.BrandName,
		LogicalCores: cpuid.CPU.LogicalCores,
		AVX2:         cpuid.CPU.Supports(cpuid.AVX2),
		FMA3:         cpuid.CPU.Supports(cpuid.FMA3),
		AVX512:       cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ),
	}, nil
}
