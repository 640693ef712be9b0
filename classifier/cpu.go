package classifier

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// CPUFeatures lists the vector extensions ONNX Runtime can use on this host.
func CPUFeatures() []string {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		if cpu.X86.HasAVX512F {
			features = append(features, "avx512f")
		}
		if cpu.X86.HasAVX2 {
			features = append(features, "avx2")
		}
		if cpu.X86.HasFMA {
			features = append(features, "fma")
		}
		if cpu.X86.HasSSE41 {
			features = append(features, "sse4.1")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			features = append(features, "asimd")
		}
		if cpu.ARM64.HasFPHP {
			features = append(features, "fphp")
		}
	}
	return features
}
