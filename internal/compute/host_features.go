package compute

import "golang.org/x/sys/cpu"

// hostExtensions lists the SIMD features of the machine in the style of an
// OpenCL extension string.
func hostExtensions() []string {
	var ext []string
	add := func(has bool, name string) {
		if has {
			ext = append(ext, name)
		}
	}

	add(cpu.X86.HasSSE41, "host_x86_sse4_1")
	add(cpu.X86.HasAVX, "host_x86_avx")
	add(cpu.X86.HasAVX2, "host_x86_avx2")
	add(cpu.X86.HasFMA, "host_x86_fma")
	add(cpu.X86.HasAVX512F, "host_x86_avx512f")
	add(cpu.ARM64.HasASIMD, "host_arm64_asimd")
	add(cpu.ARM64.HasFPHP, "host_arm64_fp16")
	return ext
}
