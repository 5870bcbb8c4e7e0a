package compute

// WorkGroupSize picks the largest multiple of the kernel's preferred
// work-group multiple that still fits its maximum work-group size.
func WorkGroupSize(info WorkGroupInfo) int {
	if info.MaxSize <= 0 {
		return 1
	}
	m := info.PreferredMultiple
	if m <= 0 || m > info.MaxSize {
		return info.MaxSize
	}
	return m * (info.MaxSize / m)
}

// GlobalSize rounds n up to the next multiple of local. Kernels dispatched
// this way must ignore work-items whose global id is >= n.
func GlobalSize(n, local int) int {
	if local <= 0 {
		return n
	}
	return local * ((n + local - 1) / local)
}
