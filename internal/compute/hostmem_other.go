//go:build !linux

package compute

func hostMemory() uint64 { return 0 }
