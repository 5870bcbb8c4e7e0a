package compute

// DeviceType describes the class of a compute device.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "GPU"
	DeviceTypeCPU         DeviceType = "CPU"
	DeviceTypeAccelerator DeviceType = "Accelerator"
	DeviceTypeDefault     DeviceType = "Default"
	DeviceTypeUnknown     DeviceType = "Unknown"
)

// DeviceInfo captures metadata about a compute device.
type DeviceInfo struct {
	Backend  Backend `json:"backend"`
	Platform string  `json:"platform"`
	// Index is the position of the device in the backend's flattened device list.
	Index int `json:"index"`

	Name           string     `json:"name"`
	Vendor         string     `json:"vendor"`
	Version        string     `json:"version"`
	OpenCLCVersion string     `json:"openclCVersion,omitempty"`
	Type           DeviceType `json:"type"`

	MaxClockFrequency  uint32 `json:"maxClockFrequency"` // MHz
	MaxComputeUnits    uint32 `json:"maxComputeUnits"`
	GlobalMemSize      uint64 `json:"globalMemSize"`
	GlobalMemCacheSize uint64 `json:"globalMemCacheSize"`
	GlobalMemCacheType string `json:"globalMemCacheType,omitempty"`
	GlobalMemCacheLine uint32 `json:"globalMemCacheLine"`
	LocalMemSize       uint64 `json:"localMemSize"`
	LocalMemType       string `json:"localMemType,omitempty"`
	MaxMemAllocSize    uint64 `json:"maxMemAllocSize"`

	MaxWorkGroupSize      int      `json:"maxWorkGroupSize"`
	MaxWorkItemDimensions uint32   `json:"maxWorkItemDimensions"`
	MaxWorkItemSizes      []int    `json:"maxWorkItemSizes,omitempty"`
	Extensions            []string `json:"extensions,omitempty"`
}

// PlatformInfo captures metadata about a platform and its devices.
type PlatformInfo struct {
	Backend Backend      `json:"backend"`
	Name    string       `json:"name"`
	Vendor  string       `json:"vendor"`
	Version string       `json:"version"`
	Devices []DeviceInfo `json:"devices"`
}

// WorkGroupInfo reports the per-kernel work-group limits of a device.
type WorkGroupInfo struct {
	MaxSize           int
	PreferredMultiple int
	LocalMemSize      uint64
}

// MemFlags mirrors the cl_mem_flags bit field. The values are the OpenCL ones
// so the OpenCL backend can pass them through unchanged.
type MemFlags uint64

const (
	MemReadWrite     MemFlags = 1 << 0
	MemWriteOnly     MemFlags = 1 << 1
	MemReadOnly      MemFlags = 1 << 2
	MemCopyHostPtr   MemFlags = 1 << 5
	MemHostWriteOnly MemFlags = 1 << 7
	MemHostReadOnly  MemFlags = 1 << 8
	MemHostNoAccess  MemFlags = 1 << 9
)

func (f MemFlags) has(flag MemFlags) bool { return f&flag != 0 }

// hostReadable reports whether a buffer with these flags may be read by the host.
func (f MemFlags) hostReadable() bool {
	return !f.has(MemHostNoAccess) && !f.has(MemHostWriteOnly)
}

// hostWritable reports whether a buffer with these flags may be written by the host.
func (f MemFlags) hostWritable() bool {
	return !f.has(MemHostNoAccess) && !f.has(MemHostReadOnly)
}

// LocalMem is a kernel argument that requests Size bytes of work-group local
// memory (the __local pointer arguments of a kernel).
type LocalMem int
