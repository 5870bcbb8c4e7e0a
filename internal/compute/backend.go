package compute

import (
	"fmt"
	"strings"
)

// Backend identifies a compute API implementation.
type Backend string

const (
	// BackendHost runs kernels on goroutines inside this process.
	BackendHost Backend = "host"
	// BackendOpenCL drives the system OpenCL runtime (requires '-tags gpu').
	BackendOpenCL Backend = "opencl"
)

// NormalizeBackend maps arbitrary user input to a canonical backend identifier.
func NormalizeBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "host", "cpu", "go":
		return BackendHost
	case "gpu", "opencl", "cl":
		return BackendOpenCL
	default:
		return Backend(name)
	}
}

// SupportedBackends returns the list of backends understood by the factory.
func SupportedBackends() []Backend {
	return []Backend{BackendHost, BackendOpenCL}
}

// Context owns the device-side objects created for one device.
type Context interface {
	Device() DeviceInfo
	BuildProgram(source, options string) (Program, error)
	CreateBuffer(flags MemFlags, size int, host []byte) (Buffer, error)
	CreateQueue() (Queue, error)
	Release()
}

// Program is a compiled kernel source.
type Program interface {
	CreateKernel(name string) (Kernel, error)
	BuildLog() string
	Release()
}

// Kernel is a program entry point with bound arguments. SetArg accepts a
// Buffer, LocalMem, int32, uint32 or float32.
type Kernel interface {
	Name() string
	NumArgs() int
	SetArg(index int, value any) error
	WorkGroupInfo() (WorkGroupInfo, error)
	Release()
}

// Buffer is a region of device memory.
type Buffer interface {
	Size() int
	Flags() MemFlags
	Release()
}

// Queue is an in-order command queue. A local size of 0 lets the
// implementation choose the work-group size.
type Queue interface {
	EnqueueNDRange(k Kernel, global, local int) error
	EnqueueRead(b Buffer, blocking bool, offset int, dst []byte) error
	EnqueueWrite(b Buffer, blocking bool, offset int, src []byte) error
	Finish() error
	Release()
}

// Platforms returns the platforms of a backend with their devices.
func Platforms(b Backend) ([]PlatformInfo, error) {
	switch b {
	case BackendHost:
		return hostPlatforms(), nil
	case BackendOpenCL:
		return openclPlatforms()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, b)
	}
}

// Devices returns every device of a backend, flattened across platforms.
func Devices(b Backend) ([]DeviceInfo, error) {
	platforms, err := Platforms(b)
	if err != nil {
		return nil, err
	}

	var devices []DeviceInfo
	for _, p := range platforms {
		devices = append(devices, p.Devices...)
	}
	return devices, nil
}

// Open creates a context on a device of the backend. A negative index picks
// a device by preference: GPU first, then CPU, then the first device found.
func Open(b Backend, index int) (Context, error) {
	devices, err := Devices(b)
	if err != nil {
		return nil, err
	}

	device, err := SelectDevice(devices, index)
	if err != nil {
		return nil, err
	}

	return OpenDevice(device)
}

// OpenDevice creates a context on a device returned by Devices.
func OpenDevice(device DeviceInfo) (Context, error) {
	switch device.Backend {
	case BackendHost:
		return openHost(device), nil
	case BackendOpenCL:
		return openOpenCL(device)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, device.Backend)
	}
}

// SelectDevice picks a device from a flattened device list.
func SelectDevice(devices []DeviceInfo, index int) (DeviceInfo, error) {
	if len(devices) == 0 {
		return DeviceInfo{}, ErrNoDevices
	}

	if index >= 0 {
		if index >= len(devices) {
			return DeviceInfo{}, fmt.Errorf("device index %d out of range (%d devices)", index, len(devices))
		}
		return devices[index], nil
	}

	// Prefer GPU
	for _, d := range devices {
		if d.Type == DeviceTypeGPU {
			return d, nil
		}
	}

	// Fallback to CPU
	for _, d := range devices {
		if d.Type == DeviceTypeCPU {
			return d, nil
		}
	}

	return devices[0], nil
}
