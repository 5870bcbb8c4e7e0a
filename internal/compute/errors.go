package compute

import (
	"errors"
	"fmt"
)

// Status codes follow the OpenCL numbering so both backends report the same
// values for the same failure.
const (
	StatusSuccess                  int32 = 0
	StatusDeviceNotFound           int32 = -1
	StatusDeviceNotAvailable       int32 = -2
	StatusCompilerNotAvailable     int32 = -3
	StatusMemObjectAllocFailure    int32 = -4
	StatusOutOfResources           int32 = -5
	StatusOutOfHostMemory          int32 = -6
	StatusBuildProgramFailure      int32 = -11
	StatusInvalidValue             int32 = -30
	StatusInvalidDeviceType        int32 = -31
	StatusInvalidPlatform          int32 = -32
	StatusInvalidDevice            int32 = -33
	StatusInvalidContext           int32 = -34
	StatusInvalidQueueProperties   int32 = -35
	StatusInvalidCommandQueue      int32 = -36
	StatusInvalidHostPtr           int32 = -37
	StatusInvalidMemObject         int32 = -38
	StatusInvalidBinary            int32 = -42
	StatusInvalidBuildOptions      int32 = -43
	StatusInvalidProgram           int32 = -44
	StatusInvalidProgramExecutable int32 = -45
	StatusInvalidKernelName        int32 = -46
	StatusInvalidKernelDefinition  int32 = -47
	StatusInvalidKernel            int32 = -48
	StatusInvalidArgIndex          int32 = -49
	StatusInvalidArgValue          int32 = -50
	StatusInvalidArgSize           int32 = -51
	StatusInvalidKernelArgs        int32 = -52
	StatusInvalidWorkDimension     int32 = -53
	StatusInvalidWorkGroupSize     int32 = -54
	StatusInvalidWorkItemSize      int32 = -55
	StatusInvalidGlobalOffset      int32 = -56
	StatusInvalidEventWaitList     int32 = -57
	StatusInvalidEvent             int32 = -58
	StatusInvalidOperation         int32 = -59
	StatusInvalidBufferSize        int32 = -61
	StatusInvalidGlobalWorkSize    int32 = -63
)

var statusNames = map[int32]string{
	StatusSuccess:                  "CL_SUCCESS",
	StatusDeviceNotFound:           "CL_DEVICE_NOT_FOUND",
	StatusDeviceNotAvailable:       "CL_DEVICE_NOT_AVAILABLE",
	StatusCompilerNotAvailable:     "CL_COMPILER_NOT_AVAILABLE",
	StatusMemObjectAllocFailure:    "CL_MEM_OBJECT_ALLOCATION_FAILURE",
	StatusOutOfResources:           "CL_OUT_OF_RESOURCES",
	StatusOutOfHostMemory:          "CL_OUT_OF_HOST_MEMORY",
	StatusBuildProgramFailure:      "CL_BUILD_PROGRAM_FAILURE",
	StatusInvalidValue:             "CL_INVALID_VALUE",
	StatusInvalidDeviceType:        "CL_INVALID_DEVICE_TYPE",
	StatusInvalidPlatform:          "CL_INVALID_PLATFORM",
	StatusInvalidDevice:            "CL_INVALID_DEVICE",
	StatusInvalidContext:           "CL_INVALID_CONTEXT",
	StatusInvalidQueueProperties:   "CL_INVALID_QUEUE_PROPERTIES",
	StatusInvalidCommandQueue:      "CL_INVALID_COMMAND_QUEUE",
	StatusInvalidHostPtr:           "CL_INVALID_HOST_PTR",
	StatusInvalidMemObject:         "CL_INVALID_MEM_OBJECT",
	StatusInvalidBinary:            "CL_INVALID_BINARY",
	StatusInvalidBuildOptions:      "CL_INVALID_BUILD_OPTIONS",
	StatusInvalidProgram:           "CL_INVALID_PROGRAM",
	StatusInvalidProgramExecutable: "CL_INVALID_PROGRAM_EXECUTABLE",
	StatusInvalidKernelName:        "CL_INVALID_KERNEL_NAME",
	StatusInvalidKernelDefinition:  "CL_INVALID_KERNEL_DEFINITION",
	StatusInvalidKernel:            "CL_INVALID_KERNEL",
	StatusInvalidArgIndex:          "CL_INVALID_ARG_INDEX",
	StatusInvalidArgValue:          "CL_INVALID_ARG_VALUE",
	StatusInvalidArgSize:           "CL_INVALID_ARG_SIZE",
	StatusInvalidKernelArgs:        "CL_INVALID_KERNEL_ARGS",
	StatusInvalidWorkDimension:     "CL_INVALID_WORK_DIMENSION",
	StatusInvalidWorkGroupSize:     "CL_INVALID_WORK_GROUP_SIZE",
	StatusInvalidWorkItemSize:      "CL_INVALID_WORK_ITEM_SIZE",
	StatusInvalidGlobalOffset:      "CL_INVALID_GLOBAL_OFFSET",
	StatusInvalidEventWaitList:     "CL_INVALID_EVENT_WAIT_LIST",
	StatusInvalidEvent:             "CL_INVALID_EVENT",
	StatusInvalidOperation:         "CL_INVALID_OPERATION",
	StatusInvalidBufferSize:        "CL_INVALID_BUFFER_SIZE",
	StatusInvalidGlobalWorkSize:    "CL_INVALID_GLOBAL_WORK_SIZE",
}

// StatusName returns the symbolic name of a status code.
func StatusName(code int32) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return "CL_UNKNOWN_ERROR"
}

var (
	// ErrNoDevices indicates that no usable devices were found.
	ErrNoDevices = errors.New("no compute devices found")
	// ErrNotBuilt indicates the binary was built without OpenCL support.
	ErrNotBuilt = errors.New("opencl support requires building with '-tags gpu'")
	// ErrUnknownBackend is returned when the name does not match a known backend.
	ErrUnknownBackend = errors.New("unknown compute backend")
)

// Error is the single failure type of the compute layer. Op names the API
// call that failed, Code is its status and Detail carries extra text such
// as a program build log.
type Error struct {
	Op     string
	Code   int32
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (%d)", e.Op, StatusName(e.Code), e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func statusError(op string, code int32) error {
	return &Error{Op: op, Code: code}
}

func statusErrorf(op string, code int32, format string, args ...any) error {
	return &Error{Op: op, Code: code, Detail: fmt.Sprintf(format, args...)}
}

// StatusOf extracts the status code of err, or StatusSuccess when err is nil
// and StatusInvalidValue when err is not a compute error.
func StatusOf(err error) int32 {
	if err == nil {
		return StatusSuccess
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return StatusInvalidValue
}
