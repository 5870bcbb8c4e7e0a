package compute

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

func TestTypedViews(t *testing.T) {
	ints := []int32{1, -2, 3}
	b := Int32Bytes(ints)
	assert.Len(t, b, 12)

	view := BytesAsInt32(b)
	assert.Equal(t, ints, view)
	view[1] = 7
	assert.Equal(t, int32(7), ints[1], "views share memory")

	floats := []float32{0.5, 1.5}
	assert.Equal(t, floats, BytesAsFloat32(Float32Bytes(floats)))

	assert.Nil(t, Int32Bytes(nil))
	assert.Nil(t, BytesAsFloat32([]byte{1, 2, 3}))
}

func TestAlignedBytes(t *testing.T) {
	for _, size := range []int{1, 7, 8, 13, 4096} {
		b := alignedBytes(size)
		assert.Len(t, b, size)
		assert.Zero(t, uintptr(unsafe.Pointer(&b[0]))%8)
	}
	assert.Nil(t, alignedBytes(0))
}

func TestErrorFormatting(t *testing.T) {
	err := statusErrorf("clBuildProgram", StatusBuildProgramFailure, "line 3: syntax error")
	assert.Equal(t, "clBuildProgram: CL_BUILD_PROGRAM_FAILURE (-11): line 3: syntax error", err.Error())
	assert.Equal(t, "clFinish: CL_UNKNOWN_ERROR (-9999)", statusError("clFinish", -9999).Error())
	assert.Equal(t, StatusSuccess, StatusOf(nil))
	assert.Equal(t, StatusInvalidValue, StatusOf(assert.AnError))
}

func TestSelectDevice(t *testing.T) {
	devices := []DeviceInfo{
		{Name: "acc", Type: DeviceTypeAccelerator},
		{Name: "cpu", Type: DeviceTypeCPU},
		{Name: "gpu", Type: DeviceTypeGPU},
	}

	d, err := SelectDevice(devices, -1)
	assert.NoError(t, err)
	assert.Equal(t, "gpu", d.Name)

	d, err = SelectDevice(devices[:2], -1)
	assert.NoError(t, err)
	assert.Equal(t, "cpu", d.Name)

	d, err = SelectDevice(devices[:1], -1)
	assert.NoError(t, err)
	assert.Equal(t, "acc", d.Name)

	d, err = SelectDevice(devices, 1)
	assert.NoError(t, err)
	assert.Equal(t, "cpu", d.Name)

	_, err = SelectDevice(devices, 3)
	assert.Error(t, err)

	_, err = SelectDevice(nil, -1)
	assert.ErrorIs(t, err, ErrNoDevices)
}

func TestNormalizeBackend(t *testing.T) {
	assert.Equal(t, BackendHost, NormalizeBackend(""))
	assert.Equal(t, BackendHost, NormalizeBackend(" CPU "))
	assert.Equal(t, BackendOpenCL, NormalizeBackend("gpu"))
	assert.Equal(t, BackendOpenCL, NormalizeBackend("OpenCL"))
	assert.Equal(t, Backend("cuda"), NormalizeBackend("cuda"))

	_, err := Platforms("cuda")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
