package compute

import "unsafe"

// Int32Bytes reinterprets v as its native byte representation without copying.
func Int32Bytes(v []int32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}

// Float32Bytes reinterprets v as its native byte representation without copying.
func Float32Bytes(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}

// BytesAsInt32 views b as int32 values. b must be 4-byte aligned; trailing
// bytes that do not form a whole value are ignored.
func BytesAsInt32(b []byte) []int32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// BytesAsFloat32 views b as float32 values. b must be 4-byte aligned.
func BytesAsFloat32(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// alignedBytes allocates size bytes backed by 8-byte words so typed views of
// the result are always aligned.
func alignedBytes(size int) []byte {
	if size <= 0 {
		return nil
	}
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}
