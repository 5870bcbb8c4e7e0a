package compute

import (
	"fmt"
	"math"
)

// Softening is the distance added in quadrature to every pairwise separation
// by the n-body kernel. kernel.cl defines its square as SOFTENING2.
const Softening = 0.01

const softening2 = float32(Softening * Softening)

type argKind int

const (
	argBuffer argKind = iota
	argLocal
	argInt
	argUint
	argFloat
)

func (k argKind) String() string {
	switch k {
	case argBuffer:
		return "buffer"
	case argLocal:
		return "local memory"
	case argInt:
		return "int32"
	case argUint:
		return "uint32"
	case argFloat:
		return "float32"
	default:
		return "unknown"
	}
}

// convert checks value against the declared kind and returns the value to
// bind, or a status code and detail describing the mismatch.
func (k argKind) convert(value any) (any, int32, string) {
	switch k {
	case argBuffer:
		b, ok := value.(*hostBuffer)
		if !ok || b == nil {
			return nil, StatusInvalidMemObject, fmt.Sprintf("want host buffer, got %T", value)
		}
		if b.released.Load() {
			return nil, StatusInvalidMemObject, "buffer released"
		}
		return b, StatusSuccess, ""
	case argLocal:
		l, ok := value.(LocalMem)
		if !ok {
			return nil, StatusInvalidArgValue, fmt.Sprintf("want LocalMem, got %T", value)
		}
		if l <= 0 || uint64(l) > hostLocalMemSize {
			return nil, StatusInvalidArgSize, fmt.Sprintf("local size %d", int(l))
		}
		return l, StatusSuccess, ""
	case argInt:
		if v, ok := value.(int32); ok {
			return v, StatusSuccess, ""
		}
	case argUint:
		if v, ok := value.(uint32); ok {
			return v, StatusSuccess, ""
		}
	case argFloat:
		if v, ok := value.(float32); ok {
			return v, StatusSuccess, ""
		}
	}
	return nil, StatusInvalidArgValue, fmt.Sprintf("want %s, got %T", k, value)
}

// workGroup is the slice of the NDRange handed to one kernel invocation.
// size is below local only for the last group of an implicit-size dispatch.
type workGroup struct {
	offset int
	size   int
	local  int
	global int
}

type hostKernelDef struct {
	args []argKind
	run  func(args []any, wg workGroup) error
}

var hostKernels = map[string]hostKernelDef{
	KernelAdd: {
		args: []argKind{argBuffer, argBuffer, argBuffer},
		run:  hostAdd,
	},
	KernelNBody: {
		args: []argKind{argBuffer, argBuffer, argUint, argFloat, argFloat, argLocal, argBuffer, argBuffer},
		run:  hostNBody,
	},
}

func outOfBounds(kernel string, format string, args ...any) error {
	return statusErrorf("clEnqueueNDRangeKernel", StatusOutOfResources, kernel+": "+format, args...)
}

func hostAdd(args []any, wg workGroup) error {
	left := BytesAsInt32(args[0].(*hostBuffer).data)
	right := BytesAsInt32(args[1].(*hostBuffer).data)
	output := BytesAsInt32(args[2].(*hostBuffer).data)

	end := wg.offset + wg.size
	if end > len(left) || end > len(right) || end > len(output) {
		return outOfBounds(KernelAdd, "work-item %d outside buffers of %d/%d/%d elements",
			end-1, len(left), len(right), len(output))
	}

	for i := wg.offset; i < end; i++ {
		output[i] += left[i] + right[i]
	}
	return nil
}

func hostNBody(args []any, wg workGroup) error {
	pos := BytesAsFloat32(args[0].(*hostBuffer).data)
	vel := BytesAsFloat32(args[1].(*hostBuffer).data)
	n := int(args[2].(uint32))
	dt := args[3].(float32)
	gravity := args[4].(float32)
	scratch := BytesAsFloat32(args[5].([]byte))
	outPos := BytesAsFloat32(args[6].(*hostBuffer).data)
	outVel := BytesAsFloat32(args[7].(*hostBuffer).data)

	if len(pos) < 4*n || len(outPos) < 4*n || len(vel) < 3*n || len(outVel) < 3*n {
		return outOfBounds(KernelNBody, "buffers too small for %d bodies", n)
	}

	tile := min(wg.local, len(scratch)/4)
	if tile <= 0 {
		return outOfBounds(KernelNBody, "local scratch of %d floats cannot hold a tile", len(scratch))
	}

	first := wg.offset
	last := min(wg.offset+wg.size, n)
	if first >= last {
		return nil
	}

	// out_vel accumulates the velocity update of this group's bodies.
	copy(outVel[3*first:3*last], vel[3*first:3*last])
	scale := gravity * dt

	for base := 0; base < n; base += tile {
		count := min(tile, n-base)
		copy(scratch[:4*count], pos[4*base:4*(base+count)])

		for i := first; i < last; i++ {
			px, py, pz := pos[4*i], pos[4*i+1], pos[4*i+2]
			var ax, ay, az float32
			for k := 0; k < count; k++ {
				q := scratch[4*k : 4*k+4]
				dx, dy, dz := q[0]-px, q[1]-py, q[2]-pz
				inv := float32(1 / math.Sqrt(float64(dx*dx+dy*dy+dz*dz+softening2)))
				s := q[3] * q[3] * q[3] * inv * inv * inv
				ax += dx * s
				ay += dy * s
				az += dz * s
			}
			outVel[3*i] += ax * scale
			outVel[3*i+1] += ay * scale
			outVel[3*i+2] += az * scale
		}
	}

	for i := first; i < last; i++ {
		outPos[4*i] = pos[4*i] + outVel[3*i]*dt
		outPos[4*i+1] = pos[4*i+1] + outVel[3*i+1]*dt
		outPos[4*i+2] = pos[4*i+2] + outVel[3*i+2]*dt
		outPos[4*i+3] = pos[4*i+3]
	}
	return nil
}
