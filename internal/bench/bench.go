// Package bench times elementwise integer addition on the host and on
// compute devices.
package bench

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/clbench/internal/compute"
)

// ErrLengthMismatch is returned when the input sequences differ in length.
var ErrLengthMismatch = errors.New("input sequences differ in length")

// Measure times one call of fn.
func Measure(name string, fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	slog.Debug("Measured", "name", name, "elapsed", elapsed, "error", err)
	return elapsed, err
}

// AddHost accumulates left+right into out, cycles times, on the calling goroutine.
func AddHost(cycles int, left, right, out []int32) error {
	if len(left) != len(right) || len(left) != len(out) {
		return ErrLengthMismatch
	}
	for range cycles {
		for j := range out {
			out[j] += left[j] + right[j]
		}
	}
	return nil
}

// AddDevice runs the add kernel cycles times over len(left) work-items and
// reads the result back into out.
func AddDevice(dev compute.Context, source, options string, cycles int, left, right, out []int32) error {
	if len(left) != len(right) || len(left) != len(out) {
		return ErrLengthMismatch
	}
	if len(left) == 0 {
		return nil
	}

	program, err := dev.BuildProgram(source, options)
	if err != nil {
		return fmt.Errorf("failed to build program: %w", err)
	}
	defer program.Release()

	kernel, err := program.CreateKernel(compute.KernelAdd)
	if err != nil {
		return fmt.Errorf("failed to create kernel: %w", err)
	}
	defer kernel.Release()

	size := len(left) * 4
	in := compute.MemReadOnly | compute.MemCopyHostPtr | compute.MemHostNoAccess

	leftBuf, err := dev.CreateBuffer(in, size, compute.Int32Bytes(left))
	if err != nil {
		return fmt.Errorf("failed to create left buffer: %w", err)
	}
	defer leftBuf.Release()

	rightBuf, err := dev.CreateBuffer(in, size, compute.Int32Bytes(right))
	if err != nil {
		return fmt.Errorf("failed to create right buffer: %w", err)
	}
	defer rightBuf.Release()

	outBuf, err := dev.CreateBuffer(compute.MemReadWrite|compute.MemCopyHostPtr|compute.MemHostReadOnly, size, compute.Int32Bytes(out))
	if err != nil {
		return fmt.Errorf("failed to create output buffer: %w", err)
	}
	defer outBuf.Release()

	for i, b := range []compute.Buffer{leftBuf, rightBuf, outBuf} {
		if err := kernel.SetArg(i, b); err != nil {
			return fmt.Errorf("failed to set kernel argument %d: %w", i, err)
		}
	}

	queue, err := dev.CreateQueue()
	if err != nil {
		return fmt.Errorf("failed to create command queue: %w", err)
	}
	defer queue.Release()

	for range cycles {
		if err := queue.EnqueueNDRange(kernel, len(left), 0); err != nil {
			return fmt.Errorf("failed to enqueue kernel: %w", err)
		}
	}

	if err := queue.EnqueueRead(outBuf, true, 0, compute.Int32Bytes(out)); err != nil {
		return fmt.Errorf("failed to read output: %w", err)
	}
	return nil
}

// Verify reports the first index whose value is not cycles*(left+right).
// Slices of different lengths fail at index 0.
func Verify(cycles int, left, right, out []int32) (int, bool) {
	if len(left) != len(out) || len(right) != len(out) {
		return 0, false
	}
	for i := range out {
		if out[i] != int32(cycles)*(left[i]+right[i]) {
			return i, false
		}
	}
	return -1, true
}
