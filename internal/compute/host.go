package compute

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	hostMaxWorkGroupSize  = 1024
	hostPreferredMultiple = 64
	hostLocalMemSize      = 32 * 1024
	// hostImplicitGroup is the work-group size used when a dispatch leaves
	// the local size to the implementation.
	hostImplicitGroup = 4096
)

func hostDevice() DeviceInfo {
	workers := runtime.NumCPU()
	total := hostMemory()

	return DeviceInfo{
		Backend:               BackendHost,
		Platform:              "Go host runtime",
		Index:                 0,
		Name:                  fmt.Sprintf("Go host (%d goroutines)", workers),
		Vendor:                "Go",
		Version:               "host " + runtime.Version(),
		OpenCLCVersion:        "OpenCL C 1.2 (host)",
		Type:                  DeviceTypeCPU,
		MaxComputeUnits:       uint32(workers),
		GlobalMemSize:         total,
		GlobalMemCacheType:    "None",
		LocalMemSize:          hostLocalMemSize,
		LocalMemType:          "Global",
		MaxMemAllocSize:       total / 4,
		MaxWorkGroupSize:      hostMaxWorkGroupSize,
		MaxWorkItemDimensions: 1,
		MaxWorkItemSizes:      []int{hostMaxWorkGroupSize},
		Extensions:            hostExtensions(),
	}
}

func hostPlatforms() []PlatformInfo {
	return []PlatformInfo{{
		Backend: BackendHost,
		Name:    "Go host runtime",
		Vendor:  "Go",
		Version: runtime.Version(),
		Devices: []DeviceInfo{hostDevice()},
	}}
}

type hostContext struct {
	device   DeviceInfo
	workers  int
	released atomic.Bool
}

func openHost(device DeviceInfo) *hostContext {
	workers := int(device.MaxComputeUnits)
	if workers <= 0 {
		workers = 1
	}
	return &hostContext{device: device, workers: workers}
}

func (c *hostContext) Device() DeviceInfo { return c.device }

func (c *hostContext) Release() { c.released.Store(true) }

func (c *hostContext) BuildProgram(source, options string) (Program, error) {
	if c.released.Load() {
		return nil, statusError("clCreateProgramWithSource", StatusInvalidContext)
	}
	if strings.TrimSpace(source) == "" {
		return nil, statusErrorf("clCreateProgramWithSource", StatusInvalidValue, "empty kernel source")
	}
	if err := checkBuildOptions(options); err != nil {
		return nil, err
	}

	var log strings.Builder
	names := KernelNames(source)
	if len(names) == 0 {
		log.WriteString("error: no kernel entry points declared\n")
		return nil, statusErrorf("clBuildProgram", StatusBuildProgramFailure, "%s", strings.TrimSpace(log.String()))
	}

	declared := make(map[string]bool, len(names))
	for _, name := range names {
		declared[name] = true
		if _, ok := hostKernels[name]; !ok {
			fmt.Fprintf(&log, "warning: kernel %q has no host implementation\n", name)
		}
	}

	return &hostProgram{ctx: c, declared: declared, log: log.String()}, nil
}

func checkBuildOptions(options string) error {
	for _, opt := range strings.Fields(options) {
		std, ok := strings.CutPrefix(opt, "-cl-std=")
		if !ok {
			continue
		}
		switch std {
		case "CL1.0", "CL1.1", "CL1.2", "CL2.0", "CL3.0":
		default:
			return statusErrorf("clBuildProgram", StatusInvalidBuildOptions, "unsupported %s", opt)
		}
	}
	return nil
}

func (c *hostContext) CreateBuffer(flags MemFlags, size int, host []byte) (Buffer, error) {
	if c.released.Load() {
		return nil, statusError("clCreateBuffer", StatusInvalidContext)
	}
	if size <= 0 {
		return nil, statusErrorf("clCreateBuffer", StatusInvalidBufferSize, "size %d", size)
	}
	if limit := c.device.MaxMemAllocSize; limit > 0 && uint64(size) > limit {
		return nil, statusErrorf("clCreateBuffer", StatusInvalidBufferSize, "size %d exceeds max allocation %d", size, limit)
	}

	access := 0
	for _, f := range []MemFlags{MemReadWrite, MemWriteOnly, MemReadOnly} {
		if flags.has(f) {
			access++
		}
	}
	if access > 1 {
		return nil, statusErrorf("clCreateBuffer", StatusInvalidValue, "conflicting access flags %#x", uint64(flags))
	}
	if access == 0 {
		flags |= MemReadWrite
	}

	copyHost := flags.has(MemCopyHostPtr)
	switch {
	case copyHost && len(host) < size:
		return nil, statusErrorf("clCreateBuffer", StatusInvalidHostPtr, "host data has %d bytes, need %d", len(host), size)
	case !copyHost && host != nil:
		return nil, statusErrorf("clCreateBuffer", StatusInvalidHostPtr, "host pointer given without copy flag")
	}

	buf := &hostBuffer{flags: flags, data: alignedBytes(size)}
	if copyHost {
		copy(buf.data, host[:size])
	}
	return buf, nil
}

func (c *hostContext) CreateQueue() (Queue, error) {
	if c.released.Load() {
		return nil, statusError("clCreateCommandQueue", StatusInvalidContext)
	}
	return &hostQueue{ctx: c}, nil
}

type hostProgram struct {
	ctx      *hostContext
	declared map[string]bool
	log      string
	released atomic.Bool
}

func (p *hostProgram) BuildLog() string { return p.log }

func (p *hostProgram) Release() { p.released.Store(true) }

func (p *hostProgram) CreateKernel(name string) (Kernel, error) {
	if p.released.Load() {
		return nil, statusError("clCreateKernel", StatusInvalidProgram)
	}
	if !p.declared[name] {
		return nil, statusErrorf("clCreateKernel", StatusInvalidKernelName, "%q", name)
	}
	def, ok := hostKernels[name]
	if !ok {
		return nil, statusErrorf("clCreateKernel", StatusInvalidKernelName, "%q has no host implementation", name)
	}
	return &hostKernel{
		ctx:  p.ctx,
		name: name,
		def:  def,
		args: make([]any, len(def.args)),
	}, nil
}

type hostKernel struct {
	ctx      *hostContext
	name     string
	def      hostKernelDef
	mu       sync.Mutex
	args     []any
	released atomic.Bool
}

func (k *hostKernel) Name() string { return k.name }

func (k *hostKernel) NumArgs() int { return len(k.def.args) }

func (k *hostKernel) Release() { k.released.Store(true) }

func (k *hostKernel) WorkGroupInfo() (WorkGroupInfo, error) {
	if k.released.Load() {
		return WorkGroupInfo{}, statusError("clGetKernelWorkGroupInfo", StatusInvalidKernel)
	}
	maxSize := k.ctx.device.MaxWorkGroupSize
	if maxSize <= 0 {
		maxSize = hostMaxWorkGroupSize
	}
	return WorkGroupInfo{
		MaxSize:           maxSize,
		PreferredMultiple: hostPreferredMultiple,
	}, nil
}

func (k *hostKernel) SetArg(index int, value any) error {
	if k.released.Load() {
		return statusError("clSetKernelArg", StatusInvalidKernel)
	}
	if index < 0 || index >= len(k.def.args) {
		return statusErrorf("clSetKernelArg", StatusInvalidArgIndex, "%s has %d arguments, got index %d", k.name, len(k.def.args), index)
	}

	v, code, detail := k.def.args[index].convert(value)
	if code != StatusSuccess {
		return statusErrorf("clSetKernelArg", code, "%s arg %d: %s", k.name, index, detail)
	}

	k.mu.Lock()
	k.args[index] = v
	k.mu.Unlock()
	return nil
}

// snapshot copies the bound arguments; dispatches see the values bound at
// enqueue time.
func (k *hostKernel) snapshot() ([]any, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	args := make([]any, len(k.args))
	for i, a := range k.args {
		if a == nil {
			return nil, statusErrorf("clEnqueueNDRangeKernel", StatusInvalidKernelArgs, "%s arg %d not set", k.name, i)
		}
		if b, ok := a.(*hostBuffer); ok && b.released.Load() {
			return nil, statusErrorf("clEnqueueNDRangeKernel", StatusInvalidMemObject, "%s arg %d released", k.name, i)
		}
		args[i] = a
	}
	return args, nil
}

type hostBuffer struct {
	flags    MemFlags
	data     []byte
	released atomic.Bool
}

func (b *hostBuffer) Size() int { return len(b.data) }

func (b *hostBuffer) Flags() MemFlags { return b.flags }

func (b *hostBuffer) Release() { b.released.Store(true) }

// hostQueue executes every command eagerly, in submission order.
type hostQueue struct {
	ctx      *hostContext
	mu       sync.Mutex
	released atomic.Bool
}

func (q *hostQueue) Release() { q.released.Store(true) }

func (q *hostQueue) Finish() error {
	if q.released.Load() {
		return statusError("clFinish", StatusInvalidCommandQueue)
	}
	return nil
}

func (q *hostQueue) EnqueueNDRange(k Kernel, global, local int) error {
	const op = "clEnqueueNDRangeKernel"

	if q.released.Load() {
		return statusError(op, StatusInvalidCommandQueue)
	}
	hk, ok := k.(*hostKernel)
	if !ok || hk.released.Load() {
		return statusError(op, StatusInvalidKernel)
	}
	if global <= 0 {
		return statusErrorf(op, StatusInvalidGlobalWorkSize, "global size %d", global)
	}

	if local > 0 {
		info, _ := hk.WorkGroupInfo()
		if local > info.MaxSize {
			return statusErrorf(op, StatusInvalidWorkGroupSize, "local size %d exceeds %d", local, info.MaxSize)
		}
		if global%local != 0 {
			return statusErrorf(op, StatusInvalidWorkGroupSize, "global size %d not a multiple of local size %d", global, local)
		}
	} else {
		local = min(global, hostImplicitGroup)
	}

	args, err := hk.snapshot()
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	groups := (global + local - 1) / local
	workers := min(q.ctx.workers, groups)
	chunk := (groups + workers - 1) / workers

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		first := w * chunk
		last := min(first+chunk, groups)
		if first >= last {
			break
		}

		g.Go(func() error {
			wargs := make([]any, len(args))
			copy(wargs, args)
			for i, a := range wargs {
				if size, ok := a.(LocalMem); ok {
					wargs[i] = alignedBytes(int(size))
				}
			}

			for gi := first; gi < last; gi++ {
				offset := gi * local
				wg := workGroup{
					offset: offset,
					size:   min(local, global-offset),
					local:  local,
					global: global,
				}
				if err := hk.def.run(wargs, wg); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		slog.Debug("Host dispatch failed", "kernel", hk.name, "error", err)
		return err
	}
	return nil
}

func (q *hostQueue) EnqueueRead(b Buffer, blocking bool, offset int, dst []byte) error {
	const op = "clEnqueueReadBuffer"

	buf, err := q.checkTransfer(op, b, offset, len(dst))
	if err != nil {
		return err
	}
	if !buf.flags.hostReadable() {
		return statusErrorf(op, StatusInvalidOperation, "buffer is not host readable")
	}

	q.mu.Lock()
	copy(dst, buf.data[offset:offset+len(dst)])
	q.mu.Unlock()
	return nil
}

func (q *hostQueue) EnqueueWrite(b Buffer, blocking bool, offset int, src []byte) error {
	const op = "clEnqueueWriteBuffer"

	buf, err := q.checkTransfer(op, b, offset, len(src))
	if err != nil {
		return err
	}
	if !buf.flags.hostWritable() {
		return statusErrorf(op, StatusInvalidOperation, "buffer is not host writable")
	}

	q.mu.Lock()
	copy(buf.data[offset:offset+len(src)], src)
	q.mu.Unlock()
	return nil
}

func (q *hostQueue) checkTransfer(op string, b Buffer, offset, n int) (*hostBuffer, error) {
	if q.released.Load() {
		return nil, statusError(op, StatusInvalidCommandQueue)
	}
	buf, ok := b.(*hostBuffer)
	if !ok || buf.released.Load() {
		return nil, statusError(op, StatusInvalidMemObject)
	}
	if offset < 0 || n < 0 || offset+n > len(buf.data) {
		return nil, statusErrorf(op, StatusInvalidValue, "range [%d,%d) outside buffer of %d bytes", offset, offset+n, len(buf.data))
	}
	return buf, nil
}
