//go:build gpu

package compute

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <stdlib.h>
#include <CL/cl.h>

static cl_command_queue clbench_create_queue(cl_context ctx, cl_device_id device, cl_int *status) {
#if CL_TARGET_OPENCL_VERSION >= 200
	const cl_queue_properties props[] = {0};
	return clCreateCommandQueueWithProperties(ctx, device, props, status);
#else
	return clCreateCommandQueue(ctx, device, 0, status);
#endif
}
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"unsafe"
)

// platformNotFoundKHR is returned by the ICD loader when no platform is installed.
const platformNotFoundKHR = -1001

func clError(op string, status C.cl_int) error {
	return &Error{Op: op, Code: int32(status)}
}

type platformRecord struct {
	id      C.cl_platform_id
	info    PlatformInfo
	devices []deviceRecord
}

type deviceRecord struct {
	id   C.cl_device_id
	info DeviceInfo
}

func openclPlatforms() ([]PlatformInfo, error) {
	records, err := enumeratePlatformRecords()
	if err != nil {
		return nil, err
	}

	out := make([]PlatformInfo, len(records))
	for i, platform := range records {
		out[i] = platform.info
	}
	return out, nil
}

func enumeratePlatformRecords() ([]platformRecord, error) {
	var count C.cl_uint
	status := C.clGetPlatformIDs(0, nil, &count)
	if status == platformNotFoundKHR {
		return nil, nil
	}
	if status != C.CL_SUCCESS {
		return nil, clError("clGetPlatformIDs(count)", status)
	}
	if count == 0 {
		return nil, nil
	}

	platformIDs := make([]C.cl_platform_id, int(count))
	status = C.clGetPlatformIDs(count, &platformIDs[0], nil)
	if status != C.CL_SUCCESS {
		return nil, clError("clGetPlatformIDs(list)", status)
	}

	index := 0
	records := make([]platformRecord, 0, int(count))
	for _, pid := range platformIDs {
		name, err := getPlatformString(pid, C.CL_PLATFORM_NAME)
		if err != nil {
			return nil, err
		}
		vendor, err := getPlatformString(pid, C.CL_PLATFORM_VENDOR)
		if err != nil {
			return nil, err
		}
		version, err := getPlatformString(pid, C.CL_PLATFORM_VERSION)
		if err != nil {
			return nil, err
		}

		rec := platformRecord{
			id: pid,
			info: PlatformInfo{
				Backend: BackendOpenCL,
				Name:    name,
				Vendor:  vendor,
				Version: version,
			},
		}

		devices, err := enumerateDevices(pid)
		if err != nil {
			if errors.Is(err, ErrNoDevices) {
				records = append(records, rec)
				continue
			}
			return nil, err
		}

		rec.info.Devices = make([]DeviceInfo, len(devices))
		for i := range devices {
			devices[i].info.Platform = name
			devices[i].info.Index = index
			index++
			rec.info.Devices[i] = devices[i].info
		}
		rec.devices = devices

		records = append(records, rec)
	}

	return records, nil
}

func enumerateDevices(platform C.cl_platform_id) ([]deviceRecord, error) {
	var count C.cl_uint
	status := C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, 0, nil, &count)
	if status == C.CL_DEVICE_NOT_FOUND {
		return nil, ErrNoDevices
	}
	if status != C.CL_SUCCESS {
		return nil, clError("clGetDeviceIDs(count)", status)
	}
	if count == 0 {
		return nil, ErrNoDevices
	}

	deviceIDs := make([]C.cl_device_id, int(count))
	status = C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_ALL, count, &deviceIDs[0], nil)
	if status != C.CL_SUCCESS {
		return nil, clError("clGetDeviceIDs(list)", status)
	}

	devices := make([]deviceRecord, 0, int(count))
	for _, id := range deviceIDs {
		info, err := buildDeviceInfo(id)
		if err != nil {
			return nil, err
		}
		devices = append(devices, deviceRecord{id: id, info: info})
	}

	return devices, nil
}

func buildDeviceInfo(id C.cl_device_id) (DeviceInfo, error) {
	info := DeviceInfo{Backend: BackendOpenCL}

	var err error
	for _, s := range []struct {
		param C.cl_device_info
		dst   *string
	}{
		{C.CL_DEVICE_NAME, &info.Name},
		{C.CL_DEVICE_VENDOR, &info.Vendor},
		{C.CL_DEVICE_VERSION, &info.Version},
		{C.CL_DEVICE_OPENCL_C_VERSION, &info.OpenCLCVersion},
	} {
		if *s.dst, err = getDeviceString(id, s.param); err != nil {
			return DeviceInfo{}, err
		}
	}

	extensions, err := getDeviceString(id, C.CL_DEVICE_EXTENSIONS)
	if err != nil {
		return DeviceInfo{}, err
	}
	info.Extensions = strings.Fields(extensions)

	var rawType C.cl_device_type
	if err := getDeviceValue(id, C.CL_DEVICE_TYPE, unsafe.Pointer(&rawType), unsafe.Sizeof(rawType)); err != nil {
		return DeviceInfo{}, err
	}
	info.Type = mapDeviceType(rawType)

	var clock, units, cacheLine, dims C.cl_uint
	var memSize, cacheSize, localSize, maxAlloc C.cl_ulong
	var cacheType C.cl_device_mem_cache_type
	var localType C.cl_device_local_mem_type
	var maxGroup C.size_t

	for _, v := range []struct {
		param C.cl_device_info
		ptr   unsafe.Pointer
		size  uintptr
	}{
		{C.CL_DEVICE_MAX_CLOCK_FREQUENCY, unsafe.Pointer(&clock), unsafe.Sizeof(clock)},
		{C.CL_DEVICE_MAX_COMPUTE_UNITS, unsafe.Pointer(&units), unsafe.Sizeof(units)},
		{C.CL_DEVICE_GLOBAL_MEM_SIZE, unsafe.Pointer(&memSize), unsafe.Sizeof(memSize)},
		{C.CL_DEVICE_GLOBAL_MEM_CACHE_SIZE, unsafe.Pointer(&cacheSize), unsafe.Sizeof(cacheSize)},
		{C.CL_DEVICE_GLOBAL_MEM_CACHE_TYPE, unsafe.Pointer(&cacheType), unsafe.Sizeof(cacheType)},
		{C.CL_DEVICE_GLOBAL_MEM_CACHELINE_SIZE, unsafe.Pointer(&cacheLine), unsafe.Sizeof(cacheLine)},
		{C.CL_DEVICE_LOCAL_MEM_SIZE, unsafe.Pointer(&localSize), unsafe.Sizeof(localSize)},
		{C.CL_DEVICE_LOCAL_MEM_TYPE, unsafe.Pointer(&localType), unsafe.Sizeof(localType)},
		{C.CL_DEVICE_MAX_MEM_ALLOC_SIZE, unsafe.Pointer(&maxAlloc), unsafe.Sizeof(maxAlloc)},
		{C.CL_DEVICE_MAX_WORK_GROUP_SIZE, unsafe.Pointer(&maxGroup), unsafe.Sizeof(maxGroup)},
		{C.CL_DEVICE_MAX_WORK_ITEM_DIMENSIONS, unsafe.Pointer(&dims), unsafe.Sizeof(dims)},
	} {
		if err := getDeviceValue(id, v.param, v.ptr, v.size); err != nil {
			return DeviceInfo{}, err
		}
	}

	info.MaxClockFrequency = uint32(clock)
	info.MaxComputeUnits = uint32(units)
	info.GlobalMemSize = uint64(memSize)
	info.GlobalMemCacheSize = uint64(cacheSize)
	info.GlobalMemCacheType = cacheTypeName(cacheType)
	info.GlobalMemCacheLine = uint32(cacheLine)
	info.LocalMemSize = uint64(localSize)
	info.LocalMemType = localTypeName(localType)
	info.MaxMemAllocSize = uint64(maxAlloc)
	info.MaxWorkGroupSize = int(maxGroup)
	info.MaxWorkItemDimensions = uint32(dims)

	if dims > 0 {
		sizes := make([]C.size_t, int(dims))
		if err := getDeviceValue(id, C.CL_DEVICE_MAX_WORK_ITEM_SIZES, unsafe.Pointer(&sizes[0]), uintptr(len(sizes))*unsafe.Sizeof(sizes[0])); err != nil {
			return DeviceInfo{}, err
		}
		info.MaxWorkItemSizes = make([]int, len(sizes))
		for i, s := range sizes {
			info.MaxWorkItemSizes[i] = int(s)
		}
	}

	return info, nil
}

func getDeviceValue(id C.cl_device_id, param C.cl_device_info, ptr unsafe.Pointer, size uintptr) error {
	status := C.clGetDeviceInfo(id, param, C.size_t(size), ptr, nil)
	if status != C.CL_SUCCESS {
		return clError(fmt.Sprintf("clGetDeviceInfo(%#x)", int(param)), status)
	}
	return nil
}

func getPlatformString(id C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var size C.size_t
	status := C.clGetPlatformInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", clError("clGetPlatformInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetPlatformInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", clError("clGetPlatformInfo(value)", status)
	}

	return trimNull(buf), nil
}

func getDeviceString(id C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	status := C.clGetDeviceInfo(id, param, 0, nil, &size)
	if status != C.CL_SUCCESS {
		return "", clError("clGetDeviceInfo(size)", status)
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, int(size))
	status = C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)
	if status != C.CL_SUCCESS {
		return "", clError("clGetDeviceInfo(value)", status)
	}

	return trimNull(buf), nil
}

func trimNull(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	if buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf)
}

func mapDeviceType(dt C.cl_device_type) DeviceType {
	switch {
	case dt&C.CL_DEVICE_TYPE_GPU != 0:
		return DeviceTypeGPU
	case dt&C.CL_DEVICE_TYPE_CPU != 0:
		return DeviceTypeCPU
	case dt&C.CL_DEVICE_TYPE_ACCELERATOR != 0:
		return DeviceTypeAccelerator
	case dt&C.CL_DEVICE_TYPE_DEFAULT != 0:
		return DeviceTypeDefault
	default:
		return DeviceTypeUnknown
	}
}

func cacheTypeName(t C.cl_device_mem_cache_type) string {
	switch t {
	case C.CL_READ_ONLY_CACHE:
		return "Read-Only"
	case C.CL_READ_WRITE_CACHE:
		return "Read-Write"
	default:
		return "None"
	}
}

func localTypeName(t C.cl_device_local_mem_type) string {
	if t == C.CL_LOCAL {
		return "Local"
	}
	return "Global"
}

type openclContext struct {
	device   DeviceInfo
	deviceID C.cl_device_id
	context  C.cl_context
}

func openOpenCL(device DeviceInfo) (Context, error) {
	records, err := enumeratePlatformRecords()
	if err != nil {
		return nil, err
	}

	var id C.cl_device_id
	found := false
	for _, platform := range records {
		for _, d := range platform.devices {
			if d.info.Index == device.Index && d.info.Name == device.Name {
				id = d.id
				found = true
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s (index %d)", ErrNoDevices, device.Name, device.Index)
	}

	var status C.cl_int
	context := C.clCreateContext(nil, 1, &id, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateContext", status)
	}

	slog.Debug("Created OpenCL context", "device", device.Name, "platform", device.Platform)
	return &openclContext{device: device, deviceID: id, context: context}, nil
}

func (c *openclContext) Device() DeviceInfo { return c.device }

func (c *openclContext) Release() {
	if c.context != nil {
		C.clReleaseContext(c.context)
		c.context = nil
	}
}

func (c *openclContext) BuildProgram(source, options string) (Program, error) {
	if c.context == nil {
		return nil, statusError("clCreateProgramWithSource", StatusInvalidContext)
	}

	csrc := C.CString(source)
	defer C.free(unsafe.Pointer(csrc))

	var status C.cl_int
	program := C.clCreateProgramWithSource(c.context, 1, &csrc, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateProgramWithSource", status)
	}

	copts := C.CString(options)
	defer C.free(unsafe.Pointer(copts))

	status = C.clBuildProgram(program, 1, &c.deviceID, copts, nil, nil)
	log := programBuildLog(program, c.deviceID)
	if status != C.CL_SUCCESS {
		C.clReleaseProgram(program)
		return nil, &Error{Op: "clBuildProgram", Code: int32(status), Detail: strings.TrimSpace(log)}
	}

	return &openclProgram{ctx: c, program: program, log: log}, nil
}

func programBuildLog(program C.cl_program, device C.cl_device_id) string {
	var size C.size_t
	if C.clGetProgramBuildInfo(program, device, C.CL_PROGRAM_BUILD_LOG, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return ""
	}
	buf := make([]byte, int(size))
	if C.clGetProgramBuildInfo(program, device, C.CL_PROGRAM_BUILD_LOG, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return trimNull(buf)
}

func (c *openclContext) CreateBuffer(flags MemFlags, size int, host []byte) (Buffer, error) {
	if c.context == nil {
		return nil, statusError("clCreateBuffer", StatusInvalidContext)
	}
	if size <= 0 {
		return nil, statusErrorf("clCreateBuffer", StatusInvalidBufferSize, "size %d", size)
	}

	var ptr unsafe.Pointer
	if host != nil {
		if len(host) < size {
			return nil, statusErrorf("clCreateBuffer", StatusInvalidHostPtr, "host data has %d bytes, need %d", len(host), size)
		}
		if !flags.has(MemCopyHostPtr) {
			return nil, statusErrorf("clCreateBuffer", StatusInvalidHostPtr, "host pointer given without copy flag")
		}
		ptr = unsafe.Pointer(&host[0])
	}

	var status C.cl_int
	mem := C.clCreateBuffer(c.context, C.cl_mem_flags(flags), C.size_t(size), ptr, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateBuffer", status)
	}
	return &openclBuffer{mem: mem, size: size, flags: flags}, nil
}

func (c *openclContext) CreateQueue() (Queue, error) {
	if c.context == nil {
		return nil, statusError("clCreateCommandQueue", StatusInvalidContext)
	}

	var status C.cl_int
	queue := C.clbench_create_queue(c.context, c.deviceID, &status)
	if status != C.CL_SUCCESS {
		return nil, clError("clCreateCommandQueue", status)
	}
	return &openclQueue{queue: queue}, nil
}

type openclProgram struct {
	ctx     *openclContext
	program C.cl_program
	log     string
}

func (p *openclProgram) BuildLog() string { return p.log }

func (p *openclProgram) Release() {
	if p.program != nil {
		C.clReleaseProgram(p.program)
		p.program = nil
	}
}

func (p *openclProgram) CreateKernel(name string) (Kernel, error) {
	if p.program == nil {
		return nil, statusError("clCreateKernel", StatusInvalidProgram)
	}

	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var status C.cl_int
	kernel := C.clCreateKernel(p.program, cname, &status)
	if status != C.CL_SUCCESS {
		return nil, &Error{Op: "clCreateKernel", Code: int32(status), Detail: fmt.Sprintf("%q", name)}
	}

	var nargs C.cl_uint
	status = C.clGetKernelInfo(kernel, C.CL_KERNEL_NUM_ARGS, C.size_t(unsafe.Sizeof(nargs)), unsafe.Pointer(&nargs), nil)
	if status != C.CL_SUCCESS {
		C.clReleaseKernel(kernel)
		return nil, clError("clGetKernelInfo(numArgs)", status)
	}

	return &openclKernel{kernel: kernel, deviceID: p.ctx.deviceID, name: name, nargs: int(nargs)}, nil
}

type openclKernel struct {
	kernel   C.cl_kernel
	deviceID C.cl_device_id
	name     string
	nargs    int
}

func (k *openclKernel) Name() string { return k.name }

func (k *openclKernel) NumArgs() int { return k.nargs }

func (k *openclKernel) Release() {
	if k.kernel != nil {
		C.clReleaseKernel(k.kernel)
		k.kernel = nil
	}
}

func (k *openclKernel) SetArg(index int, value any) error {
	if k.kernel == nil {
		return statusError("clSetKernelArg", StatusInvalidKernel)
	}

	var status C.cl_int
	idx := C.cl_uint(index)
	switch v := value.(type) {
	case *openclBuffer:
		if v == nil || v.mem == nil {
			return statusErrorf("clSetKernelArg", StatusInvalidMemObject, "%s arg %d", k.name, index)
		}
		mem := v.mem
		status = C.clSetKernelArg(k.kernel, idx, C.size_t(unsafe.Sizeof(mem)), unsafe.Pointer(&mem))
	case LocalMem:
		status = C.clSetKernelArg(k.kernel, idx, C.size_t(v), nil)
	case int32:
		x := C.cl_int(v)
		status = C.clSetKernelArg(k.kernel, idx, C.size_t(unsafe.Sizeof(x)), unsafe.Pointer(&x))
	case uint32:
		x := C.cl_uint(v)
		status = C.clSetKernelArg(k.kernel, idx, C.size_t(unsafe.Sizeof(x)), unsafe.Pointer(&x))
	case float32:
		x := C.cl_float(v)
		status = C.clSetKernelArg(k.kernel, idx, C.size_t(unsafe.Sizeof(x)), unsafe.Pointer(&x))
	default:
		return statusErrorf("clSetKernelArg", StatusInvalidArgValue, "%s arg %d: unsupported type %T", k.name, index, value)
	}

	if status != C.CL_SUCCESS {
		return &Error{Op: "clSetKernelArg", Code: int32(status), Detail: fmt.Sprintf("%s arg %d", k.name, index)}
	}
	return nil
}

func (k *openclKernel) WorkGroupInfo() (WorkGroupInfo, error) {
	if k.kernel == nil {
		return WorkGroupInfo{}, statusError("clGetKernelWorkGroupInfo", StatusInvalidKernel)
	}

	var maxSize, multiple C.size_t
	var localMem C.cl_ulong
	for _, v := range []struct {
		param C.cl_kernel_work_group_info
		ptr   unsafe.Pointer
		size  uintptr
	}{
		{C.CL_KERNEL_WORK_GROUP_SIZE, unsafe.Pointer(&maxSize), unsafe.Sizeof(maxSize)},
		{C.CL_KERNEL_PREFERRED_WORK_GROUP_SIZE_MULTIPLE, unsafe.Pointer(&multiple), unsafe.Sizeof(multiple)},
		{C.CL_KERNEL_LOCAL_MEM_SIZE, unsafe.Pointer(&localMem), unsafe.Sizeof(localMem)},
	} {
		status := C.clGetKernelWorkGroupInfo(k.kernel, k.deviceID, v.param, C.size_t(v.size), v.ptr, nil)
		if status != C.CL_SUCCESS {
			return WorkGroupInfo{}, clError("clGetKernelWorkGroupInfo", status)
		}
	}

	return WorkGroupInfo{
		MaxSize:           int(maxSize),
		PreferredMultiple: int(multiple),
		LocalMemSize:      uint64(localMem),
	}, nil
}

type openclBuffer struct {
	mem   C.cl_mem
	size  int
	flags MemFlags
}

func (b *openclBuffer) Size() int { return b.size }

func (b *openclBuffer) Flags() MemFlags { return b.flags }

func (b *openclBuffer) Release() {
	if b.mem != nil {
		C.clReleaseMemObject(b.mem)
		b.mem = nil
	}
}

// openclQueue pins the host memory of non-blocking transfers until Finish.
type openclQueue struct {
	queue  C.cl_command_queue
	mu     sync.Mutex
	pinner runtime.Pinner
}

func (q *openclQueue) Release() {
	if q.queue != nil {
		C.clFinish(q.queue)
		C.clReleaseCommandQueue(q.queue)
		q.queue = nil
	}
	q.pinner.Unpin()
}

func (q *openclQueue) Finish() error {
	if q.queue == nil {
		return statusError("clFinish", StatusInvalidCommandQueue)
	}
	status := C.clFinish(q.queue)

	q.mu.Lock()
	q.pinner.Unpin()
	q.mu.Unlock()

	if status != C.CL_SUCCESS {
		return clError("clFinish", status)
	}
	return nil
}

func (q *openclQueue) EnqueueNDRange(k Kernel, global, local int) error {
	const op = "clEnqueueNDRangeKernel"

	if q.queue == nil {
		return statusError(op, StatusInvalidCommandQueue)
	}
	ck, ok := k.(*openclKernel)
	if !ok || ck.kernel == nil {
		return statusError(op, StatusInvalidKernel)
	}
	if global <= 0 {
		return statusErrorf(op, StatusInvalidGlobalWorkSize, "global size %d", global)
	}

	g := C.size_t(global)
	var lp *C.size_t
	if local > 0 {
		l := C.size_t(local)
		lp = &l
	}

	status := C.clEnqueueNDRangeKernel(q.queue, ck.kernel, 1, nil, &g, lp, 0, nil, nil)
	if status != C.CL_SUCCESS {
		return &Error{Op: op, Code: int32(status), Detail: fmt.Sprintf("%s global=%d local=%d", ck.name, global, local)}
	}
	return nil
}

func (q *openclQueue) EnqueueRead(b Buffer, blocking bool, offset int, dst []byte) error {
	const op = "clEnqueueReadBuffer"

	buf, err := q.checkTransfer(op, b, offset, len(dst))
	if err != nil || len(dst) == 0 {
		return err
	}

	block := q.pin(blocking, &dst[0])
	status := C.clEnqueueReadBuffer(q.queue, buf.mem, block, C.size_t(offset), C.size_t(len(dst)), unsafe.Pointer(&dst[0]), 0, nil, nil)
	if status != C.CL_SUCCESS {
		return clError(op, status)
	}
	return nil
}

func (q *openclQueue) EnqueueWrite(b Buffer, blocking bool, offset int, src []byte) error {
	const op = "clEnqueueWriteBuffer"

	buf, err := q.checkTransfer(op, b, offset, len(src))
	if err != nil || len(src) == 0 {
		return err
	}

	block := q.pin(blocking, &src[0])
	status := C.clEnqueueWriteBuffer(q.queue, buf.mem, block, C.size_t(offset), C.size_t(len(src)), unsafe.Pointer(&src[0]), 0, nil, nil)
	if status != C.CL_SUCCESS {
		return clError(op, status)
	}
	return nil
}

func (q *openclQueue) pin(blocking bool, p *byte) C.cl_bool {
	if blocking {
		return C.CL_TRUE
	}
	q.mu.Lock()
	q.pinner.Pin(p)
	q.mu.Unlock()
	return C.CL_FALSE
}

func (q *openclQueue) checkTransfer(op string, b Buffer, offset, n int) (*openclBuffer, error) {
	if q.queue == nil {
		return nil, statusError(op, StatusInvalidCommandQueue)
	}
	buf, ok := b.(*openclBuffer)
	if !ok || buf.mem == nil {
		return nil, statusError(op, StatusInvalidMemObject)
	}
	if offset < 0 || offset+n > buf.size {
		return nil, statusErrorf(op, StatusInvalidValue, "range [%d,%d) outside buffer of %d bytes", offset, offset+n, buf.size)
	}
	return buf, nil
}
