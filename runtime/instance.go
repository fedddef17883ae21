package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	bridge "github.com/wippyai/simplicity-bridge"
	"github.com/wippyai/simplicity-bridge/errors"
)

// Instance is a compiler module running in its own wazero runtime.
type Instance struct {
	runtime wazero.Runtime
	mod     api.Module
	binding *Binding
	memory  *guestMemory

	malloc         api.Function
	free           api.Function
	compile        api.Function
	compileWitness api.Function
	stackPtr       api.Function

	version string

	// mu keeps guest memory single-threaded; Close does not take it so a
	// teardown can interrupt a running call.
	mu        sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ Handle = (*Instance)(nil)

// Version returns the payload version this instance was created from.
func (i *Instance) Version() string { return i.version }

// WitnessAware reports whether the module exports a two-string
// compile_with_witness that the glue code calls.
func (i *Instance) WitnessAware() bool { return i.compileWitness != nil }

// Binding returns the glue binding negotiated at instantiation.
func (i *Instance) Binding() *Binding { return i.binding }

// Closed reports whether the instance was closed, either explicitly or by
// wazero after a cancelled call.
func (i *Instance) Closed() bool {
	return i.closed.Load() || i.mod.IsClosed()
}

// Invoke passes the call to compile_simplicity, or to compile_with_witness
// when a witness is present and the module accepts one, and returns the
// response text. A trap, a throw, or a cancelled context is an
// InvocationFailure.
func (i *Instance) Invoke(ctx context.Context, call Call) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.Closed() {
		return "", errors.SessionClosed()
	}

	alloc := &allocator{ctx: ctx, inst: i}
	args := make([]uint64, 0, 4)

	ptr, n, err := i.passString(alloc, call.Source)
	if err != nil {
		return "", i.invocationError(ctx, "pass source", err)
	}
	args = append(args, uint64(ptr), uint64(n))

	fn, conv := i.compile, i.binding.Compile
	if call.Witness != nil && i.compileWitness != nil {
		ptr, n, err := i.passString(alloc, string(call.Witness))
		if err != nil {
			return "", i.invocationError(ctx, "pass witness", err)
		}
		args = append(args, uint64(ptr), uint64(n))
		fn, conv = i.compileWitness, i.binding.Witness
	}

	rptr, rlen, err := i.call(ctx, fn, conv, args)
	if err != nil {
		return "", i.invocationError(ctx, "call "+fn.Definition().Name(), err)
	}

	out, err := i.memory.Read(rptr, rlen)
	if err != nil {
		return "", i.invocationError(ctx, "read response", err)
	}
	text := string(out)
	alloc.Free(rptr, rlen, 1)

	return text, nil
}

// Probe compiles an empty program and checks the answer is JSON.
func (i *Instance) Probe(ctx context.Context) error {
	text, err := i.Invoke(ctx, Call{})
	if err != nil {
		return err
	}
	if !json.Valid([]byte(text)) {
		return errors.Invocation("probe returned non-JSON output", nil)
	}
	return nil
}

// Close releases the instance and its runtime. A call in progress is
// aborted.
func (i *Instance) Close(ctx context.Context) error {
	var err error
	i.closeOnce.Do(func() {
		i.closed.Store(true)
		err = i.runtime.Close(ctx)
		Logger().Debug("module instance closed", zap.String("version", i.version))
	})
	return err
}

func (i *Instance) call(ctx context.Context, fn api.Function, conv Convention, args []uint64) (uint32, uint32, error) {
	switch conv {
	case MultiValue:
		res, err := fn.Call(ctx, args...)
		if err != nil {
			return 0, 0, err
		}
		return api.DecodeU32(res[0]), api.DecodeU32(res[1]), nil

	case ReturnPointer:
		res, err := i.stackPtr.Call(ctx, api.EncodeI32(-16))
		if err != nil {
			return 0, 0, err
		}
		retptr := api.DecodeU32(res[0])
		defer func() { _, _ = i.stackPtr.Call(ctx, api.EncodeI32(16)) }()

		if _, err := fn.Call(ctx, append([]uint64{uint64(retptr)}, args...)...); err != nil {
			return 0, 0, err
		}
		words, err := i.memory.Read(retptr, 8)
		if err != nil {
			return 0, 0, err
		}
		return le32(words[0:4]), le32(words[4:8]), nil

	case Packed:
		res, err := fn.Call(ctx, args...)
		if err != nil {
			return 0, 0, err
		}
		return uint32(res[0] >> 32), uint32(res[0]), nil
	}
	return 0, 0, fmt.Errorf("unsupported calling convention %s", conv)
}

// passString copies s into guest memory. Ownership passes to the module,
// as wasm-bindgen does for &str arguments.
func (i *Instance) passString(alloc *allocator, s string) (uint32, uint32, error) {
	ptr, err := alloc.Alloc(uint32(len(s)), 1)
	if err != nil {
		return 0, 0, err
	}
	if err := i.memory.Write(ptr, []byte(s)); err != nil {
		return 0, 0, err
	}
	return ptr, uint32(len(s)), nil
}

func (i *Instance) invocationError(ctx context.Context, detail string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Invocation(detail+": "+ctxErr.Error(), err)
	}
	if i.Closed() {
		return errors.Invocation(detail+": instance closed", err)
	}
	return errors.Invocation(detail, err)
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// guestMemory adapts wazero memory to the bridge Memory interface.
type guestMemory struct {
	mem api.Memory
}

var _ bridge.Memory = (*guestMemory)(nil)

func (m *guestMemory) Read(offset, length uint32) ([]byte, error) {
	b, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read %d bytes at %#x: out of range (memory is %d bytes)", length, offset, m.mem.Size())
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (m *guestMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("write %d bytes at %#x: out of range (memory is %d bytes)", len(data), offset, m.mem.Size())
	}
	return nil
}

func (m *guestMemory) Size() uint32 {
	return m.mem.Size()
}

// allocator calls the module's wasm-bindgen allocator within one call.
type allocator struct {
	ctx  context.Context
	inst *Instance
}

var _ bridge.Allocator = (*allocator)(nil)

func (a *allocator) Alloc(size, align uint32) (uint32, error) {
	args := []uint64{uint64(size)}
	if a.inst.binding.MallocArity == 2 {
		args = append(args, uint64(align))
	}
	res, err := a.inst.malloc.Call(a.ctx, args...)
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(res[0])
	if ptr == 0 && size > 0 {
		return 0, fmt.Errorf("%s returned null for %d bytes", bridge.ExportMalloc, size)
	}
	return ptr, nil
}

func (a *allocator) Free(ptr, size, align uint32) {
	if a.inst.free == nil || ptr == 0 {
		return
	}
	args := []uint64{uint64(ptr), uint64(size)}
	if a.inst.binding.FreeArity == 3 {
		args = append(args, uint64(align))
	}
	if _, err := a.inst.free.Call(a.ctx, args...); err != nil {
		Logger().Warn("free failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}
