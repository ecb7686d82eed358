package wasm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zapio"

	"github.com/rpesk/limbo/pkg/abi"
)

// InstanceManager creates and manages module instances.
type InstanceManager struct {
	runtime *Runtime
	logger  *zap.Logger
	hostAPI *HostAPI

	// The capability module is published into the runtime once, before
	// the first guest instantiation.
	hostOnce sync.Once
	hostErr  error
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostAPI *HostAPI, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime: runtime,
		hostAPI: hostAPI,
		logger:  logger.With(zap.String("component", "wasm-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, generates UUID).
	InstanceID string
}

// Instance represents an instantiated Wasm module.
type Instance struct {
	// wazero module instance.
	module api.Module

	// Instance metadata.
	ID        string
	Name      string
	CreatedAt time.Time

	// Exported boundary functions (cached for performance).
	exports map[string]api.Function

	runtime *Runtime

	// Guest stdio is forwarded to the host logger; the writers buffer
	// partial lines until Close.
	stdout *zapio.Writer
	stderr *zapio.Writer

	closeOnce sync.Once
}

// Boundary function exports cached on instantiation.
var boundaryExports = []string{
	abi.ExportRegisterExtension,
	abi.ExportCallScalarFunction,
	abi.ExportAllocate,
	abi.ExportDeallocate,
}

// Instantiate creates a new instance from a compiled module.
// The capability module is made importable, WASI is already available,
// and the module's _initialize export runs before this returns.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	// Get compiled module from cache.
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	// Generate instance ID if not provided.
	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	m.logger.Info("Instantiating Wasm module",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	// Publish the capability module on first use.
	m.hostOnce.Do(func() {
		m.hostErr = m.hostAPI.instantiate(ctx, m.runtime)
	})
	if m.hostErr != nil {
		return nil, fmt.Errorf("failed to instantiate host module: %w", m.hostErr)
	}

	guestLog := m.logger.With(
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)
	stdout := &zapio.Writer{Log: guestLog, Level: zapcore.DebugLevel}
	stderr := &zapio.Writer{Log: guestLog, Level: zapcore.WarnLevel}

	// Instantiate the guest module. Start functions are suppressed so
	// initialization failures surface here with module context instead
	// of inside wazero.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStdout(stdout).
		WithStderr(stderr).
		WithStartFunctions()

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	// Reactor modules (wasip1 c-shared) export _initialize to run their
	// runtime setup; exports are not callable before it completes.
	if init := module.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			module.Close(ctx)
			stdout.Close()
			stderr.Close()
			return nil, &InstantiationError{
				ModuleName: config.ModuleName,
				InstanceID: instanceID,
				Err:        fmt.Errorf("_initialize failed: %w", err),
			}
		}
	}

	// Cache exported boundary functions.
	exports := cacheExportedFunctions(module)

	// Create instance wrapper.
	instance := &Instance{
		module:    module,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now(),
		exports:   exports,
		runtime:   m.runtime,
		stdout:    stdout,
		stderr:    stderr,
	}

	// Track active instance.
	if err := m.runtime.StoreInstance(instanceID, instance); err != nil {
		instance.Close(ctx)
		return nil, err
	}

	m.logger.Info("Module instantiated successfully",
		zap.String("instance_id", instanceID),
		zap.Int("boundary_functions", len(exports)),
	)

	return instance, nil
}

// cacheExportedFunctions caches references to exported boundary functions.
// This improves performance by avoiding repeated lookups.
func cacheExportedFunctions(module api.Module) map[string]api.Function {
	exports := make(map[string]api.Function)
	for _, name := range boundaryExports {
		if fn := module.ExportedFunction(name); fn != nil {
			exports[name] = fn
		}
	}
	return exports
}

// Close closes the instance and releases resources.
// Safe to call multiple times.
func (i *Instance) Close(ctx context.Context) error {
	var err error
	i.closeOnce.Do(func() {
		err = i.module.Close(ctx)
		i.stdout.Close()
		i.stderr.Close()
		if i.runtime != nil {
			i.runtime.DeleteInstance(i.ID)
		}
	})
	return err
}

// HasExport reports whether the instance has the named export.
func (i *Instance) HasExport(name string) bool {
	return i.module.ExportedFunction(name) != nil
}

// Memory returns a helper over the instance's linear memory.
func (i *Instance) Memory() *Memory {
	return NewMemory(i)
}

// Module exposes the underlying wazero module.
func (i *Instance) Module() api.Module {
	return i.module
}

func (i *Instance) export(name string) (api.Function, error) {
	fn, ok := i.exports[name]
	if !ok {
		return nil, &MissingExportError{ModuleName: i.Name, Export: name}
	}
	return fn, nil
}

// CallEntry invokes the module's entry point with the registration token.
// Returns the guest's status verbatim.
func (i *Instance) CallEntry(ctx context.Context, token uint32) (int32, error) {
	fn, err := i.export(abi.ExportRegisterExtension)
	if err != nil {
		return abi.ResultError, err
	}
	res, err := fn.Call(ctx, uint64(token))
	if err != nil {
		return abi.ResultError, &CallError{ModuleName: i.Name, Function: abi.ExportRegisterExtension, Err: err}
	}
	return api.DecodeI32(res[0]), nil
}

// CallScalar invokes the module's dispatch trampoline. Returns the guest
// pointer to the encoded result record.
func (i *Instance) CallScalar(ctx context.Context, fn uint32, argc int32, argv uint32) (uint32, error) {
	f, err := i.export(abi.ExportCallScalarFunction)
	if err != nil {
		return 0, err
	}
	res, err := f.Call(ctx, uint64(fn), api.EncodeI32(argc), uint64(argv))
	if err != nil {
		return 0, &CallError{ModuleName: i.Name, Function: abi.ExportCallScalarFunction, Err: err}
	}
	return uint32(res[0]), nil
}

// Allocate asks the guest allocator for size bytes of guest memory.
func (i *Instance) Allocate(ctx context.Context, size uint32) (uint32, error) {
	fn, err := i.export(abi.ExportAllocate)
	if err != nil {
		return 0, err
	}
	res, err := fn.Call(ctx, uint64(size))
	if err != nil {
		return 0, &CallError{ModuleName: i.Name, Function: abi.ExportAllocate, Err: err}
	}
	return uint32(res[0]), nil
}

// Deallocate returns guest memory obtained from Allocate or handed over
// by the guest.
func (i *Instance) Deallocate(ctx context.Context, ptr, size uint32) error {
	fn, err := i.export(abi.ExportDeallocate)
	if err != nil {
		return err
	}
	if _, err := fn.Call(ctx, uint64(ptr), uint64(size)); err != nil {
		return &CallError{ModuleName: i.Name, Function: abi.ExportDeallocate, Err: err}
	}
	return nil
}
