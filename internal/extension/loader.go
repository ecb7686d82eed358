package extension

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rpesk/limbo/internal/wasm"
	"github.com/rpesk/limbo/pkg/abi"
)

// Loader handles loading extensions from disk: manifest, compilation,
// instantiation and the registration handshake.
type Loader struct {
	runtime      *wasm.Runtime
	moduleLoader *wasm.ModuleLoader
	instances    *wasm.InstanceManager
	broker       *sessionBroker
	logger       *zap.Logger

	// Entry calls are serialized so at most one registration session is
	// open at a time.
	entryMu sync.Mutex
}

// NewLoader creates a new extension loader. The broker receives every
// registration the loaded extensions announce.
func NewLoader(runtime *wasm.Runtime, broker *sessionBroker, logger *zap.Logger) *Loader {
	hostAPI := wasm.NewHostAPI(broker.registerFunc(), logger)
	return &Loader{
		runtime:      runtime,
		moduleLoader: wasm.NewModuleLoader(runtime, logger),
		instances:    wasm.NewInstanceManager(runtime, hostAPI, logger),
		broker:       broker,
		logger:       logger.With(zap.String("component", "extension-loader")),
	}
}

// LoadExtension loads a single extension from a directory containing a
// manifest.yaml.
func (l *Loader) LoadExtension(ctx context.Context, dir string) (*Extension, error) {
	l.logger.Debug("Loading extension", zap.String("dir", dir))

	// Parse manifest
	manifest, err := ParseManifest(dir)
	if err != nil {
		return nil, err
	}

	return l.loadManifest(ctx, manifest)
}

// LoadWasmFile loads a bare .wasm file under a synthesized manifest.
func (l *Loader) LoadWasmFile(ctx context.Context, path string) (*Extension, error) {
	l.logger.Debug("Loading bare extension module", zap.String("path", path))
	return l.loadManifest(ctx, ImplicitManifest(path))
}

func (l *Loader) loadManifest(ctx context.Context, manifest *Manifest) (*Extension, error) {
	l.logger.Info("Loading extension",
		zap.String("name", manifest.Name),
		zap.String("version", manifest.Version),
	)

	// Compile Wasm module (uses internal caching)
	compiled, err := l.moduleLoader.LoadModuleFromFile(ctx, manifest.WasmPath())
	if err != nil {
		return nil, &ExtensionLoadError{
			ExtensionName: manifest.Name,
			Err:           err,
		}
	}

	// Verify the binary against the manifest pin, if any.
	if pin := manifest.Checksum(); pin != "" && pin != compiled.Checksum {
		return nil, &ExtensionLoadError{
			ExtensionName: manifest.Name,
			Err: &ChecksumMismatchError{
				ExtensionName: manifest.Name,
				Want:          pin,
				Got:           compiled.Checksum,
			},
		}
	}

	// Refuse modules that don't speak this contract revision.
	if compiled.ABIVersion != abi.ABIVersionV1 {
		return nil, &ExtensionLoadError{
			ExtensionName: manifest.Name,
			Err: &wasm.ABIVersionError{
				ModuleName: manifest.Name,
				Detected:   compiled.ABIVersion,
			},
		}
	}

	// All boundary exports must be present before an instance is worth
	// creating.
	for _, export := range []string{
		abi.ExportRegisterExtension,
		abi.ExportCallScalarFunction,
		abi.ExportAllocate,
		abi.ExportDeallocate,
	} {
		if !compiled.HasExport(export) {
			return nil, &ExtensionLoadError{
				ExtensionName: manifest.Name,
				Err:           &wasm.MissingExportError{ModuleName: manifest.Name, Export: export},
			}
		}
	}

	l.entryMu.Lock()
	defer l.entryMu.Unlock()

	instance, err := l.instances.Instantiate(ctx, &wasm.InstanceConfig{
		ModuleName: compiled.Name,
	})
	if err != nil {
		return nil, &ExtensionLoadError{
			ExtensionName: manifest.Name,
			Err:           err,
		}
	}

	session, err := l.broker.begin(manifest.Name)
	if err != nil {
		instance.Close(ctx)
		return nil, &ExtensionLoadError{
			ExtensionName: manifest.Name,
			Err:           err,
		}
	}

	status, entryErr := instance.CallEntry(ctx, session.token)

	// The token dies with the entry call; capability calls arriving
	// after this point are rejected as stale.
	l.broker.end(session)

	if entryErr != nil {
		instance.Close(ctx)
		return nil, &ExtensionLoadError{
			ExtensionName: manifest.Name,
			Err:           entryErr,
		}
	}

	if status != abi.ResultOK {
		instance.Close(ctx)
		return nil, &ExtensionLoadError{
			ExtensionName: manifest.Name,
			Err: &EntryFailedError{
				ExtensionName: manifest.Name,
				Status:        status,
			},
		}
	}

	ext := &Extension{
		Manifest:  manifest,
		Compiled:  compiled,
		LoadedAt:  time.Now(),
		instance:  instance,
		functions: session.functions,
		order:     session.order,
	}

	// Warn when the manifest promises functions the entry point never
	// announced.
	for _, expected := range manifest.Functions {
		if !ext.Provides(expected) {
			l.logger.Warn("Manifest lists a function the extension did not register",
				zap.String("name", manifest.Name),
				zap.String("function", expected),
			)
		}
	}

	l.logger.Info("Extension loaded successfully",
		zap.String("name", manifest.Name),
		zap.Strings("functions", ext.Functions()),
		zap.Int("rejected_registrations", session.rejected),
		zap.Int64("size_bytes", compiled.SizeBytes),
	)

	return ext, nil
}

// DiscoverExtensions scans directories for extensions: subdirectories
// holding a manifest.yaml and bare .wasm files.
func (l *Loader) DiscoverExtensions(ctx context.Context, paths []string) ([]*Extension, error) {
	var extensions []*Extension
	var errs []error

	for _, basePath := range paths {
		l.logger.Debug("Scanning extension directory", zap.String("path", basePath))

		entries, err := os.ReadDir(basePath)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("Extension path does not exist", zap.String("path", basePath))
				continue
			}
			return nil, fmt.Errorf("failed to read directory '%s': %w", basePath, err)
		}

		for _, entry := range entries {
			var ext *Extension
			var loadErr error

			switch {
			case entry.IsDir():
				ext, loadErr = l.LoadExtension(ctx, filepath.Join(basePath, entry.Name()))
			case strings.HasSuffix(entry.Name(), ".wasm"):
				ext, loadErr = l.LoadWasmFile(ctx, filepath.Join(basePath, entry.Name()))
			default:
				continue
			}

			if loadErr != nil {
				l.logger.Error("Failed to load extension",
					zap.String("path", filepath.Join(basePath, entry.Name())),
					zap.Error(loadErr),
				)
				errs = append(errs, loadErr)
				continue
			}

			extensions = append(extensions, ext)
		}
	}

	// If we found some extensions but had errors, log warning but continue
	if len(extensions) > 0 && len(errs) > 0 {
		l.logger.Warn("Some extensions failed to load",
			zap.Int("loaded", len(extensions)),
			zap.Int("failed", len(errs)),
		)
	}

	// If no extensions loaded, return error
	if len(extensions) == 0 {
		return nil, &NoExtensionsFoundError{Paths: paths}
	}

	return extensions, nil
}
