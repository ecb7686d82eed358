package extension

import (
	"sync"

	"go.uber.org/zap"
)

// Registry manages loaded extensions and the scalar function namespace
// they share.
type Registry struct {
	sync.RWMutex
	extensions map[string]*Extension // name -> extension
	functions  map[string]*Extension // function name -> providing extension
	logger     *zap.Logger
}

// NewRegistry creates a new extension registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		extensions: make(map[string]*Extension),
		functions:  make(map[string]*Extension),
		logger:     logger.With(zap.String("component", "extension-registry")),
	}
}

// Register adds an extension to the registry and binds its scalar
// functions. Function name collisions across extensions are first-wins:
// the earlier binding stays and the newcomer's is skipped with a warning.
func (r *Registry) Register(ext *Extension) error {
	r.Lock()
	defer r.Unlock()

	name := ext.Name()

	// Check for duplicates
	if _, exists := r.extensions[name]; exists {
		return &ExtensionAlreadyRegisteredError{ExtensionName: name}
	}

	r.extensions[name] = ext

	bound := 0
	for _, fn := range ext.Functions() {
		if holder, taken := r.functions[fn]; taken {
			r.logger.Warn("Scalar function name already bound, keeping earlier binding",
				zap.String("function", fn),
				zap.String("bound_to", holder.Name()),
				zap.String("skipped", name),
			)
			continue
		}
		r.functions[fn] = ext
		bound++
	}

	r.logger.Info("Extension registered",
		zap.String("name", name),
		zap.Int("functions_bound", bound),
	)

	return nil
}

// Get retrieves an extension by name.
func (r *Registry) Get(name string) (*Extension, bool) {
	r.RLock()
	defer r.RUnlock()

	ext, ok := r.extensions[name]
	return ext, ok
}

// Resolve finds the extension providing a scalar function.
func (r *Registry) Resolve(function string) (*Extension, bool) {
	r.RLock()
	defer r.RUnlock()

	ext, ok := r.functions[function]
	return ext, ok
}

// List returns all registered extensions.
func (r *Registry) List() []*Extension {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Extension, 0, len(r.extensions))
	for _, ext := range r.extensions {
		result = append(result, ext)
	}
	return result
}

// Functions returns all bound scalar function names.
func (r *Registry) Functions() []string {
	r.RLock()
	defer r.RUnlock()

	result := make([]string, 0, len(r.functions))
	for fn := range r.functions {
		result = append(result, fn)
	}
	return result
}

// Unregister removes an extension and unbinds the functions it holds.
func (r *Registry) Unregister(name string) {
	r.Lock()
	defer r.Unlock()

	ext, ok := r.extensions[name]
	if !ok {
		return
	}

	// Only unbind functions still pointing at this extension; a name
	// lost to first-wins belongs to someone else.
	for fn, holder := range r.functions {
		if holder == ext {
			delete(r.functions, fn)
		}
	}

	delete(r.extensions, name)

	r.logger.Info("Extension unregistered", zap.String("name", name))
}

// Count returns the number of registered extensions.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.extensions)
}

// FunctionCount returns the number of bound scalar functions.
func (r *Registry) FunctionCount() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.functions)
}
