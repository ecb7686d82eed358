package extension

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const manifestFileName = "manifest.yaml"

// Manifest represents the extension manifest.yaml structure.
type Manifest struct {
	Name      string     `yaml:"name"`
	Version   string     `yaml:"version"`
	Engine    string     `yaml:"engine"`
	Wasm      WasmConfig `yaml:"wasm"`
	Functions []string   `yaml:"functions"`
	Author    string     `yaml:"author"`
	License   string     `yaml:"license"`

	// Internal fields
	dir string // Directory containing manifest
}

// engineName is the only engine this host accepts in a manifest pin.
const engineName = "limbo"

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file"`

	// Optional SHA-256 pin for the Wasm binary, either bare hex or
	// prefixed "sha256:".
	Checksum string `yaml:"checksum"`
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, manifestFileName)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir

	// Validate manifest
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// ImplicitManifest synthesizes a manifest for a bare .wasm file discovered
// without one. The extension name is the file name without its extension.
func ImplicitManifest(wasmPath string) *Manifest {
	base := filepath.Base(wasmPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return &Manifest{
		Name:    name,
		Version: "0.0.0",
		Wasm:    WasmConfig{File: base},
		dir:     filepath.Dir(wasmPath),
	}
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	// Check required fields
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if m.Version == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: "version is required",
		}
	}

	// Engine is optional; when set it must name this engine.
	if m.Engine != "" && m.Engine != engineName {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "engine",
			Message: fmt.Sprintf("unsupported engine: %s (must be %s)", m.Engine, engineName),
		}
	}

	if m.Wasm.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: "wasm.file is required",
		}
	}

	if m.Wasm.Checksum != "" {
		if _, err := normalizeChecksum(m.Wasm.Checksum); err != nil {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "wasm.checksum",
				Message: err.Error(),
			}
		}
	}

	for _, fn := range m.Functions {
		if fn == "" {
			return &ManifestValidationError{
				Path:    m.Path(),
				Field:   "functions",
				Message: "function names must be non-empty",
			}
		}
	}

	// Validate Wasm file exists
	wasmPath := m.WasmPath()
	if _, err := os.Stat(wasmPath); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

// normalizeChecksum strips the optional scheme prefix and validates the
// remaining hex digest.
func normalizeChecksum(s string) (string, error) {
	digest := strings.ToLower(strings.TrimPrefix(s, "sha256:"))
	if len(digest) != 64 {
		return "", fmt.Errorf("checksum must be 64 hex characters, got %d", len(digest))
	}
	for _, c := range digest {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("checksum contains non-hex character %q", c)
		}
	}
	return digest, nil
}

// Checksum returns the normalized checksum pin, or "" when none is set.
func (m *Manifest) Checksum() string {
	if m.Wasm.Checksum == "" {
		return ""
	}
	digest, err := normalizeChecksum(m.Wasm.Checksum)
	if err != nil {
		return ""
	}
	return digest
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, manifestFileName)
}

// WasmPath returns the absolute path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
