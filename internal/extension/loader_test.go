package extension

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/rpesk/limbo/internal/wasm"
	"github.com/rpesk/limbo/pkg/abi"
)

// The integration tests run against a handcrafted extension module. It
// registers three scalar functions and implements the whole boundary
// contract with a bump allocator:
//
//	answer() -> integer 42, served from a static record
//	echo(x)  -> returns its first argument's record
//	spin()   -> loops forever, for deadline tests
//
// Guest memory layout: "answer\0" at 8, "echo\0" at 16, "spin\0" at 24,
// the static answer record at 32, allocator heap from 1024.

func section(id byte, contents []byte) []byte {
	out := []byte{id, byte(len(contents))}
	return append(out, contents...)
}

func vec(count byte, items ...[]byte) []byte {
	out := []byte{count}
	for _, item := range items {
		out = append(out, item...)
	}
	return out
}

func name(s string) []byte {
	return append([]byte{byte(len(s))}, s...)
}

func funcBody(code []byte) []byte {
	body := append([]byte{0x00}, code...) // no locals
	return append([]byte{byte(len(body))}, body...)
}

// extensionModuleBytes assembles the test extension with the given entry
// point body.
func extensionModuleBytes(entryBody []byte) []byte {
	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// Types: 0 = (i32,i32,i32)->i32, 1 = (i32)->i32,
	// 2 = (i32,i32)->(), 3 = ()->().
	mod = append(mod, section(0x01, vec(4,
		[]byte{0x60, 0x03, 0x7f, 0x7f, 0x7f, 0x01, 0x7f},
		[]byte{0x60, 0x01, 0x7f, 0x01, 0x7f},
		[]byte{0x60, 0x02, 0x7f, 0x7f, 0x00},
		[]byte{0x60, 0x00, 0x00},
	))...)

	// Import func 0: limbo_host.register_scalar_function (type 0).
	imp := append(name(abi.HostModuleName), name(abi.HostRegisterScalarFunction)...)
	imp = append(imp, 0x00, 0x00)
	mod = append(mod, section(0x02, vec(1, imp))...)

	// Local funcs 1..5: entry, trampoline, allocate, deallocate, marker.
	mod = append(mod, section(0x03, vec(5, []byte{0x01, 0x00, 0x01, 0x02, 0x03}))...)

	// One memory, min 1 page.
	mod = append(mod, section(0x05, vec(1, []byte{0x00, 0x01}))...)

	// Global 0: mutable i32 bump pointer starting at 1024.
	mod = append(mod, section(0x06, vec(1, []byte{0x7f, 0x01, 0x41, 0x80, 0x08, 0x0b}))...)

	exports := [][]byte{
		append(name("memory"), 0x02, 0x00),
		append(name(abi.ExportRegisterExtension), 0x00, 0x01),
		append(name(abi.ExportCallScalarFunction), 0x00, 0x02),
		append(name(abi.ExportAllocate), 0x00, 0x03),
		append(name(abi.ExportDeallocate), 0x00, 0x04),
		append(name(abi.VersionMarkerV1), 0x00, 0x05),
	}
	mod = append(mod, section(0x07, vec(6, exports...))...)

	// Trampoline: route on the handle.
	trampoline := []byte{
		0x20, 0x00, 0x41, 0x01, 0x46, // fn == 1
		0x04, 0x7f, // if (result i32)
		0x41, 0x20, // static record at 32
		0x05,                         // else
		0x20, 0x00, 0x41, 0x02, 0x46, // fn == 2
		0x04, 0x7f, // if (result i32)
		0x20, 0x02, 0x28, 0x02, 0x00, // load argv[0]
		0x05,                         // else
		0x20, 0x00, 0x41, 0x03, 0x46, // fn == 3
		0x04, 0x7f, // if (result i32)
		0x03, 0x40, 0x0c, 0x00, 0x0b, // loop forever
		0x41, 0x00,
		0x05, // else
		0x41, 0x00,
		0x0b, // end
		0x0b, // end
		0x0b, // end
		0x0b, // end body
	}

	// Bump allocator: return the old pointer, advance by size.
	alloc := []byte{
		0x23, 0x00,
		0x23, 0x00, 0x20, 0x00, 0x6a,
		0x24, 0x00,
		0x0b,
	}

	mod = append(mod, section(0x0a, vec(5,
		funcBody(entryBody),
		funcBody(trampoline),
		funcBody(alloc),
		funcBody([]byte{0x0b}), // deallocate: no-op
		funcBody([]byte{0x0b}), // version marker: no-op
	))...)

	record := make([]byte, abi.ValueSize)
	binary.LittleEndian.PutUint32(record[0:], uint32(abi.KindInteger))
	binary.LittleEndian.PutUint64(record[8:], 42)

	mod = append(mod, section(0x0b, vec(4,
		append([]byte{0x00, 0x41, 0x08, 0x0b, 0x07}, "answer\x00"...),
		append([]byte{0x00, 0x41, 0x10, 0x0b, 0x05}, "echo\x00"...),
		append([]byte{0x00, 0x41, 0x18, 0x0b, 0x05}, "spin\x00"...),
		append([]byte{0x00, 0x41, 0x20, 0x0b, byte(len(record))}, record...),
	))...)

	return mod
}

// registeringEntryBody announces answer, echo and spin with handles 1,
// 2 and 3, returning the last registration status.
func registeringEntryBody() []byte {
	return []byte{
		0x20, 0x00, 0x41, 0x08, 0x41, 0x01, 0x10, 0x00, 0x1a, // answer -> 1
		0x20, 0x00, 0x41, 0x10, 0x41, 0x02, 0x10, 0x00, 0x1a, // echo -> 2
		0x20, 0x00, 0x41, 0x18, 0x41, 0x03, 0x10, 0x00, // spin -> 3
		0x0b,
	}
}

// failingEntryBody refuses to initialize.
func failingEntryBody() []byte {
	return []byte{0x41, 0x01, 0x0b} // return 1
}

// markerOnlyModuleBytes carries the version marker but none of the
// boundary exports.
func markerOnlyModuleBytes() []byte {
	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, section(0x01, vec(1, []byte{0x60, 0x00, 0x00}))...)
	mod = append(mod, section(0x03, vec(1, []byte{0x00}))...)
	mod = append(mod, section(0x07, vec(1, append(name(abi.VersionMarkerV1), 0x00, 0x00)))...)
	mod = append(mod, section(0x0a, vec(1, funcBody([]byte{0x0b})))...)
	return mod
}

// unmarkedModuleBytes is a valid module without the version marker.
func unmarkedModuleBytes() []byte {
	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, section(0x05, vec(1, []byte{0x00, 0x01}))...)
	mod = append(mod, section(0x07, vec(1, append(name("memory"), 0x02, 0x00)))...)
	return mod
}

// writeTestExtension writes a manifest extension directory with the given
// wasm bytes and returns its path.
func writeTestExtension(t *testing.T, baseDir, extensionName string, wasmBytes []byte, manifestExtra string) string {
	t.Helper()
	dir := filepath.Join(baseDir, extensionName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create extension dir: %v", err)
	}
	manifest := fmt.Sprintf("name: %s\nversion: 1.0.0\nwasm:\n  file: ext.wasm\n%s", extensionName, manifestExtra)
	if err := os.WriteFile(filepath.Join(dir, manifestFileName), []byte(manifest), 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ext.wasm"), wasmBytes, 0o644); err != nil {
		t.Fatalf("failed to write wasm: %v", err)
	}
	return dir
}

func newTestLoader(t *testing.T) (*Loader, *wasm.Runtime) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	runtime, err := wasm.NewRuntime(context.Background(), logger, wasm.DefaultRuntimeConfig())
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}
	t.Cleanup(func() {
		runtime.Close(context.Background())
	})
	return NewLoader(runtime, newSessionBroker(nil, logger), logger), runtime
}

func TestLoadExtensionEndToEnd(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := writeTestExtension(t, t.TempDir(), "calc", extensionModuleBytes(registeringEntryBody()), "")

	ext, err := loader.LoadExtension(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadExtension failed: %v", err)
	}
	defer ext.Close(context.Background())

	if ext.Name() != "calc" {
		t.Errorf("expected name 'calc', got '%s'", ext.Name())
	}
	if ext.Version() != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", ext.Version())
	}
	if ext.Compiled.ABIVersion != abi.ABIVersionV1 {
		t.Errorf("expected ABI version v1, got %s", ext.Compiled.ABIVersion)
	}

	functions := ext.Functions()
	want := []string{"answer", "echo", "spin"}
	if len(functions) != len(want) {
		t.Fatalf("expected %d functions, got %d", len(want), len(functions))
	}
	for i, fn := range want {
		if functions[i] != fn {
			t.Errorf("expected functions[%d] = '%s', got '%s'", i, fn, functions[i])
		}
	}

	if h, ok := ext.Handle("echo"); !ok || h != 2 {
		t.Errorf("expected handle 2 for 'echo', got %d (ok=%v)", h, ok)
	}
	if ext.Provides("spin") != true {
		t.Error("expected extension to provide 'spin'")
	}
}

func TestCallScalarStaticResult(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := writeTestExtension(t, t.TempDir(), "calc", extensionModuleBytes(registeringEntryBody()), "")

	ext, err := loader.LoadExtension(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadExtension failed: %v", err)
	}
	defer ext.Close(context.Background())

	result, err := ext.Call(context.Background(), "answer", nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}

	v, ok := result.Int64()
	if !ok {
		t.Fatalf("expected integer result, got kind %v", result.Kind())
	}
	if v != 42 {
		t.Errorf("expected 42, got %d", v)
	}
}

func TestCallScalarEchoRoundTrips(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := writeTestExtension(t, t.TempDir(), "calc", extensionModuleBytes(registeringEntryBody()), "")

	ext, err := loader.LoadExtension(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadExtension failed: %v", err)
	}
	defer ext.Close(context.Background())

	tests := []struct {
		name string
		arg  Datum
	}{
		{"null", NullDatum()},
		{"integer", IntegerDatum(-7)},
		{"float", FloatDatum(3.25)},
		{"text", TextDatum("hello, guest")},
		{"empty text", TextDatum("")},
		{"blob", BlobDatum([]byte{0xde, 0xad, 0xbe, 0xef})},
		{"empty blob", BlobDatum(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ext.Call(context.Background(), "echo", []Datum{tt.arg})
			if err != nil {
				t.Fatalf("Call failed: %v", err)
			}

			if result.Kind() != tt.arg.Kind() {
				t.Fatalf("expected kind %v, got %v", tt.arg.Kind(), result.Kind())
			}
			if result.String() != tt.arg.String() {
				t.Errorf("expected '%s', got '%s'", tt.arg.String(), result.String())
			}
		})
	}
}

func TestCallScalarSerializesDispatches(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := writeTestExtension(t, t.TempDir(), "calc", extensionModuleBytes(registeringEntryBody()), "")

	ext, err := loader.LoadExtension(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadExtension failed: %v", err)
	}
	defer ext.Close(context.Background())

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(n int64) {
			result, err := ext.Call(context.Background(), "echo", []Datum{IntegerDatum(n)})
			if err != nil {
				done <- err
				return
			}
			if v, ok := result.Int64(); !ok || v != n {
				done <- fmt.Errorf("echo of %d came back as %s", n, result.String())
				return
			}
			done <- nil
		}(int64(i))
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent call failed: %v", err)
		}
	}
}

func TestCallUnknownFunction(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := writeTestExtension(t, t.TempDir(), "calc", extensionModuleBytes(registeringEntryBody()), "")

	ext, err := loader.LoadExtension(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadExtension failed: %v", err)
	}
	defer ext.Close(context.Background())

	_, err = ext.Call(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("expected error for unknown function")
	}
	if _, ok := err.(*FunctionNotFoundError); !ok {
		t.Fatalf("expected FunctionNotFoundError, got %T", err)
	}
}

func TestLoadExtensionEntryFailure(t *testing.T) {
	loader, runtime := newTestLoader(t)
	dir := writeTestExtension(t, t.TempDir(), "broken", extensionModuleBytes(failingEntryBody()), "")

	_, err := loader.LoadExtension(context.Background(), dir)
	if err == nil {
		t.Fatal("expected error for failing entry point")
	}

	var entryErr *EntryFailedError
	if !errors.As(err, &entryErr) {
		t.Fatalf("expected EntryFailedError in chain, got %v", err)
	}
	if entryErr.Status != abi.ResultError {
		t.Errorf("expected status %d, got %d", abi.ResultError, entryErr.Status)
	}

	// Nothing from the failed load may stay behind.
	if runtime.InstanceCount() != 0 {
		t.Errorf("expected 0 live instances, got %d", runtime.InstanceCount())
	}
}

func TestLoadExtensionWrongABIVersion(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := writeTestExtension(t, t.TempDir(), "ancient", unmarkedModuleBytes(), "")

	_, err := loader.LoadExtension(context.Background(), dir)
	if err == nil {
		t.Fatal("expected error for unmarked module")
	}

	var abiErr *wasm.ABIVersionError
	if !errors.As(err, &abiErr) {
		t.Fatalf("expected ABIVersionError in chain, got %v", err)
	}
	if abiErr.Detected != abi.ABIVersionUnknown {
		t.Errorf("expected detected version unknown, got %s", abiErr.Detected)
	}
}

func TestLoadExtensionMissingExport(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := writeTestExtension(t, t.TempDir(), "hollow", markerOnlyModuleBytes(), "")

	_, err := loader.LoadExtension(context.Background(), dir)
	if err == nil {
		t.Fatal("expected error for module without boundary exports")
	}

	var missingErr *wasm.MissingExportError
	if !errors.As(err, &missingErr) {
		t.Fatalf("expected MissingExportError in chain, got %v", err)
	}
}

func TestLoadExtensionChecksumPin(t *testing.T) {
	loader, _ := newTestLoader(t)
	wasmBytes := extensionModuleBytes(registeringEntryBody())
	digest := sha256.Sum256(wasmBytes)

	t.Run("match", func(t *testing.T) {
		pin := "  checksum: sha256:" + hex.EncodeToString(digest[:]) + "\n"
		dir := writeTestExtension(t, t.TempDir(), "pinned", wasmBytes, pin)

		ext, err := loader.LoadExtension(context.Background(), dir)
		if err != nil {
			t.Fatalf("LoadExtension failed: %v", err)
		}
		ext.Close(context.Background())
	})

	t.Run("mismatch", func(t *testing.T) {
		pin := "  checksum: " + hex.EncodeToString(make([]byte, 32)) + "\n"
		dir := writeTestExtension(t, t.TempDir(), "tampered", wasmBytes, pin)

		_, err := loader.LoadExtension(context.Background(), dir)
		if err == nil {
			t.Fatal("expected error for checksum mismatch")
		}

		var sumErr *ChecksumMismatchError
		if !errors.As(err, &sumErr) {
			t.Fatalf("expected ChecksumMismatchError in chain, got %v", err)
		}
		if sumErr.Got != hex.EncodeToString(digest[:]) {
			t.Errorf("unexpected actual digest in error: %s", sumErr.Got)
		}
	})
}

func TestLoadWasmFileImplicitManifest(t *testing.T) {
	loader, _ := newTestLoader(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "solo.wasm")
	if err := os.WriteFile(path, extensionModuleBytes(registeringEntryBody()), 0o644); err != nil {
		t.Fatalf("failed to write wasm: %v", err)
	}

	ext, err := loader.LoadWasmFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadWasmFile failed: %v", err)
	}
	defer ext.Close(context.Background())

	if ext.Name() != "solo" {
		t.Errorf("expected name 'solo', got '%s'", ext.Name())
	}
	if ext.Version() != "0.0.0" {
		t.Errorf("expected version '0.0.0', got '%s'", ext.Version())
	}
	if !ext.Provides("answer") {
		t.Error("expected implicit extension to provide 'answer'")
	}
}

func TestDiscoverExtensions(t *testing.T) {
	loader, _ := newTestLoader(t)
	base := t.TempDir()

	writeTestExtension(t, base, "calc", extensionModuleBytes(registeringEntryBody()), "")
	if err := os.WriteFile(filepath.Join(base, "solo.wasm"), extensionModuleBytes(registeringEntryBody()), 0o644); err != nil {
		t.Fatalf("failed to write bare wasm: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("failed to write decoy: %v", err)
	}

	extensions, err := loader.DiscoverExtensions(context.Background(), []string{base})
	if err != nil {
		t.Fatalf("DiscoverExtensions failed: %v", err)
	}
	defer func() {
		for _, ext := range extensions {
			ext.Close(context.Background())
		}
	}()

	if len(extensions) != 2 {
		t.Fatalf("expected 2 extensions, got %d", len(extensions))
	}

	names := map[string]bool{}
	for _, ext := range extensions {
		names[ext.Name()] = true
	}
	if !names["calc"] || !names["solo"] {
		t.Errorf("unexpected extension names: %v", names)
	}
}

func TestDiscoverExtensionsNoneFound(t *testing.T) {
	loader, _ := newTestLoader(t)

	_, err := loader.DiscoverExtensions(context.Background(), []string{t.TempDir()})
	if err == nil {
		t.Fatal("expected error for empty extension dir")
	}
	if _, ok := err.(*NoExtensionsFoundError); !ok {
		t.Fatalf("expected NoExtensionsFoundError, got %T", err)
	}
}

func TestDiscoverExtensionsPartialFailure(t *testing.T) {
	loader, _ := newTestLoader(t)
	base := t.TempDir()

	writeTestExtension(t, base, "good", extensionModuleBytes(registeringEntryBody()), "")
	writeTestExtension(t, base, "bad", []byte("not wasm"), "")

	extensions, err := loader.DiscoverExtensions(context.Background(), []string{base})
	if err != nil {
		t.Fatalf("DiscoverExtensions failed: %v", err)
	}
	defer func() {
		for _, ext := range extensions {
			ext.Close(context.Background())
		}
	}()

	if len(extensions) != 1 {
		t.Fatalf("expected 1 extension, got %d", len(extensions))
	}
	if extensions[0].Name() != "good" {
		t.Errorf("expected 'good', got '%s'", extensions[0].Name())
	}
}
