package extension

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	wazeroapi "github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/rpesk/limbo/internal/wasm"
	"github.com/rpesk/limbo/pkg/abi"
)

// registrationSession collects the scalar functions one extension
// announces while its entry point runs. The session token is the only
// credential the guest holds; it is minted per entry call and dies with
// the session.
type registrationSession struct {
	token     uint32
	extension string

	functions map[string]uint32
	order     []string
	rejected  int
}

// sessionBroker routes capability calls to the currently open
// registration session. At most one session is open at a time; the
// loader serializes entry calls.
type sessionBroker struct {
	mu     sync.Mutex
	active *registrationSession

	metrics *Metrics
	logger  *zap.Logger
}

func newSessionBroker(metrics *Metrics, logger *zap.Logger) *sessionBroker {
	return &sessionBroker{
		metrics: metrics,
		logger:  logger.With(zap.String("component", "registration-broker")),
	}
}

// mintToken draws a random nonzero session token. Zero is the null token
// guests must be able to reject, so it is never minted.
func mintToken() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to mint session token: %w", err)
		}
		if t := binary.LittleEndian.Uint32(buf[:]); t != 0 {
			return t, nil
		}
	}
}

// begin opens a registration session for the named extension.
func (b *sessionBroker) begin(extName string) (*registrationSession, error) {
	token, err := mintToken()
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active != nil {
		return nil, fmt.Errorf("registration session for '%s' already open", b.active.extension)
	}

	s := &registrationSession{
		token:     token,
		extension: extName,
		functions: make(map[string]uint32),
	}
	b.active = s
	return s, nil
}

// end closes the session. Its token is invalid from here on; capability
// calls carrying it are rejected as stale.
func (b *sessionBroker) end(s *registrationSession) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == s {
		b.active = nil
	}
}

// capture applies the registration rules to one announcement and records
// it into the open session.
func (b *sessionBroker) capture(token uint32, name string, fn uint32) int32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.active
	if s == nil {
		b.logger.Warn("Capability call outside a registration session",
			zap.String("function", name),
			zap.Uint32("fn", fn),
		)
		b.rejected(nil)
		return abi.ResultError
	}

	if token != s.token {
		b.logger.Warn("Capability call with stale or foreign token",
			zap.String("extension", s.extension),
			zap.String("function", name),
		)
		b.rejected(s)
		return abi.ResultError
	}

	if name == "" {
		b.logger.Warn("Registration with empty function name",
			zap.String("extension", s.extension),
			zap.Uint32("fn", fn),
		)
		b.rejected(s)
		return abi.ResultError
	}

	if fn == abi.NullFunctionHandle {
		b.logger.Warn("Registration with null function handle",
			zap.String("extension", s.extension),
			zap.String("function", name),
		)
		b.rejected(s)
		return abi.ResultError
	}

	if old, dup := s.functions[name]; dup {
		b.logger.Warn("Duplicate registration replaces earlier handle",
			zap.String("extension", s.extension),
			zap.String("function", name),
			zap.Uint32("old_fn", old),
			zap.Uint32("new_fn", fn),
		)
	} else {
		s.order = append(s.order, name)
	}
	s.functions[name] = fn

	b.logger.Debug("Scalar function announced",
		zap.String("extension", s.extension),
		zap.String("function", name),
		zap.Uint32("fn", fn),
	)

	return abi.ResultOK
}

func (b *sessionBroker) rejected(s *registrationSession) {
	if s != nil {
		s.rejected++
	}
	if b.metrics != nil {
		b.metrics.RegistrationsRejected.Inc()
	}
}

// registerFunc adapts the broker to the Wasm layer's capability callback.
// It resolves the announced name out of guest memory before the rules run.
func (b *sessionBroker) registerFunc() wasm.RegisterScalarFunc {
	return func(ctx context.Context, mod wazeroapi.Module, token, namePtr, fn uint32) int32 {
		name, ok := abi.ReadCString(mod.Memory(), namePtr, abi.MaxFunctionNameLen)
		if !ok {
			b.logger.Warn("Registration name unreadable",
				zap.String("module", mod.Name()),
				zap.Uint32("name_ptr", namePtr),
			)
			b.mu.Lock()
			b.rejected(b.active)
			b.mu.Unlock()
			return abi.ResultError
		}
		return b.capture(token, name, fn)
	}
}
