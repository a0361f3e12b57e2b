package biz

import (
	"context"
	"sync"
	"time"

	"hashmatch/internal/pkg/signal"

	"github.com/go-kratos/kratos/v2/log"
)

// EnabledSignalType is a registered type whose enabled ratio is above zero.
type EnabledSignalType struct {
	Type         signal.Type
	EnabledRatio float64
}

// SignalTypeUsecase combines the static registry with enablement ratios
// from configuration and the bank store. Store overrides win over config.
type SignalTypeUsecase struct {
	registry *signal.Registry
	repo     BankRepo
	defaults map[string]float64
	clock    Clock
	ttl      time.Duration
	log      *log.Helper

	mu      sync.RWMutex
	cached  map[string]EnabledSignalType
	expires time.Time
}

// NewSignalTypeUsecase creates a SignalTypeUsecase. defaults are the
// configured enabled ratios; ttl bounds how long store overrides are cached.
func NewSignalTypeUsecase(registry *signal.Registry, repo BankRepo, defaults map[string]float64, clock Clock, ttl time.Duration, logger log.Logger) *SignalTypeUsecase {
	return &SignalTypeUsecase{
		registry: registry,
		repo:     repo,
		defaults: defaults,
		clock:    clock,
		ttl:      ttl,
		log:      log.NewHelper(logger),
	}
}

// Registry returns the underlying registry.
func (uc *SignalTypeUsecase) Registry() *signal.Registry {
	return uc.registry
}

// GetEnabledSignalTypes returns every type whose enabled ratio is non-zero.
func (uc *SignalTypeUsecase) GetEnabledSignalTypes(ctx context.Context) (map[string]EnabledSignalType, error) {
	now := uc.clock.Now()
	uc.mu.RLock()
	if uc.cached != nil && now.Before(uc.expires) {
		out := uc.cached
		uc.mu.RUnlock()
		return out, nil
	}
	uc.mu.RUnlock()

	overrides, err := uc.repo.GetSignalTypeRatios(ctx)
	if err != nil {
		return nil, ErrBankStoreUnavailable.WithCause(err)
	}
	out := make(map[string]EnabledSignalType)
	for name, st := range uc.registry.All() {
		ratio := 1.0
		if r, ok := uc.defaults[name]; ok {
			ratio = r
		}
		if r, ok := overrides[name]; ok {
			ratio = r
		}
		if ratio <= 0 {
			continue
		}
		out[name] = EnabledSignalType{Type: st, EnabledRatio: min(ratio, 1)}
	}

	uc.mu.Lock()
	uc.cached = out
	uc.expires = now.Add(uc.ttl)
	uc.mu.Unlock()
	return out, nil
}

// Lookup resolves name to an enabled type or an ErrInvalidSignal.
func (uc *SignalTypeUsecase) Lookup(ctx context.Context, name string) (EnabledSignalType, error) {
	enabled, err := uc.GetEnabledSignalTypes(ctx)
	if err != nil {
		return EnabledSignalType{}, err
	}
	if st, ok := enabled[name]; ok {
		return st, nil
	}
	if _, ok := uc.registry.Get(name); ok {
		return EnabledSignalType{}, errorf(ErrInvalidSignal, "signal type %q is not enabled", name)
	}
	return EnabledSignalType{}, errorf(ErrInvalidSignal, "unknown signal type %q", name)
}

// SetEnabledRatio stores an override and drops the cached view.
func (uc *SignalTypeUsecase) SetEnabledRatio(ctx context.Context, name string, ratio float64) error {
	if _, ok := uc.registry.Get(name); !ok {
		return errorf(ErrInvalidSignal, "unknown signal type %q", name)
	}
	if err := validateRatio(ratio); err != nil {
		return errorf(ErrInvalidSignal, "enabled ratio %v is outside [0, 1]", ratio)
	}
	if err := uc.repo.SetSignalTypeEnabledRatio(ctx, name, ratio); err != nil {
		return ErrBankStoreUnavailable.WithCause(err)
	}
	uc.log.Infof("signal type %s enabled ratio set to %v", name, ratio)
	uc.Invalidate()
	return nil
}

// Invalidate forces the next call to reread the store.
func (uc *SignalTypeUsecase) Invalidate() {
	uc.mu.Lock()
	uc.cached = nil
	uc.mu.Unlock()
}
