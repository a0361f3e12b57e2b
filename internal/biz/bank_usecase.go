package biz

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// BankUsecase validates and applies writes to the bank store and keeps
// the match-side caches coherent with them.
type BankUsecase struct {
	repo        BankRepo
	signalTypes *SignalTypeUsecase
	policies    *PolicyCache
	log         *log.Helper
}

// NewBankUsecase creates a BankUsecase.
func NewBankUsecase(repo BankRepo, signalTypes *SignalTypeUsecase, policies *PolicyCache, logger log.Logger) *BankUsecase {
	return &BankUsecase{
		repo:        repo,
		signalTypes: signalTypes,
		policies:    policies,
		log:         log.NewHelper(logger),
	}
}

// CreateBank creates an enabled bank. A zero ratio in b is stored as is.
func (uc *BankUsecase) CreateBank(ctx context.Context, b *Bank) (*Bank, error) {
	if err := ValidateBankName(b.Name); err != nil {
		return nil, err
	}
	if err := validateRatio(b.MatchingEnabledRatio); err != nil {
		return nil, err
	}
	existing, err := uc.repo.GetBank(ctx, b.Name)
	if err != nil {
		return nil, ErrBankStoreUnavailable.WithCause(err)
	}
	if existing != nil {
		return nil, errorf(ErrInvalidBank, "bank %s already exists", b.Name)
	}
	created, err := uc.repo.CreateBank(ctx, b)
	if err != nil {
		return nil, ErrBankStoreUnavailable.WithCause(err)
	}
	uc.log.Infof("created bank %s (enabled=%v ratio=%v)", created.Name, created.Enabled, created.MatchingEnabledRatio)
	return created, nil
}

// UpdateBank replaces the bank's policy attributes.
func (uc *BankUsecase) UpdateBank(ctx context.Context, b *Bank) (*Bank, error) {
	if err := validateRatio(b.MatchingEnabledRatio); err != nil {
		return nil, err
	}
	if _, err := uc.GetBank(ctx, b.Name); err != nil {
		return nil, err
	}
	updated, err := uc.repo.UpdateBank(ctx, b)
	if err != nil {
		return nil, ErrBankStoreUnavailable.WithCause(err)
	}
	uc.policies.Invalidate()
	return updated, nil
}

// GetBank returns ErrBankNotFound for unknown names.
func (uc *BankUsecase) GetBank(ctx context.Context, name string) (*Bank, error) {
	b, err := uc.repo.GetBank(ctx, name)
	if err != nil {
		return nil, ErrBankStoreUnavailable.WithCause(err)
	}
	if b == nil {
		return nil, errorf(ErrBankNotFound, "bank %s not found", name)
	}
	return b, nil
}

func (uc *BankUsecase) ListBanks(ctx context.Context) ([]*Bank, error) {
	banks, err := uc.repo.ListBanks(ctx)
	if err != nil {
		return nil, ErrBankStoreUnavailable.WithCause(err)
	}
	return banks, nil
}

// DeleteBank removes the bank and all of its content.
func (uc *BankUsecase) DeleteBank(ctx context.Context, name string) error {
	if _, err := uc.GetBank(ctx, name); err != nil {
		return err
	}
	if err := uc.repo.DeleteBank(ctx, name); err != nil {
		return ErrBankStoreUnavailable.WithCause(err)
	}
	uc.policies.Invalidate()
	uc.log.Infof("deleted bank %s", name)
	return nil
}

// AddContent validates every signal and stores the content in bankName.
// At most one signal per type is allowed.
func (uc *BankUsecase) AddContent(ctx context.Context, bankName string, c *BankContent) (*BankContent, error) {
	if _, err := uc.GetBank(ctx, bankName); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(c.Signals))
	for _, s := range c.Signals {
		st, ok := uc.signalTypes.Registry().Get(s.SignalType)
		if !ok {
			return nil, errorf(ErrInvalidSignal, "unknown signal type %q", s.SignalType)
		}
		if err := st.Validate(s.SignalValue); err != nil {
			return nil, ErrInvalidSignal.WithCause(err)
		}
		if seen[s.SignalType] {
			return nil, errorf(ErrInvalidSignal, "content has more than one %s signal", s.SignalType)
		}
		seen[s.SignalType] = true
	}
	c.BankName = bankName
	added, err := uc.repo.AddBankContent(ctx, c)
	if err != nil {
		return nil, ErrBankStoreUnavailable.WithCause(fmt.Errorf("add content to %s: %w", bankName, err))
	}
	uc.policies.InvalidateContent(added.ID)
	return added, nil
}

// GetContent returns ErrContentNotFound for unknown ids.
func (uc *BankUsecase) GetContent(ctx context.Context, id int64) (*BankContent, error) {
	c, err := uc.repo.GetBankContent(ctx, id)
	if err != nil {
		return nil, ErrBankStoreUnavailable.WithCause(err)
	}
	if c == nil {
		return nil, errorf(ErrContentNotFound, "bank content %d not found", id)
	}
	return c, nil
}

// SetContentDisabledUntil disables matching of content until the given
// epoch second. Zero re-enables it.
func (uc *BankUsecase) SetContentDisabledUntil(ctx context.Context, id int64, disableUntilTS int64) error {
	if _, err := uc.GetContent(ctx, id); err != nil {
		return err
	}
	if err := uc.repo.UpdateBankContent(ctx, id, disableUntilTS); err != nil {
		return ErrBankStoreUnavailable.WithCause(err)
	}
	uc.policies.InvalidateContent(id)
	return nil
}

// RemoveContent deletes content and its signals. Indices built before the
// removal may still return it; matching drops it once the cache forgets it.
func (uc *BankUsecase) RemoveContent(ctx context.Context, id int64) error {
	if _, err := uc.GetContent(ctx, id); err != nil {
		return err
	}
	if err := uc.repo.RemoveBankContent(ctx, id); err != nil {
		return ErrBankStoreUnavailable.WithCause(err)
	}
	uc.policies.InvalidateContent(id)
	return nil
}
