package biz

import (
	"context"
	"fmt"
	"iter"
	"time"

	"hashmatch/internal/pkg/pagination"
)

// Bank is a named collection of banked content and the unit of matching policy.
type Bank struct {
	Name                 string
	Enabled              bool
	MatchingEnabledRatio float64
	CreatedAt            time.Time
}

// BankContent is one banked item. DisableUntilTS is epoch seconds; zero
// means enabled indefinitely.
type BankContent struct {
	ID               int64
	BankName         string
	DisableUntilTS   int64
	OriginalMediaURI string
	Signals          []*ContentSignal
	CreatedAt        time.Time
}

// ContentSignal is one hash attached to a BankContent. CreateTime is
// assigned by the store and orders signals for index builds.
type ContentSignal struct {
	ContentID   int64
	SignalType  string
	SignalValue string
	CreateTime  time.Time
}

// ContentPolicy is what matching needs to know about a content id.
type ContentPolicy struct {
	ContentID      int64
	DisableUntilTS int64
	Bank           *Bank
}

// Active reports whether matches against this content should be reported at now,
// ignoring the coin flip.
func (p *ContentPolicy) Active(now time.Time) bool {
	return p.Bank != nil && p.Bank.Enabled && p.DisableUntilTS <= now.Unix()
}

// BankRepo is the authoritative store of banks, content and signals.
type BankRepo interface {
	CreateBank(ctx context.Context, b *Bank) (*Bank, error)
	UpdateBank(ctx context.Context, b *Bank) (*Bank, error)
	// GetBank returns nil, nil when the bank does not exist.
	GetBank(ctx context.Context, name string) (*Bank, error)
	ListBanks(ctx context.Context) ([]*Bank, error)
	// DeleteBank removes the bank together with its content and signals.
	DeleteBank(ctx context.Context, name string) error

	// AddBankContent stores content and its signals atomically and returns
	// it with ids and timestamps assigned.
	AddBankContent(ctx context.Context, c *BankContent) (*BankContent, error)
	// GetBankContent returns nil, nil when the content does not exist.
	GetBankContent(ctx context.Context, id int64) (*BankContent, error)
	UpdateBankContent(ctx context.Context, id int64, disableUntilTS int64) error
	// RemoveBankContent removes content and its signals atomically.
	RemoveBankContent(ctx context.Context, id int64) error
	// GetContentPolicies resolves ids to policies. Unknown ids are absent
	// from the result.
	GetContentPolicies(ctx context.Context, ids []int64) (map[int64]*ContentPolicy, error)
	// GetContentSignals returns the stored signalType value of each id
	// that carries one.
	GetContentSignals(ctx context.Context, ids []int64, signalType string) (map[int64]string, error)

	// ListSignals returns up to limit signals of one type ordered by
	// (CreateTime, ContentID) ascending, strictly after the cursor.
	ListSignals(ctx context.Context, signalType string, after *pagination.Cursor, limit int) ([]*ContentSignal, error)
	// GetCurrentIndexBuildTarget returns the checkpoint a build started now
	// would end on, or nil if there are no signals of this type.
	GetCurrentIndexBuildTarget(ctx context.Context, signalType string) (*Checkpoint, error)

	// GetSignalTypeRatios returns the stored enabled_ratio overrides.
	GetSignalTypeRatios(ctx context.Context) (map[string]float64, error)
	SetSignalTypeEnabledRatio(ctx context.Context, signalType string, ratio float64) error
}

// YieldContent iterates every live signal of signalType in build order, one
// page at a time. Cancellation is checked between pages; on error the
// sequence yields it once and stops.
func YieldContent(ctx context.Context, repo BankRepo, signalType string, batchSize int) iter.Seq2[*ContentSignal, error] {
	batchSize = pagination.ClampLimit(batchSize)
	return func(yield func(*ContentSignal, error) bool) {
		var cursor *pagination.Cursor
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			page, err := repo.ListSignals(ctx, signalType, cursor, batchSize)
			if err != nil {
				yield(nil, fmt.Errorf("list %s signals: %w", signalType, err))
				return
			}
			for _, s := range page {
				if !yield(s, nil) {
					return
				}
			}
			if len(page) < batchSize {
				return
			}
			last := page[len(page)-1]
			cursor = &pagination.Cursor{ID: last.ContentID, CreatedAt: last.CreateTime}
		}
	}
}

// ValidateBankName enforces non-empty printable ASCII without spaces.
// Upper-case with underscores is the convention but is not required.
func ValidateBankName(name string) error {
	if name == "" {
		return errorf(ErrInvalidBank, "bank name is empty")
	}
	for i := 0; i < len(name); i++ {
		if c := name[i]; c < 0x21 || c > 0x7e {
			return errorf(ErrInvalidBank, "bank name %q contains %q", name, c)
		}
	}
	return nil
}

func validateRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 || ratio != ratio {
		return errorf(ErrInvalidBank, "ratio %v is outside [0, 1]", ratio)
	}
	return nil
}
