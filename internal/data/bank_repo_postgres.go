package data

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"hashmatch/internal/biz"
	"hashmatch/internal/pkg/pagination"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type bankRepo struct {
	data *Data
	log  *log.Helper
}

var _ biz.BankRepo = (*bankRepo)(nil)

// NewPostgresBankRepo creates a bank store over the data pool.
func NewPostgresBankRepo(data *Data, logger log.Logger) biz.BankRepo {
	return &bankRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

const bankColumns = `name, enabled, matching_enabled_ratio, created_at`

func scanBank(row pgx.Row) (*biz.Bank, error) {
	var b biz.Bank
	if err := row.Scan(&b.Name, &b.Enabled, &b.MatchingEnabledRatio, &b.CreatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateBank implements biz.BankRepo.
func (r *bankRepo) CreateBank(ctx context.Context, b *biz.Bank) (*biz.Bank, error) {
	row := r.data.Pool.QueryRow(ctx,
		`INSERT INTO bank (name, enabled, matching_enabled_ratio) VALUES ($1, $2, $3)
		 RETURNING `+bankColumns,
		b.Name, b.Enabled, b.MatchingEnabledRatio)
	return scanBank(row)
}

// UpdateBank implements biz.BankRepo.
func (r *bankRepo) UpdateBank(ctx context.Context, b *biz.Bank) (*biz.Bank, error) {
	row := r.data.Pool.QueryRow(ctx,
		`UPDATE bank SET enabled = $2, matching_enabled_ratio = $3 WHERE name = $1
		 RETURNING `+bankColumns,
		b.Name, b.Enabled, b.MatchingEnabledRatio)
	return scanBank(row)
}

// GetBank implements biz.BankRepo.
func (r *bankRepo) GetBank(ctx context.Context, name string) (*biz.Bank, error) {
	b, err := scanBank(r.data.Pool.QueryRow(ctx, `SELECT `+bankColumns+` FROM bank WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return b, nil
}

// ListBanks implements biz.BankRepo.
func (r *bankRepo) ListBanks(ctx context.Context) ([]*biz.Bank, error) {
	rows, err := r.data.Pool.Query(ctx, `SELECT `+bankColumns+` FROM bank ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var banks []*biz.Bank
	for rows.Next() {
		b, err := scanBank(rows)
		if err != nil {
			return nil, err
		}
		banks = append(banks, b)
	}
	return banks, rows.Err()
}

// DeleteBank implements biz.BankRepo. Content and signals go by cascade.
func (r *bankRepo) DeleteBank(ctx context.Context, name string) error {
	_, err := r.data.Pool.Exec(ctx, `DELETE FROM bank WHERE name = $1`, name)
	return err
}

// AddBankContent implements biz.BankRepo. Signal timestamps are taken
// under a per-type advisory lock so a new signal never sorts before one
// that is already visible. Locks are taken in signal type order.
func (r *bankRepo) AddBankContent(ctx context.Context, c *biz.BankContent) (*biz.BankContent, error) {
	tx, err := r.data.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	out := &biz.BankContent{
		BankName:         c.BankName,
		DisableUntilTS:   c.DisableUntilTS,
		OriginalMediaURI: c.OriginalMediaURI,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO bank_content (bank_name, disable_until_ts, original_media_uri)
		 VALUES ($1, $2, $3) RETURNING id, created_at`,
		c.BankName, c.DisableUntilTS, pgtype.Text{String: c.OriginalMediaURI, Valid: c.OriginalMediaURI != ""},
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, s := range lockOrder(c.Signals) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('content_signal:' || $1))`, s.SignalType); err != nil {
			return nil, err
		}
		sig := &biz.ContentSignal{ContentID: out.ID, SignalType: s.SignalType, SignalValue: s.SignalValue}
		err := tx.QueryRow(ctx,
			`INSERT INTO content_signal (content_id, signal_type, signal_val, create_time)
			 VALUES ($1, $2, $3, GREATEST(clock_timestamp(),
			     (SELECT max(create_time) FROM content_signal WHERE signal_type = $2)))
			 RETURNING create_time`,
			out.ID, s.SignalType, s.SignalValue,
		).Scan(&sig.CreateTime)
		if err != nil {
			return nil, fmt.Errorf("insert %s signal: %w", s.SignalType, err)
		}
		out.Signals = append(out.Signals, sig)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// lockOrder returns signals sorted by type. Two writers adding the same
// types always acquire the advisory locks in the same order.
func lockOrder(signals []*biz.ContentSignal) []*biz.ContentSignal {
	return slices.SortedStableFunc(slices.Values(signals), func(a, b *biz.ContentSignal) int {
		return strings.Compare(a.SignalType, b.SignalType)
	})
}

// GetBankContent implements biz.BankRepo.
func (r *bankRepo) GetBankContent(ctx context.Context, id int64) (*biz.BankContent, error) {
	var (
		c   biz.BankContent
		uri pgtype.Text
	)
	err := r.data.Pool.QueryRow(ctx,
		`SELECT id, bank_name, disable_until_ts, original_media_uri, created_at
		 FROM bank_content WHERE id = $1`, id,
	).Scan(&c.ID, &c.BankName, &c.DisableUntilTS, &uri, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.OriginalMediaURI = uri.String

	rows, err := r.data.Pool.Query(ctx,
		`SELECT signal_type, signal_val, create_time FROM content_signal
		 WHERE content_id = $1 ORDER BY signal_type`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		s := &biz.ContentSignal{ContentID: id}
		if err := rows.Scan(&s.SignalType, &s.SignalValue, &s.CreateTime); err != nil {
			return nil, err
		}
		c.Signals = append(c.Signals, s)
	}
	return &c, rows.Err()
}

// UpdateBankContent implements biz.BankRepo.
func (r *bankRepo) UpdateBankContent(ctx context.Context, id int64, disableUntilTS int64) error {
	_, err := r.data.Pool.Exec(ctx, `UPDATE bank_content SET disable_until_ts = $2 WHERE id = $1`, id, disableUntilTS)
	return err
}

// RemoveBankContent implements biz.BankRepo.
func (r *bankRepo) RemoveBankContent(ctx context.Context, id int64) error {
	_, err := r.data.Pool.Exec(ctx, `DELETE FROM bank_content WHERE id = $1`, id)
	return err
}

// GetContentPolicies implements biz.BankRepo.
func (r *bankRepo) GetContentPolicies(ctx context.Context, ids []int64) (map[int64]*biz.ContentPolicy, error) {
	rows, err := r.data.Pool.Query(ctx,
		`SELECT c.id, c.disable_until_ts, b.name, b.enabled, b.matching_enabled_ratio, b.created_at
		 FROM bank_content c JOIN bank b ON b.name = c.bank_name
		 WHERE c.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]*biz.ContentPolicy, len(ids))
	for rows.Next() {
		p := &biz.ContentPolicy{Bank: &biz.Bank{}}
		if err := rows.Scan(&p.ContentID, &p.DisableUntilTS, &p.Bank.Name, &p.Bank.Enabled,
			&p.Bank.MatchingEnabledRatio, &p.Bank.CreatedAt); err != nil {
			return nil, err
		}
		out[p.ContentID] = p
	}
	return out, rows.Err()
}

// GetContentSignals implements biz.BankRepo.
func (r *bankRepo) GetContentSignals(ctx context.Context, ids []int64, signalType string) (map[int64]string, error) {
	rows, err := r.data.Pool.Query(ctx,
		`SELECT content_id, signal_val FROM content_signal
		 WHERE content_id = ANY($1) AND signal_type = $2`, ids, signalType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]string, len(ids))
	for rows.Next() {
		var (
			id  int64
			val string
		)
		if err := rows.Scan(&id, &val); err != nil {
			return nil, err
		}
		out[id] = val
	}
	return out, rows.Err()
}

// ListSignals implements biz.BankRepo.
func (r *bankRepo) ListSignals(ctx context.Context, signalType string, after *pagination.Cursor, limit int) ([]*biz.ContentSignal, error) {
	query := `SELECT content_id, signal_type, signal_val, create_time FROM content_signal WHERE signal_type = $1`
	args := []any{signalType}
	if after != nil {
		query += ` AND ` + pagination.SQLCursorCondition("create_time", "content_id", pagination.ASC, 2)
		args = append(args, after.CreatedAt, after.ID)
	}
	query += fmt.Sprintf(` ORDER BY %s LIMIT %d`,
		pagination.SQLOrderBy("create_time", "content_id", pagination.ASC), pagination.ClampLimit(limit))

	rows, err := r.data.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*biz.ContentSignal
	for rows.Next() {
		s := &biz.ContentSignal{}
		if err := rows.Scan(&s.ContentID, &s.SignalType, &s.SignalValue, &s.CreateTime); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetCurrentIndexBuildTarget implements biz.BankRepo. Count and tail are
// read in one statement so they come from the same snapshot.
func (r *bankRepo) GetCurrentIndexBuildTarget(ctx context.Context, signalType string) (*biz.Checkpoint, error) {
	var (
		cp   biz.Checkpoint
		last time.Time
	)
	err := r.data.Pool.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM content_signal WHERE signal_type = $1), create_time, content_id
		 FROM content_signal WHERE signal_type = $1
		 ORDER BY `+pagination.SQLOrderBy("create_time", "content_id", pagination.DESC)+` LIMIT 1`, signalType,
	).Scan(&cp.TotalHashCount, &last, &cp.LastItemID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cp.LastItemTimestamp = last.Unix()
	return &cp, nil
}

// GetSignalTypeRatios implements biz.BankRepo.
func (r *bankRepo) GetSignalTypeRatios(ctx context.Context) (map[string]float64, error) {
	rows, err := r.data.Pool.Query(ctx, `SELECT name, enabled_ratio FROM signal_type_override`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]float64)
	for rows.Next() {
		var (
			name  string
			ratio float64
		)
		if err := rows.Scan(&name, &ratio); err != nil {
			return nil, err
		}
		out[name] = ratio
	}
	return out, rows.Err()
}

// SetSignalTypeEnabledRatio implements biz.BankRepo.
func (r *bankRepo) SetSignalTypeEnabledRatio(ctx context.Context, signalType string, ratio float64) error {
	_, err := r.data.Pool.Exec(ctx,
		`INSERT INTO signal_type_override (name, enabled_ratio) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET enabled_ratio = EXCLUDED.enabled_ratio`,
		signalType, ratio)
	return err
}
