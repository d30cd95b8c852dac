package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/lib/pq"

	"github.com/shieldpay/relayer/types"
)

// Config tunes the Postgres connection pool.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration
}

// DefaultConfig holds the pool settings used unless the operator overrides
// them.
var DefaultConfig = Config{
	MaxOpenConns:    10,
	MaxIdleConns:    2,
	ConnMaxIdleTime: 600 * time.Second,
	ConnMaxLifetime: 1800 * time.Second,
	AcquireTimeout:  3 * time.Second,
}

// PostgresStore implements Store on top of database/sql with the pq driver.
type PostgresStore struct {
	db  *sql.DB
	log log.Logger
}

// NewPostgres opens the pool and verifies connectivity.
func NewPostgres(dsn string, cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, types.WrapError(types.KindDBConnection, err, "open database")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, types.WrapError(types.KindDBConnection, err, "ping database")
	}
	return &PostgresStore{db: db, log: log.New("component", "store")}, nil
}

// RunMigrations applies any schema migrations not yet recorded.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return types.WrapError(types.KindDatabase, err, "create migrations table")
	}
	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return types.WrapError(types.KindDatabase, err, "read migration version")
	}
	for i := current; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return types.WrapError(types.KindDatabase, err, "apply migration %d", i+1)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, i+1); err != nil {
			return types.WrapError(types.KindDatabase, err, "record migration %d", i+1)
		}
		s.log.Info("Applied schema migration", "version", i+1)
	}
	return nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return types.WrapError(types.KindDBConnection, err, "health check")
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

const transferColumns = `id, from_address, to_address, transfer_details, token_mint,
	client_signature, nonce, compliance_status, blockchain_status, blockchain_signature,
	blockchain_retry_count, blockchain_last_error, blockchain_next_retry_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(row rowScanner) (*types.TransferRequest, error) {
	var (
		req        types.TransferRequest
		details    []byte
		compliance string
		blockchain string
	)
	err := row.Scan(
		&req.ID, &req.FromAddress, &req.ToAddress, &details, &req.TokenMint,
		&req.ClientSignature, &req.Nonce, &compliance, &blockchain, &req.BlockchainSignature,
		&req.BlockchainRetryCount, &req.BlockchainLastError, &req.BlockchainNextRetryAt,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if req.ComplianceStatus, err = types.ParseComplianceStatus(compliance); err != nil {
		return nil, err
	}
	if req.BlockchainStatus, err = types.ParseBlockchainStatus(blockchain); err != nil {
		return nil, err
	}
	if err := req.UnmarshalDetails(details); err != nil {
		return nil, err
	}
	return &req, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *PostgresStore) CreateTransferRequest(ctx context.Context, req *types.TransferRequest) error {
	details, err := req.MarshalDetails()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transfer_requests (
			id, from_address, to_address, transfer_details, token_mint,
			client_signature, nonce, compliance_status, blockchain_status,
			blockchain_retry_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		req.ID, req.FromAddress, req.ToAddress, details, req.TokenMint,
		req.ClientSignature, req.Nonce, req.ComplianceStatus.String(), req.BlockchainStatus.String(),
		req.BlockchainRetryCount, req.CreatedAt, req.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return types.WrapError(types.KindDuplicate, err, "transfer request already exists for nonce %s", req.Nonce)
	}
	if err != nil {
		return types.WrapError(types.KindDatabase, err, "insert transfer request")
	}
	return nil
}

func (s *PostgresStore) getTransferWhere(ctx context.Context, where string, args ...interface{}) (*types.TransferRequest, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM transfer_requests WHERE %s`, transferColumns, where), args...)
	req, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapError(types.KindDatabase, err, "query transfer request")
	}
	return req, nil
}

func (s *PostgresStore) GetTransferRequest(ctx context.Context, id string) (*types.TransferRequest, error) {
	return s.getTransferWhere(ctx, `id = $1`, id)
}

func (s *PostgresStore) GetTransferByNonce(ctx context.Context, fromAddress, nonce string) (*types.TransferRequest, error) {
	return s.getTransferWhere(ctx, `from_address = $1 AND nonce = $2`, fromAddress, nonce)
}

func (s *PostgresStore) GetTransferBySignature(ctx context.Context, signature string) (*types.TransferRequest, error) {
	return s.getTransferWhere(ctx, `blockchain_signature = $1`, signature)
}

func (s *PostgresStore) ListTransferRequests(ctx context.Context, limit int64, cursor *string) (*types.PaginatedResponse, error) {
	fetch := limit + 1 // over-fetch by one to detect has_more

	var (
		rows *sql.Rows
		err  error
	)
	if cursor != nil {
		var createdAt time.Time
		cursorErr := s.db.QueryRowContext(ctx,
			`SELECT created_at FROM transfer_requests WHERE id = $1`, *cursor).Scan(&createdAt)
		if errors.Is(cursorErr, sql.ErrNoRows) {
			return nil, types.NewError(types.KindValidation, "invalid cursor %q", *cursor)
		}
		if cursorErr != nil {
			return nil, types.WrapError(types.KindDatabase, cursorErr, "resolve cursor")
		}
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s FROM transfer_requests
			WHERE (created_at, id) < ($1, $2)
			ORDER BY created_at DESC, id DESC
			LIMIT $3`, transferColumns),
			createdAt, *cursor, fetch)
	} else {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s FROM transfer_requests
			ORDER BY created_at DESC, id DESC
			LIMIT $1`, transferColumns), fetch)
	}
	if err != nil {
		return nil, types.WrapError(types.KindDatabase, err, "list transfer requests")
	}
	defer rows.Close()

	items := make([]*types.TransferRequest, 0, limit)
	for rows.Next() {
		req, scanErr := scanTransfer(rows)
		if scanErr != nil {
			return nil, types.WrapError(types.KindDatabase, scanErr, "scan transfer request")
		}
		items = append(items, req)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.KindDatabase, err, "iterate transfer requests")
	}

	page := &types.PaginatedResponse{Items: items}
	if int64(len(items)) > limit {
		page.Items = items[:limit]
		page.HasMore = true
		next := page.Items[len(page.Items)-1].ID
		page.NextCursor = &next
	}
	return page, nil
}

func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return types.WrapError(types.KindDatabase, err, "%s", op)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.WrapError(types.KindDatabase, err, "%s: rows affected", op)
	}
	if n == 0 {
		return types.NewError(types.KindNotFound, "%s: transfer request not found", op)
	}
	return nil
}

func (s *PostgresStore) UpdateComplianceStatus(ctx context.Context, id string, status types.ComplianceStatus) error {
	return s.execOne(ctx, "update compliance status", `
		UPDATE transfer_requests SET compliance_status = $2, updated_at = now()
		WHERE id = $1`, id, status.String())
}

func (s *PostgresStore) MarkSubmitted(ctx context.Context, id, signature string) error {
	return s.execOne(ctx, "mark submitted", `
		UPDATE transfer_requests
		SET blockchain_status = 'submitted', blockchain_signature = $2,
		    blockchain_last_error = NULL, blockchain_next_retry_at = NULL, updated_at = now()
		WHERE id = $1`, id, signature)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, lastError string) error {
	return s.execOne(ctx, "mark failed", `
		UPDATE transfer_requests
		SET blockchain_status = 'failed', blockchain_last_error = $2,
		    blockchain_next_retry_at = NULL, updated_at = now()
		WHERE id = $1`, id, lastError)
}

func (s *PostgresStore) ScheduleRetry(ctx context.Context, id, lastError string, nextRetryAt time.Time) error {
	return s.execOne(ctx, "schedule retry", `
		UPDATE transfer_requests
		SET blockchain_status = 'pending_submission', blockchain_last_error = $2,
		    blockchain_next_retry_at = $3, updated_at = now()
		WHERE id = $1`, id, lastError, nextRetryAt)
}

func (s *PostgresStore) RequeueForRetry(ctx context.Context, id string) error {
	return s.execOne(ctx, "requeue for retry", `
		UPDATE transfer_requests
		SET blockchain_status = 'pending_submission', blockchain_retry_count = 0,
		    blockchain_last_error = NULL, blockchain_next_retry_at = NULL, updated_at = now()
		WHERE id = $1`, id)
}

func (s *PostgresStore) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE transfer_requests
		SET blockchain_retry_count = blockchain_retry_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING blockchain_retry_count`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, types.NewError(types.KindNotFound, "transfer request %s not found", id)
	}
	if err != nil {
		return 0, types.WrapError(types.KindDatabase, err, "increment retry count")
	}
	return count, nil
}

func (s *PostgresStore) ClaimPendingSubmissions(ctx context.Context, batch int) ([]*types.TransferRequest, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		UPDATE transfer_requests
		SET blockchain_status = 'processing', updated_at = now()
		WHERE id IN (
			SELECT id FROM transfer_requests
			WHERE compliance_status = 'approved'
			  AND blockchain_status = 'pending_submission'
			  AND (blockchain_next_retry_at IS NULL OR blockchain_next_retry_at <= now())
			  AND blockchain_retry_count < $2
			ORDER BY blockchain_next_retry_at ASC NULLS FIRST, created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, transferColumns), batch, MaxRetries)
	if err != nil {
		return nil, types.WrapError(types.KindDatabase, err, "claim pending submissions")
	}
	defer rows.Close()

	var claimed []*types.TransferRequest
	for rows.Next() {
		req, scanErr := scanTransfer(rows)
		if scanErr != nil {
			return nil, types.WrapError(types.KindDatabase, scanErr, "scan claimed row")
		}
		claimed = append(claimed, req)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.KindDatabase, err, "iterate claimed rows")
	}
	return claimed, nil
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, id string) error {
	return s.execOne(ctx, "release claim", `
		UPDATE transfer_requests
		SET blockchain_status = 'pending_submission', updated_at = now()
		WHERE id = $1 AND blockchain_status = 'processing'`, id)
}

func (s *PostgresStore) ListStaleSubmitted(ctx context.Context, staleBefore time.Time, batch int) ([]*types.TransferRequest, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM transfer_requests
		WHERE blockchain_status = 'submitted' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`, transferColumns), staleBefore, batch)
	if err != nil {
		return nil, types.WrapError(types.KindDatabase, err, "list stale submitted")
	}
	defer rows.Close()

	var stale []*types.TransferRequest
	for rows.Next() {
		req, scanErr := scanTransfer(rows)
		if scanErr != nil {
			return nil, types.WrapError(types.KindDatabase, scanErr, "scan stale row")
		}
		stale = append(stale, req)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.KindDatabase, err, "iterate stale rows")
	}
	return stale, nil
}

func (s *PostgresStore) TransitionSubmitted(ctx context.Context, id string, to types.BlockchainStatus, lastError *string) (bool, error) {
	if !to.Terminal() {
		return false, types.NewError(types.KindInternal, "transition from submitted must be terminal, got %s", to)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE transfer_requests
		SET blockchain_status = $2, blockchain_last_error = COALESCE($3, blockchain_last_error),
		    blockchain_next_retry_at = NULL, updated_at = now()
		WHERE id = $1 AND blockchain_status = 'submitted'`,
		id, to.String(), lastError)
	if err != nil {
		return false, types.WrapError(types.KindDatabase, err, "transition submitted")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.WrapError(types.KindDatabase, err, "transition submitted: rows affected")
	}
	return n > 0, nil
}

func (s *PostgresStore) ResurrectStale(ctx context.Context, id string, nextRetryAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transfer_requests
		SET blockchain_status = 'pending_submission',
		    blockchain_retry_count = blockchain_retry_count + 1,
		    blockchain_last_error = 'blockhash expired before inclusion',
		    blockchain_next_retry_at = $2, updated_at = now()
		WHERE id = $1 AND blockchain_status = 'submitted'`,
		id, nextRetryAt)
	if err != nil {
		return false, types.WrapError(types.KindDatabase, err, "resurrect stale")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.WrapError(types.KindDatabase, err, "resurrect stale: rows affected")
	}
	return n > 0, nil
}

func (s *PostgresStore) TouchSubmitted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transfer_requests SET updated_at = now()
		WHERE id = $1 AND blockchain_status = 'submitted'`, id)
	if err != nil {
		return types.WrapError(types.KindDatabase, err, "touch submitted")
	}
	return nil
}

func (s *PostgresStore) UpsertBlocklistEntry(ctx context.Context, address, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blocklist (address, reason) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET reason = EXCLUDED.reason, updated_at = now()`,
		address, reason)
	if err != nil {
		return types.WrapError(types.KindDatabase, err, "upsert blocklist entry")
	}
	return nil
}

func (s *PostgresStore) DeleteBlocklistEntry(ctx context.Context, address string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blocklist WHERE address = $1`, address)
	if err != nil {
		return false, types.WrapError(types.KindDatabase, err, "delete blocklist entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.WrapError(types.KindDatabase, err, "delete blocklist entry: rows affected")
	}
	return n > 0, nil
}

func (s *PostgresStore) ListBlocklist(ctx context.Context) ([]*types.BlocklistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, reason, created_at, updated_at FROM blocklist ORDER BY created_at ASC`)
	if err != nil {
		return nil, types.WrapError(types.KindDatabase, err, "list blocklist")
	}
	defer rows.Close()

	var entries []*types.BlocklistEntry
	for rows.Next() {
		var e types.BlocklistEntry
		if err := rows.Scan(&e.Address, &e.Reason, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, types.WrapError(types.KindDatabase, err, "scan blocklist entry")
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.KindDatabase, err, "iterate blocklist")
	}
	return entries, nil
}

func (s *PostgresStore) GetRiskProfile(ctx context.Context, address string) (*types.WalletRiskProfile, error) {
	var p types.WalletRiskProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT address, risk_score, risk_level, reasoning, has_sanctioned_assets,
		       helius_assets_checked, created_at, updated_at
		FROM wallet_risk_profiles WHERE address = $1`, address).Scan(
		&p.Address, &p.RiskScore, &p.RiskLevel, &p.Reasoning, &p.HasSanctionedAssets,
		&p.HeliusAssetsChecked, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.WrapError(types.KindDatabase, err, "get risk profile")
	}
	return &p, nil
}

func (s *PostgresStore) UpsertRiskProfile(ctx context.Context, profile *types.WalletRiskProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_risk_profiles (
			address, risk_score, risk_level, reasoning,
			has_sanctioned_assets, helius_assets_checked
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			reasoning = EXCLUDED.reasoning,
			has_sanctioned_assets = EXCLUDED.has_sanctioned_assets,
			helius_assets_checked = EXCLUDED.helius_assets_checked,
			updated_at = now()`,
		profile.Address, profile.RiskScore, profile.RiskLevel, profile.Reasoning,
		profile.HasSanctionedAssets, profile.HeliusAssetsChecked)
	if err != nil {
		return types.WrapError(types.KindDatabase, err, "upsert risk profile")
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
