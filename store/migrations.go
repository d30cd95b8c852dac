package store

// Schema migrations, applied in order. Each entry runs at most once; the
// applied version is tracked in schema_migrations.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS transfer_requests (
		id TEXT PRIMARY KEY,
		from_address TEXT NOT NULL,
		to_address TEXT NOT NULL,
		transfer_details JSONB NOT NULL,
		token_mint TEXT,
		client_signature TEXT NOT NULL,
		nonce TEXT NOT NULL,
		compliance_status TEXT NOT NULL DEFAULT 'pending',
		blockchain_status TEXT NOT NULL DEFAULT 'pending',
		blockchain_signature TEXT,
		blockchain_retry_count INTEGER NOT NULL DEFAULT 0,
		blockchain_last_error TEXT,
		blockchain_next_retry_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT transfer_requests_from_nonce_key UNIQUE (from_address, nonce)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_transfer_requests_queue
		ON transfer_requests (blockchain_status, blockchain_next_retry_at)`,

	`CREATE INDEX IF NOT EXISTS idx_transfer_requests_signature
		ON transfer_requests (blockchain_signature)`,

	`CREATE INDEX IF NOT EXISTS idx_transfer_requests_listing
		ON transfer_requests (created_at DESC, id DESC)`,

	`CREATE TABLE IF NOT EXISTS blocklist (
		address TEXT PRIMARY KEY,
		reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS wallet_risk_profiles (
		address TEXT PRIMARY KEY,
		risk_score INTEGER,
		risk_level TEXT,
		reasoning TEXT,
		has_sanctioned_assets BOOLEAN NOT NULL DEFAULT false,
		helius_assets_checked BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
