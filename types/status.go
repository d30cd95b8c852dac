package types

// BlockchainStatus tracks a transfer request through on-chain submission.
// Values are the stable snake_case wire and storage representation.
type BlockchainStatus string

const (
	// BlockchainPending is the initial state before compliance screening
	// completes. Rejected requests stay here forever.
	BlockchainPending BlockchainStatus = "pending"
	// BlockchainPendingSubmission marks a row queued for the worker pool.
	BlockchainPendingSubmission BlockchainStatus = "pending_submission"
	// BlockchainProcessing marks a row claimed by exactly one worker.
	BlockchainProcessing BlockchainStatus = "processing"
	// BlockchainSubmitted means a transaction landed at an RPC node and
	// the relayer is waiting for confirmation.
	BlockchainSubmitted BlockchainStatus = "submitted"
	BlockchainConfirmed BlockchainStatus = "confirmed"
	BlockchainFailed    BlockchainStatus = "failed"
)

// ParseBlockchainStatus converts the storage representation back into a
// status, rejecting anything unknown.
func ParseBlockchainStatus(s string) (BlockchainStatus, error) {
	switch BlockchainStatus(s) {
	case BlockchainPending, BlockchainPendingSubmission, BlockchainProcessing,
		BlockchainSubmitted, BlockchainConfirmed, BlockchainFailed:
		return BlockchainStatus(s), nil
	}
	return "", NewError(KindDeserialization, "unknown blockchain status %q", s)
}

// Terminal reports whether the status can never change again.
func (s BlockchainStatus) Terminal() bool {
	return s == BlockchainConfirmed || s == BlockchainFailed
}

func (s BlockchainStatus) String() string { return string(s) }

// ComplianceStatus is the outcome of the compliance screen.
type ComplianceStatus string

const (
	CompliancePending  ComplianceStatus = "pending"
	ComplianceApproved ComplianceStatus = "approved"
	ComplianceRejected ComplianceStatus = "rejected"
)

func ParseComplianceStatus(s string) (ComplianceStatus, error) {
	switch ComplianceStatus(s) {
	case CompliancePending, ComplianceApproved, ComplianceRejected:
		return ComplianceStatus(s), nil
	}
	return "", NewError(KindDeserialization, "unknown compliance status %q", s)
}

func (s ComplianceStatus) String() string { return string(s) }

// Terminal reports whether the compliance decision is final.
func (s ComplianceStatus) Terminal() bool {
	return s == ComplianceRejected
}

// AllBlockchainStatuses enumerates every valid blockchain status, in
// lifecycle order.
func AllBlockchainStatuses() []BlockchainStatus {
	return []BlockchainStatus{
		BlockchainPending, BlockchainPendingSubmission, BlockchainProcessing,
		BlockchainSubmitted, BlockchainConfirmed, BlockchainFailed,
	}
}

// AllComplianceStatuses enumerates every valid compliance status.
func AllComplianceStatuses() []ComplianceStatus {
	return []ComplianceStatus{CompliancePending, ComplianceApproved, ComplianceRejected}
}
