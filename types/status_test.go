package types

import "testing"

func TestBlockchainStatusRoundTrip(t *testing.T) {
	for _, status := range AllBlockchainStatuses() {
		parsed, err := ParseBlockchainStatus(status.String())
		if err != nil {
			t.Fatalf("parse %q: %v", status, err)
		}
		if parsed != status {
			t.Errorf("round trip %q: got %q", status, parsed)
		}
	}
}

func TestComplianceStatusRoundTrip(t *testing.T) {
	for _, status := range AllComplianceStatuses() {
		parsed, err := ParseComplianceStatus(status.String())
		if err != nil {
			t.Fatalf("parse %q: %v", status, err)
		}
		if parsed != status {
			t.Errorf("round trip %q: got %q", status, parsed)
		}
	}
}

func TestParseUnknownStatus(t *testing.T) {
	if _, err := ParseBlockchainStatus("expired"); err == nil {
		t.Error("expected error for unknown blockchain status")
	}
	if _, err := ParseComplianceStatus("maybe"); err == nil {
		t.Error("expected error for unknown compliance status")
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[BlockchainStatus]bool{
		BlockchainConfirmed: true,
		BlockchainFailed:    true,
	}
	for _, status := range AllBlockchainStatuses() {
		if got := status.Terminal(); got != terminal[status] {
			t.Errorf("%q: Terminal() = %v, want %v", status, got, terminal[status])
		}
	}
	if !ComplianceRejected.Terminal() {
		t.Error("rejected compliance status must be terminal")
	}
	if ComplianceApproved.Terminal() || CompliancePending.Terminal() {
		t.Error("approved and pending compliance statuses are not terminal")
	}
}
