package types

import "encoding/json"

// HeliusTransaction is one entry of a Helius enhanced-transaction webhook
// payload. Helius always posts an array of these.
type HeliusTransaction struct {
	TransactionType  string          `json:"type"`
	Signature        string          `json:"signature"`
	TransactionError json.RawMessage `json:"transactionError,omitempty"`
	Source           string          `json:"source,omitempty"`
}

// Success reports whether the event describes a landed transaction.
func (t *HeliusTransaction) Success() bool {
	return len(t.TransactionError) == 0 || string(t.TransactionError) == "null"
}

// QuickNodeWebhookEvent is one transaction event from a QuickNode stream.
type QuickNodeWebhookEvent struct {
	Signature string                    `json:"signature"`
	Slot      *uint64                   `json:"slot,omitempty"`
	BlockTime *int64                    `json:"blockTime,omitempty"`
	Err       json.RawMessage           `json:"err,omitempty"`
	Meta      *QuickNodeTransactionMeta `json:"meta,omitempty"`
}

// QuickNodeTransactionMeta mirrors the transaction meta QuickNode attaches.
type QuickNodeTransactionMeta struct {
	Err          json.RawMessage `json:"err,omitempty"`
	Fee          *uint64         `json:"fee,omitempty"`
	PreBalances  []uint64        `json:"preBalances,omitempty"`
	PostBalances []uint64        `json:"postBalances,omitempty"`
}

// Success reports whether neither the event nor its meta carry an error.
func (e *QuickNodeWebhookEvent) Success() bool {
	if !rawIsNull(e.Err) {
		return false
	}
	if e.Meta != nil && !rawIsNull(e.Meta.Err) {
		return false
	}
	return true
}

func rawIsNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// QuickNodeWebhookPayload accepts either a single event object or an array
// of events; QuickNode sends both shapes depending on stream configuration.
type QuickNodeWebhookPayload struct {
	Events []QuickNodeWebhookEvent
}

func (p *QuickNodeWebhookPayload) UnmarshalJSON(b []byte) error {
	var list []QuickNodeWebhookEvent
	if err := json.Unmarshal(b, &list); err == nil {
		p.Events = list
		return nil
	}
	var single QuickNodeWebhookEvent
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	p.Events = []QuickNodeWebhookEvent{single}
	return nil
}
