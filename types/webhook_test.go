package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeliusTransactionSuccess(t *testing.T) {
	payload := `[
		{"type": "TRANSFER", "signature": "sigA", "source": "SYSTEM_PROGRAM"},
		{"type": "TRANSFER", "signature": "sigB", "transactionError": {"InstructionError": [0, "Custom"]}}
	]`
	var events []HeliusTransaction
	require.NoError(t, json.Unmarshal([]byte(payload), &events))
	require.Len(t, events, 2)

	assert.True(t, events[0].Success())
	assert.False(t, events[1].Success())
	assert.Equal(t, "sigA", events[0].Signature)
}

func TestQuickNodePayloadArray(t *testing.T) {
	payload := `[{"signature": "sig1"}, {"signature": "sig2", "err": "InsufficientFunds"}]`
	var p QuickNodeWebhookPayload
	require.NoError(t, json.Unmarshal([]byte(payload), &p))
	require.Len(t, p.Events, 2)
	assert.True(t, p.Events[0].Success())
	assert.False(t, p.Events[1].Success())
}

func TestQuickNodePayloadSingle(t *testing.T) {
	payload := `{"signature": "sig1", "slot": 1234}`
	var p QuickNodeWebhookPayload
	require.NoError(t, json.Unmarshal([]byte(payload), &p))
	require.Len(t, p.Events, 1)
	assert.Equal(t, "sig1", p.Events[0].Signature)
}

func TestQuickNodeMetaError(t *testing.T) {
	payload := `{"signature": "sig1", "meta": {"err": {"InstructionError": [0, "Custom error"]}}}`
	var p QuickNodeWebhookPayload
	require.NoError(t, json.Unmarshal([]byte(payload), &p))
	require.Len(t, p.Events, 1)
	assert.False(t, p.Events[0].Success())

	clean := `{"signature": "sig2", "meta": {"err": null, "fee": 5000}}`
	require.NoError(t, json.Unmarshal([]byte(clean), &p))
	assert.True(t, p.Events[0].Success())
}
