package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/shieldpay/relayer/relay"
	"github.com/shieldpay/relayer/types"
)

// handleWebhook authenticates and applies confirmation events from one
// provider. The Authorization header is compared byte-exact against the
// provider's shared secret.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	provider := ps.ByName("provider")

	var secret string
	switch provider {
	case "helius":
		secret = s.cfg.HeliusWebhookSecret
	case "quicknode":
		secret = s.cfg.QuickNodeWebhookSecret
	default:
		writeError(w, types.NewError(types.KindNotFound, "unknown webhook provider %q", provider))
		return
	}
	if secret == "" {
		writeError(w, types.NewError(types.KindAuthentication, "webhook provider %q is not configured", provider))
		return
	}
	auth := r.Header.Get("Authorization")
	if subtle.ConstantTimeCompare([]byte(auth), []byte(secret)) != 1 {
		s.log.Warn("Webhook authentication failed", "provider", provider)
		writeError(w, types.NewError(types.KindAuthentication, "invalid webhook credentials"))
		return
	}

	events, err := parseWebhookEvents(provider, r)
	if err != nil {
		writeError(w, err)
		return
	}

	outcome, err := s.relay.ApplyChainEvents(r.Context(), provider, events)
	if err != nil {
		writeError(w, err)
		return
	}
	if outcome.Unknown > 0 {
		s.log.Info("Webhook carried unknown signatures", "provider", provider, "unknown", outcome.Unknown)
	}
	writeJSON(w, http.StatusOK, outcome)
}

func parseWebhookEvents(provider string, r *http.Request) ([]relay.ChainEvent, error) {
	switch provider {
	case "helius":
		var txs []types.HeliusTransaction
		if err := json.NewDecoder(r.Body).Decode(&txs); err != nil {
			return nil, types.NewError(types.KindValidation, "invalid helius payload: %v", err)
		}
		events := make([]relay.ChainEvent, 0, len(txs))
		for i := range txs {
			tx := &txs[i]
			event := relay.ChainEvent{Signature: tx.Signature, Success: tx.Success()}
			if !event.Success {
				event.FailureReason = string(tx.TransactionError)
			}
			events = append(events, event)
		}
		return events, nil

	case "quicknode":
		var payload types.QuickNodeWebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			return nil, types.NewError(types.KindValidation, "invalid quicknode payload: %v", err)
		}
		events := make([]relay.ChainEvent, 0, len(payload.Events))
		for i := range payload.Events {
			ev := &payload.Events[i]
			event := relay.ChainEvent{Signature: ev.Signature, Success: ev.Success()}
			if !event.Success {
				if !rawNull(ev.Err) {
					event.FailureReason = string(ev.Err)
				} else if ev.Meta != nil {
					event.FailureReason = string(ev.Meta.Err)
				}
			}
			events = append(events, event)
		}
		return events, nil
	}
	return nil, types.NewError(types.KindNotFound, "unknown webhook provider %q", provider)
}

func rawNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
