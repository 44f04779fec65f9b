package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/commune-sh/public-appservice/internal/service"
)

// AppserviceHandler serves the endpoints the homeserver calls.
type AppserviceHandler struct {
	sync  *service.Synchronizer
	pings *service.PingStore
}

func NewAppserviceHandler(s *service.Synchronizer, pings *service.PingStore) *AppserviceHandler {
	return &AppserviceHandler{sync: s, pings: pings}
}

type transactionRequest struct {
	Events json.RawMessage `json:"events"`
}

// events splits the events field into raw events. Anything but an array
// yields no events.
func (t transactionRequest) events() ([]json.RawMessage, bool) {
	parsed := gjson.ParseBytes(t.Events)
	if !parsed.IsArray() {
		return nil, false
	}
	items := parsed.Array()
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, json.RawMessage(item.Raw))
	}
	return out, true
}

type pingRequest struct {
	TransactionID string `json:"transaction_id"`
}

var emptyObject = struct{}{}

// Transaction applies a pushed transaction. Processing failures are logged
// by the synchronizer and never reported back to the homeserver. A missing
// or non-array events field is acknowledged without doing anything.
func (h *AppserviceHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "txnId")
	var in transactionRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	events, ok := in.events()
	if !ok {
		zerolog.Ctx(r.Context()).Debug().Str("txn_id", txnID).Msg("Transaction without events array")
		respondJSON(w, http.StatusOK, emptyObject)
		return
	}
	h.sync.HandleTransaction(r.Context(), txnID, events)
	respondJSON(w, http.StatusOK, emptyObject)
}

// Ping acknowledges the homeserver's callback for an outbound ping.
func (h *AppserviceHandler) Ping(w http.ResponseWriter, r *http.Request) {
	var in pingRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	log := zerolog.Ctx(r.Context())
	if h.pings.Verify(in.TransactionID) {
		log.Info().Str("txn_id", in.TransactionID).Msg("Homeserver ping confirmed")
	} else {
		log.Info().Str("txn_id", in.TransactionID).Msg("Transaction id does not match a pending ping")
	}
	respondJSON(w, http.StatusOK, emptyObject)
}
