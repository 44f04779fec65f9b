package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/commune-sh/public-appservice/internal/homeserver"
	"github.com/commune-sh/public-appservice/internal/idgen"
)

// PingStore holds the id of the one outbound ping awaiting its callback.
// Issuing a new id replaces any previous one.
type PingStore struct {
	mu      sync.Mutex
	current string
	newID   func() string
}

func NewPingStore() *PingStore {
	return &PingStore{newID: idgen.NewTransactionID}
}

// Issue generates and remembers a fresh transaction id.
func (p *PingStore) Issue() string {
	id := p.newID()
	p.mu.Lock()
	p.current = id
	p.mu.Unlock()
	return id
}

// Verify reports whether txnID is the pending id, consuming it on match.
func (p *PingStore) Verify(txnID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == "" || p.current != txnID {
		return false
	}
	p.current = ""
	return true
}

// PingHomeserver asks the homeserver to ping this appservice back.
func PingHomeserver(ctx context.Context, hs homeserver.Client, store *PingStore) error {
	txnID := store.Issue()
	zerolog.Ctx(ctx).Debug().Str("txn_id", txnID).Msg("Pinging homeserver")
	return hs.Ping(ctx, txnID)
}
