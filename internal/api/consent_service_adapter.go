package api

import "github.com/soaringjerry/Emtrip/internal/services"

type consentStoreAdapter struct {
	kvStoreAdapter
}

func newConsentStoreAdapter(store Store) services.ConsentStore {
	return &consentStoreAdapter{kvStoreAdapter{store: store}}
}

func (a *consentStoreAdapter) AddAudit(entry services.AuditEntry) {
	a.store.AddAudit(AuditEntry{Time: entry.Time, Actor: entry.Actor, Action: entry.Action, Target: entry.Target, Note: entry.Note})
}

var _ services.ConsentStore = (*consentStoreAdapter)(nil)
