package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soaringjerry/Emtrip/internal/models"
)

// ConsentKey is where the approved consent record is kept.
const ConsentKey = "config/consent"

type ConsentStore interface {
	KVStore
	AddAudit(entry AuditEntry)
}

// ConsentRequirement names the protocol version a user must have approved.
type ConsentRequirement struct {
	Category     string
	ApprovalDate string
}

type ConsentService struct {
	store    ConsentStore
	required ConsentRequirement
	now      func() time.Time
	idGen    func() string
	logger   *zap.Logger
}

type ConsentSignRequest struct {
	Category     string
	ApprovalDate string
	SignedAt     string
	Evidence     string
}

type ConsentSignResult struct {
	ID   string
	Hash string
}

func NewConsentService(store ConsentStore, required ConsentRequirement, logger *zap.Logger) *ConsentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConsentService{
		store:    store,
		required: required,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    func() string { return consentID(12) },
		logger:   logger,
	}
}

// ReadConsentState returns the stored consent, or nil if the user never consented.
func (s *ConsentService) ReadConsentState(ctx context.Context) (*models.ConsentState, error) {
	raw, err := s.store.Get(ctx, ConsentKey)
	if err != nil {
		return nil, err
	}
	if !truthy(raw) {
		return nil, nil
	}
	var st models.ConsentState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, NewStoreReadError("decode consent state", err)
	}
	return &st, nil
}

// IsConsented reports whether state approves the currently required protocol.
// Approval of an older protocol version does not count.
func (s *ConsentService) IsConsented(state *models.ConsentState) bool {
	if state == nil || s.required.ApprovalDate == "" {
		return false
	}
	if s.required.Category != "" && state.Category != s.required.Category {
		return false
	}
	return state.ApprovalDate == s.required.ApprovalDate
}

// MarkConsented records the user's approval of the required protocol.
func (s *ConsentService) MarkConsented(ctx context.Context, req ConsentSignRequest) (*ConsentSignResult, error) {
	if strings.TrimSpace(req.ApprovalDate) == "" {
		return nil, NewInvalidError("approval_date required")
	}
	if s.required.ApprovalDate == "" {
		return nil, NewConflictError("no consent protocol configured")
	}
	if req.ApprovalDate != s.required.ApprovalDate {
		return nil, NewInvalidError("approval_date does not match the current protocol")
	}
	category := req.Category
	if category == "" {
		category = s.required.Category
	}
	sum := sha256.Sum256([]byte(req.Evidence))
	hash := base64.StdEncoding.EncodeToString(sum[:])
	signedAt := s.now()
	if req.SignedAt != "" {
		if t, err := time.Parse(time.RFC3339, req.SignedAt); err == nil {
			signedAt = t
		}
	}
	id := s.idGen()
	st := models.ConsentState{ID: id, Category: category, ApprovalDate: req.ApprovalDate, SignedAt: signedAt, Hash: hash}
	if err := s.store.Set(ctx, ConsentKey, st); err != nil {
		return nil, NewPersistenceError("write consent state", err)
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: "participant", Action: "consent_sign", Target: category, Note: id})
	s.logger.Info("consent recorded", zap.String("id", id), zap.String("approval_date", req.ApprovalDate))
	return &ConsentSignResult{ID: id, Hash: hash}, nil
}

func consentID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
