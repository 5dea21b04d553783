package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/mafutapass/receipts/internal/enhance"
	"github.com/mafutapass/receipts/internal/logger"
)

// Status is the processing state of a raw receipt record. It only ever moves
// forward: raw, processing, then exactly one terminal state.
type Status string

const (
	StatusRaw         Status = "raw"
	StatusProcessing  Status = "processing"
	StatusSuccess     Status = "success"
	StatusNeedsReview Status = "needs_review"
	StatusFailed      Status = "failed"
)

var statusRank = map[Status]int{
	StatusRaw:         0,
	StatusProcessing:  1,
	StatusSuccess:     2,
	StatusNeedsReview: 2,
	StatusFailed:      2,
}

// CanTransition reports whether moving from one status to another is a legal
// forward transition. Terminal states never change again.
func CanTransition(from, to Status) bool {
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	if !ok1 || !ok2 {
		return false
	}
	return tr > fr
}

// RawReceiptRecord is the immutable evidence bundle for one capture. Fields
// other than the status, AI payload, and store link are append-only.
type RawReceiptRecord struct {
	ID          string `json:"id"`
	UserID      string `json:"userId,omitempty"`
	UserEmail   string `json:"userEmail"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	StoreID     string `json:"storeId,omitempty"`

	ImageURL    string `json:"imageUrl"`
	ContentHash string `json:"contentHash"`

	CodeRawText    string            `json:"codeRawText,omitempty"`
	CodeFields     map[string]string `json:"codeFields,omitempty"`
	OCRText        string            `json:"ocrText,omitempty"`
	VerifierFields map[string]string `json:"verifierFields,omitempty"`

	AIPayload *enhance.Enhancement `json:"aiPayload,omitempty"`

	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	LocationAccuracy *float64 `json:"locationAccuracy,omitempty"`

	CapturedAt time.Time `json:"capturedAt"`
	CreatedAt  time.Time `json:"createdAt"`
	Status     Status    `json:"processingStatus"`
}

// Repository is the persistence contract for raw receipt records.
// This interface enables mocking and testing of archival.
type Repository interface {
	Insert(ctx context.Context, rec *RawReceiptRecord) error

	// GetByID returns the record, or (nil, nil) when it does not exist.
	GetByID(ctx context.Context, id string) (*RawReceiptRecord, error)

	// GetByHash returns the earliest record with the given content hash,
	// or (nil, nil).
	GetByHash(ctx context.Context, hash string) (*RawReceiptRecord, error)

	// UpdateStatus sets only the processing status field.
	UpdateStatus(ctx context.Context, id string, status Status) error

	// UpdateAIPayload sets only the AI enhancement field, leaving the rest
	// of the record untouched so it cannot race other writers.
	UpdateAIPayload(ctx context.Context, id string, payload *enhance.Enhancement) error

	// UpdateStoreID links the record to a recognized store.
	UpdateStoreID(ctx context.Context, id string, storeID string) error

	ListByUser(ctx context.Context, userID string, limit int) ([]*RawReceiptRecord, error)
	ListByStore(ctx context.Context, storeID string, limit int) ([]*RawReceiptRecord, error)

	// ListUnprocessed returns records still in the raw or processing state,
	// oldest first, for reprocessing.
	ListUnprocessed(ctx context.Context, limit int) ([]*RawReceiptRecord, error)
}

// Archiver wraps a Repository with duplicate detection and transition rules.
type Archiver struct {
	repo Repository
}

// NewArchiver creates an archiver over the given repository.
func NewArchiver(repo Repository) *Archiver {
	return &Archiver{repo: repo}
}

// Archive persists the record. When another record already carries the same
// content hash, the prior record's id is returned; the duplicate is still
// stored so no evidence is lost.
func (a *Archiver) Archive(ctx context.Context, rec *RawReceiptRecord) (duplicateOf string, err error) {
	log := logger.Component(ctx, "archive")

	if rec.ContentHash != "" {
		prior, err := a.repo.GetByHash(ctx, rec.ContentHash)
		if err != nil {
			log.Warn().Err(err).Msg("duplicate lookup failed")
		} else if prior != nil && prior.ID != rec.ID {
			duplicateOf = prior.ID
			log.Info().
				Str("id", rec.ID).
				Str("duplicate_of", prior.ID).
				Msg("duplicate content hash")
		}
	}

	if rec.Status == "" {
		rec.Status = StatusRaw
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := a.repo.Insert(ctx, rec); err != nil {
		return duplicateOf, fmt.Errorf("archive: inserting record %s: %w", rec.ID, err)
	}
	return duplicateOf, nil
}

// Transition moves the record's status forward. Illegal transitions are
// rejected before touching storage.
func (a *Archiver) Transition(ctx context.Context, rec *RawReceiptRecord, to Status) error {
	if !CanTransition(rec.Status, to) {
		return fmt.Errorf("archive: illegal status transition %s -> %s for %s", rec.Status, to, rec.ID)
	}
	if err := a.repo.UpdateStatus(ctx, rec.ID, to); err != nil {
		return fmt.Errorf("archive: updating status for %s: %w", rec.ID, err)
	}
	rec.Status = to
	return nil
}
