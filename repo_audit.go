package impersonate

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuditEntries persists actions performed while impersonating.
type AuditEntries interface {
	repository.Repository[*AuditEntry]

	AppendTx(ctx context.Context, tx bun.IDB, entry *AuditEntry) (*AuditEntry, error)
	ListBySession(ctx context.Context, token string) ([]*AuditEntry, error)
	CountBySession(ctx context.Context, token string) (int, error)
}

type auditEntries struct {
	repository.Repository[*AuditEntry]
	db *bun.DB
}

var _ AuditEntries = (*auditEntries)(nil)

// NewAuditEntriesRepository returns the bun backed AuditEntries repository.
func NewAuditEntriesRepository(db *bun.DB) AuditEntries {
	repo := repository.NewRepository[*AuditEntry](db, repository.ModelHandlers[*AuditEntry]{
		NewRecord: func() *AuditEntry { return &AuditEntry{} },
		GetID: func(e *AuditEntry) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *AuditEntry, id uuid.UUID) {
			if e != nil {
				e.ID = id
			}
		},
		GetIdentifier: func() string {
			return "session_token"
		},
	})

	return &auditEntries{
		Repository: repo,
		db:         db,
	}
}

func (r *auditEntries) AppendTx(ctx context.Context, tx bun.IDB, entry *AuditEntry) (*AuditEntry, error) {
	if entry == nil {
		return nil, goerrors.New("audit entry must not be nil", goerrors.CategoryInternal)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.Repository.CreateTx(ctx, tx, entry)
}

func (r *auditEntries) ListBySession(ctx context.Context, token string) ([]*AuditEntry, error) {
	var records []*AuditEntry
	err := r.db.NewSelect().
		Model(&records).
		Where("session_token = ?", token).
		Order("occurred_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list audit entries")
	}
	return records, nil
}

func (r *auditEntries) CountBySession(ctx context.Context, token string) (int, error) {
	count, err := r.db.NewSelect().
		Model((*AuditEntry)(nil)).
		Where("session_token = ?", token).
		Count(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to count audit entries")
	}
	return count, nil
}
