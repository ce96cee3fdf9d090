package impersonate

import (
	"context"
	"database/sql"
	"errors"
	"log"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Sessions() Sessions
	AuditEntries() AuditEntries
	Users() Users
}

type mngr struct {
	db           *bun.DB
	sessions     Sessions
	auditEntries AuditEntries
	users        Users
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:           db,
		sessions:     NewSessionsRepository(db),
		auditEntries: NewAuditEntriesRepository(db),
		users:        NewUsersRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	if m.auditEntries == nil {
		return errors.New("repository auditEntries should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Sessions() Sessions {
	return m.sessions
}

func (m mngr) AuditEntries() AuditEntries {
	return m.auditEntries
}

func (m mngr) Users() Users {
	return m.users
}

// CreateSchema creates the tables used by the repositories when missing.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*User)(nil),
		(*Session)(nil),
		(*AuditEntry)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create schema")
		}
	}

	_, err := db.NewCreateIndex().
		Model((*AuditEntry)(nil)).
		Index("idx_impersonation_audit_entries_session_token").
		Column("session_token").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create schema")
	}
	return nil
}
