package impersonate

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions persists impersonation sessions.
type Sessions interface {
	repository.Repository[*Session]

	Insert(ctx context.Context, session *Session) (*Session, error)
	InsertTx(ctx context.Context, tx bun.IDB, session *Session) (*Session, error)
	GetByToken(ctx context.Context, token string) (*Session, error)
	GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*Session, error)
	// End marks the session as ended unless it already is. The bool reports
	// whether this call performed the transition.
	End(ctx context.Context, token string, reason EndReason, endedAt time.Time) (bool, error)
	EndTx(ctx context.Context, tx bun.IDB, token string, reason EndReason, endedAt time.Time) (bool, error)
	// LockLiveTx takes a row lock on a non-ended session inside tx. It
	// returns false when the session is unknown or already ended.
	LockLiveTx(ctx context.Context, tx bun.IDB, token string) (bool, error)
}

type sessions struct {
	repository.Repository[*Session]
	db *bun.DB
}

var (
	_ Sessions                        = (*sessions)(nil)
	_ repository.Repository[*Session] = (*sessions)(nil)
)

// NewSessionsRepository returns the bun backed Sessions repository.
func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*Session](db, repository.ModelHandlers[*Session]{
		NewRecord: func() *Session { return &Session{} },
		GetID: func(s *Session) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Session, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
		GetIdentifier: func() string {
			return "session_token"
		},
	})

	return &sessions{
		Repository: repo,
		db:         db,
	}
}

func (r *sessions) Insert(ctx context.Context, session *Session) (*Session, error) {
	return r.InsertTx(ctx, r.db, session)
}

func (r *sessions) InsertTx(ctx context.Context, tx bun.IDB, session *Session) (*Session, error) {
	if session == nil {
		return nil, goerrors.New("session must not be nil", goerrors.CategoryInternal)
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return r.Repository.CreateTx(ctx, tx, session)
}

func (r *sessions) GetByToken(ctx context.Context, token string) (*Session, error) {
	return r.GetByTokenTx(ctx, r.db, token)
}

func (r *sessions) GetByTokenTx(ctx context.Context, tx bun.IDB, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}

	record := &Session{}
	err := tx.NewSelect().
		Model(record).
		Where("session_token = ?", token).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load impersonation session")
	}
	return record, nil
}

func (r *sessions) End(ctx context.Context, token string, reason EndReason, endedAt time.Time) (bool, error) {
	return r.EndTx(ctx, r.db, token, reason, endedAt)
}

func (r *sessions) EndTx(ctx context.Context, tx bun.IDB, token string, reason EndReason, endedAt time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*Session)(nil)).
		Set("ended_at = ?", endedAt).
		Set("end_reason = ?", reason).
		Where("session_token = ?", token).
		Where("ended_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to end impersonation session")
	}
	return rowsAffected(res) > 0, nil
}

func (r *sessions) LockLiveTx(ctx context.Context, tx bun.IDB, token string) (bool, error) {
	// A no-op update takes the row lock on postgres and the write lock on
	// sqlite, so a concurrent End cannot commit in between.
	res, err := tx.NewUpdate().
		Model((*Session)(nil)).
		Set("session_token = session_token").
		Where("session_token = ?", token).
		Where("ended_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to lock impersonation session")
	}
	return rowsAffected(res) > 0, nil
}

func rowsAffected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
