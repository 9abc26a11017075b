package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-repository-bun"
	session "github.com/goliatone/go-session"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SessionStorageModel is the bun model backing BunStorage.
type SessionStorageModel struct {
	bun.BaseModel `bun:"table:session_storage"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	StorageKey string    `bun:"storage_key,notnull,unique"`
	Data       []byte    `bun:"data,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

// NewSessionStorageRepository builds the repository for SessionStorageModel,
// looked up by storage_key.
func NewSessionStorageRepository(db *bun.DB) repository.Repository[*SessionStorageModel] {
	return repository.NewRepository(db, repository.ModelHandlers[*SessionStorageModel]{
		NewRecord: func() *SessionStorageModel {
			return &SessionStorageModel{}
		},
		GetID: func(record *SessionStorageModel) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *SessionStorageModel, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "storage_key"
		},
	})
}

// BunStorage keeps the projection in the session_storage table.
type BunStorage struct {
	db   *bun.DB
	repo repository.Repository[*SessionStorageModel]
	now  func() time.Time
}

var _ session.Storage = (*BunStorage)(nil)

// NewBunStorage wraps db. Call CreateTable once when the schema is not
// managed by migrations.
func NewBunStorage(db *bun.DB) *BunStorage {
	return &BunStorage{
		db:   db,
		repo: NewSessionStorageRepository(db),
		now:  time.Now,
	}
}

// CreateTable creates session_storage if it does not exist.
func (s *BunStorage) CreateTable(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*SessionStorageModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (s *BunStorage) Load(ctx context.Context, key string) ([]byte, error) {
	record, err := s.repo.GetByIdentifierTx(ctx, s.db, key)
	if err != nil {
		if repository.IsRecordNotFound(err) || err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record.Data, nil
}

// Save upserts the blob stored under key.
func (s *BunStorage) Save(ctx context.Context, key string, data []byte) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &SessionStorageModel{
			StorageKey: key,
			Data:       data,
			UpdatedAt:  s.now().UTC(),
		}

		existing, err := s.repo.GetByIdentifierTx(ctx, tx, key)
		if err == nil {
			record.ID = existing.ID
			_, err = s.repo.UpdateTx(ctx, tx, record, repository.UpdateByID(existing.ID.String()))
			return err
		}

		if !repository.IsRecordNotFound(err) && err != sql.ErrNoRows {
			return err
		}

		record.ID = uuid.New()
		_, err = s.repo.CreateTx(ctx, tx, record)
		return err
	})
}
