package authsession

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Records is the bun-backed RecordStore plus the generic repository surface.
type Records interface {
	repository.Repository[*UserRecord]
	RecordStore

	// UpdateFields persists field changes for a subject and notifies every
	// live handle observing that record.
	UpdateFields(ctx context.Context, subjectID string, fields map[string]string) (*UserRecord, error)
	// SearchSubjects resolves subjects whose search-index keys match the
	// lowercased prefix.
	SearchSubjects(ctx context.Context, prefix string) ([]string, error)
}

type records struct {
	repository.Repository[*UserRecord]
	db     *bun.DB
	mu     sync.Mutex
	live   map[string][]*LiveRecord
	logger Logger
}

var (
	_ Records     = (*records)(nil)
	_ RecordStore = (*records)(nil)
)

// RecordsOption customizes the records repository.
type RecordsOption func(*records)

// WithRecordsLogger overrides the repository logger.
func WithRecordsLogger(logger Logger) RecordsOption {
	return func(r *records) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRecordsRepository returns the default RecordStore backed by bun.
func NewRecordsRepository(db *bun.DB, opts ...RecordsOption) Records {
	repo := repository.NewRepository[*UserRecord](db, repository.ModelHandlers[*UserRecord]{
		NewRecord: func() *UserRecord { return &UserRecord{} },
		GetID: func(r *UserRecord) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *UserRecord, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
		GetIdentifier: func() string {
			return "subject_id"
		},
	})

	recs := &records{
		Repository: repo,
		db:         db,
		live:       map[string][]*LiveRecord{},
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(recs)
		}
	}

	return recs
}

// LoadOrCreate returns a live handle for the subject's record, creating the
// row on first sight. onFirstCreate fires asynchronously only when the row
// did not exist before; a resume after process restart finds the row and
// stays quiet.
func (r *records) LoadOrCreate(ctx context.Context, identity Identity, fields map[string]string, onFirstCreate func(*LiveRecord)) (*LiveRecord, error) {
	subjectID := identity.ID()

	record := &UserRecord{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.subject_id = ?", subjectID).
		Limit(1).
		Scan(ctx)

	created := false
	if err != nil {
		if !repository.IsRecordNotFound(err) && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		record = recordFromFields(subjectID, fields)
		if record, err = r.Repository.CreateTx(ctx, r.db, record); err != nil {
			return nil, err
		}
		created = true

		if err := r.seedSearchIndex(ctx, record); err != nil {
			r.logger.Warn("failed to seed search index subject=%s: %v", subjectID, err)
		}
	}

	handle := r.track(subjectID, record)

	if created && onFirstCreate != nil {
		go onFirstCreate(handle)
	}

	return handle, nil
}

func (r *records) UpdateFields(ctx context.Context, subjectID string, fields map[string]string) (*UserRecord, error) {
	current, err := r.Repository.GetByIdentifierTx(ctx, r.db, subjectID)
	if err != nil {
		return nil, err
	}

	applyFields(current, fields)

	updated, err := r.Repository.UpdateTx(ctx, r.db, current, repository.UpdateByID(current.ID.String()))
	if err != nil {
		return nil, err
	}

	r.notify(subjectID, updated)

	return updated, nil
}

func (r *records) SearchSubjects(ctx context.Context, prefix string) ([]string, error) {
	var entries []SearchEntry
	err := r.db.NewSelect().
		Model(&entries).
		Where("?TableAlias.key LIKE ?", strings.ToLower(prefix)+"%").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	subjects := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.SubjectID]; ok {
			continue
		}
		seen[entry.SubjectID] = struct{}{}
		subjects = append(subjects, entry.SubjectID)
	}

	return subjects, nil
}

// seedSearchIndex lists the record twice, once by first name and once by
// last name, with the subject id appended to guarantee uniqueness.
func (r *records) seedSearchIndex(ctx context.Context, record *UserRecord) error {
	if record.FirstName == "" || record.LastName == "" {
		return nil
	}

	entries := []SearchEntry{
		{
			ID:        uuid.New(),
			Key:       searchKey(record.FirstName, record.LastName, record.SubjectID),
			SubjectID: record.SubjectID,
		},
		{
			ID:        uuid.New(),
			Key:       searchKey(record.LastName, record.FirstName, record.SubjectID),
			SubjectID: record.SubjectID,
		},
	}

	_, err := r.db.NewInsert().
		Model(&entries).
		On("CONFLICT (key) DO NOTHING").
		Exec(ctx)

	return err
}

func (r *records) track(subjectID string, record *UserRecord) *LiveRecord {
	var handle *LiveRecord
	handle = NewLiveRecord(record, func() {
		r.untrack(subjectID, handle)
	})

	r.mu.Lock()
	r.live[subjectID] = append(r.live[subjectID], handle)
	r.mu.Unlock()

	return handle
}

func (r *records) untrack(subjectID string, handle *LiveRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := r.live[subjectID]
	for i, h := range handles {
		if h == handle {
			r.live[subjectID] = append(handles[:i], handles[i+1:]...)
			break
		}
	}
	if len(r.live[subjectID]) == 0 {
		delete(r.live, subjectID)
	}
}

func (r *records) notify(subjectID string, record *UserRecord) {
	r.mu.Lock()
	handles := append([]*LiveRecord(nil), r.live[subjectID]...)
	r.mu.Unlock()

	for _, handle := range handles {
		snapshot := *record
		handle.apply(&snapshot)
	}
}

// recordFromFields splits the provider context into named columns and keeps
// the remainder as metadata. The record id is derived from the subject so
// the same subject always maps to the same row.
func recordFromFields(subjectID string, fields map[string]string) *UserRecord {
	record := &UserRecord{SubjectID: subjectID}

	if id, err := hashid.NewUUID(subjectID); err == nil {
		record.ID = id
	} else {
		record.ID = uuid.New()
	}

	applyFields(record, fields)

	return record
}

func applyFields(record *UserRecord, fields map[string]string) {
	for k, v := range fields {
		switch k {
		case FieldSubjectID:
			// Already pinned by the caller.
		case FieldFirstName:
			record.FirstName = v
		case FieldLastName:
			record.LastName = v
		case FieldPhone:
			record.Phone = normalizePhone(v)
		default:
			record.AddMetadata(k, v)
		}
	}
}

func searchKey(a, b, subjectID string) string {
	return strings.ToLower(fmt.Sprintf("%s_%s_%s", a, b, subjectID))
}
