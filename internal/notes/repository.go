package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianhealthlab/chartnotes/internal/access"
	"github.com/meridianhealthlab/chartnotes/internal/auth"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingGate       = errors.New("permission gate is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrNoteNotFound indicates the target note is absent or soft-deleted.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrVersionConflict indicates the patch version did not match the
	// stored version; nothing was written.
	ErrVersionConflict = errors.New("notes: version conflict")
	// ErrNotNoteAuthor indicates a non-admin caller tried to update a note
	// they did not author.
	ErrNotNoteAuthor = errors.New("notes: caller is not the note author")
	// ErrContentRequired indicates a create or content patch with blank content.
	ErrContentRequired = errors.New("notes: content is required")
)

// RepositoryError wraps a backing-store failure with a dotted operation code.
type RepositoryError struct {
	code string
	err  error
}

func (e *RepositoryError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *RepositoryError) Unwrap() error {
	return e.err
}

func (e *RepositoryError) Code() string {
	return e.code
}

const (
	opRepositoryNew = "notes.repository.new"
	opCreate        = "notes.create"
	opList          = "notes.list"
	opGet           = "notes.get"
	opUpdate        = "notes.update"
	opDelete        = "notes.delete"
)

func newRepositoryError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &RepositoryError{code: code, err: cause}
}

// RepositoryConfig describes the dependencies of the note repository.
type RepositoryConfig struct {
	Database   *gorm.DB
	Gate       *access.Gate
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Repository implements the note store over a single flat keyed table. It
// holds no mutable state of its own: correctness relies on per-record write
// atomicity and the version precondition in Update.
//
// Point reads are partition range scans followed by an in-memory match on the
// note id. This trades read volume for a key scheme without secondary
// indexes and stays bounded by expected per-patient note counts.
type Repository struct {
	db         *gorm.DB
	gate       *access.Gate
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewRepository constructs a Repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if cfg.Database == nil {
		return nil, newRepositoryError(opRepositoryNew, "missing_database", errMissingDatabase)
	}
	if cfg.Gate == nil {
		return nil, newRepositoryError(opRepositoryNew, "missing_gate", errMissingGate)
	}
	if cfg.IDProvider == nil {
		return nil, newRepositoryError(opRepositoryNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Repository{
		db:         cfg.Database,
		gate:       cfg.Gate,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create writes a new note under the caller's clinic. The generated note id
// and creation instant make the composite key fresh, so the write is
// unconditional.
func (r *Repository) Create(ctx context.Context, principal auth.Principal, patientID PatientID, draft Draft) (Note, error) {
	if err := r.gate.Require(principal.Role, access.ActionCreate); err != nil {
		return Note{}, err
	}
	content := strings.TrimSpace(draft.Content)
	if content == "" {
		return Note{}, ErrContentRequired
	}

	now := r.clock().UTC()
	createdAt := formatTimestamp(now)
	noteID, err := newNoteID(now, r.idProvider)
	if err != nil {
		r.logError(opCreate, "id_generation_failed", err, zap.String("clinic_id", principal.ClinicID))
		return Note{}, newRepositoryError(opCreate, "id_generation_failed", err)
	}

	tags := draft.Tags
	if tags == nil {
		tags = []string{}
	}

	note := Note{
		PartitionKey:  partitionKey(principal.ClinicID, patientID),
		SortKey:       sortKey(createdAt, noteID),
		NoteID:        noteID,
		PatientID:     patientID.String(),
		ClinicID:      principal.ClinicID,
		AuthorID:      principal.UserID,
		AuthorEmail:   principal.Email,
		Content:       content,
		Tags:          tags,
		StudyDate:     draft.StudyDate,
		AttachmentKey: draft.AttachmentKey,
		Version:       1,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}

	if err := r.db.WithContext(ctx).Create(&note).Error; err != nil {
		r.logError(opCreate, "store_put_failed", err,
			zap.String("clinic_id", principal.ClinicID),
			zap.String("patient_id", patientID.String()))
		return Note{}, newRepositoryError(opCreate, "store_put_failed", err)
	}

	return note, nil
}

// List returns one page of the partition, newest first. Deleted-note
// exclusion and the tag/search filters run after the page fetch, so a
// filtered page may hold fewer than Limit notes while more matches remain
// further down the range; callers follow the cursor to continue.
func (r *Repository) List(ctx context.Context, principal auth.Principal, patientID PatientID, query ListQuery) (Page, error) {
	if err := r.gate.Require(principal.Role, access.ActionRead); err != nil {
		return Page{}, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	pk := partitionKey(principal.ClinicID, patientID)
	tx := r.db.WithContext(ctx).
		Where("pk = ? AND sk LIKE ?", pk, sortKeyPrefix+"%")
	if query.Cursor != "" {
		resumeBelow, err := decodeCursor(query.Cursor, pk)
		if err != nil {
			return Page{}, err
		}
		tx = tx.Where("sk < ?", resumeBelow)
	}

	var rows []Note
	if err := tx.Order("sk DESC").Limit(limit).Find(&rows).Error; err != nil {
		r.logError(opList, "range_query_failed", err, zap.String("clinic_id", principal.ClinicID))
		return Page{}, newRepositoryError(opList, "range_query_failed", err)
	}

	filtered := make([]Note, 0, len(rows))
	search := strings.ToLower(query.Search)
	for _, note := range rows {
		if note.DeletedAt != nil {
			continue
		}
		if query.Tag != "" && !containsTag(note.Tags, query.Tag) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(note.Content), search) {
			continue
		}
		filtered = append(filtered, note)
	}

	page := Page{Notes: filtered}
	if len(rows) == limit {
		next := encodeCursor(pk, rows[len(rows)-1].SortKey)
		page.Cursor = &next
	}
	return page, nil
}

// Get returns the active note with the given id, or ErrNoteNotFound.
func (r *Repository) Get(ctx context.Context, principal auth.Principal, patientID PatientID, noteID NoteID) (Note, error) {
	if err := r.gate.Require(principal.Role, access.ActionRead); err != nil {
		return Note{}, err
	}
	return r.findActive(ctx, opGet, principal.ClinicID, patientID, noteID)
}

// Update applies the patch under optimistic concurrency: the note must exist
// and be active, the caller must be its author unless their role is admin,
// and the patch version must equal the stored version. On success the
// version advances by exactly one and the record is written back under its
// original key.
func (r *Repository) Update(ctx context.Context, principal auth.Principal, patientID PatientID, noteID NoteID, patch Patch) (Note, error) {
	if err := r.gate.Require(principal.Role, access.ActionUpdate); err != nil {
		return Note{}, err
	}

	note, err := r.findActive(ctx, opUpdate, principal.ClinicID, patientID, noteID)
	if err != nil {
		return Note{}, err
	}
	if principal.Role != access.RoleAdmin && note.AuthorID != principal.UserID {
		return Note{}, ErrNotNoteAuthor
	}
	if patch.Version != note.Version {
		return Note{}, fmt.Errorf("%w: have %d, got %d", ErrVersionConflict, note.Version, patch.Version)
	}

	if patch.Content != nil {
		content := strings.TrimSpace(*patch.Content)
		if content == "" {
			return Note{}, ErrContentRequired
		}
		note.Content = content
	}
	if patch.Tags != nil {
		note.Tags = patch.Tags
	}
	if patch.StudyDate != nil {
		note.StudyDate = patch.StudyDate
	}
	if patch.AttachmentKey != nil {
		note.AttachmentKey = patch.AttachmentKey
	}

	note.Version++
	note.UpdatedAt = formatTimestamp(r.clock().UTC())

	if err := r.db.WithContext(ctx).Save(&note).Error; err != nil {
		r.logError(opUpdate, "store_put_failed", err,
			zap.String("clinic_id", principal.ClinicID),
			zap.String("note_id", noteID.String()))
		return Note{}, newRepositoryError(opUpdate, "store_put_failed", err)
	}

	return note, nil
}

// Delete soft-deletes the note: deletedAt is set once, the version is left
// untouched, and the record is retained under its key. Deleting an absent or
// already-deleted note reports ErrNoteNotFound. Deletion is gated by role
// only; the author check applied on update intentionally does not apply here.
func (r *Repository) Delete(ctx context.Context, principal auth.Principal, patientID PatientID, noteID NoteID) error {
	if err := r.gate.Require(principal.Role, access.ActionDelete); err != nil {
		return err
	}

	note, err := r.findActive(ctx, opDelete, principal.ClinicID, patientID, noteID)
	if err != nil {
		return err
	}

	deletedAt := formatTimestamp(r.clock().UTC())
	note.DeletedAt = &deletedAt
	note.UpdatedAt = deletedAt

	if err := r.db.WithContext(ctx).Save(&note).Error; err != nil {
		r.logError(opDelete, "store_put_failed", err,
			zap.String("clinic_id", principal.ClinicID),
			zap.String("note_id", noteID.String()))
		return newRepositoryError(opDelete, "store_put_failed", err)
	}

	return nil
}

// findActive scans the partition range and matches the note id in memory,
// skipping soft-deleted records.
func (r *Repository) findActive(ctx context.Context, operation, clinicID string, patientID PatientID, noteID NoteID) (Note, error) {
	var rows []Note
	err := r.db.WithContext(ctx).
		Where("pk = ? AND sk LIKE ?", partitionKey(clinicID, patientID), sortKeyPrefix+"%").
		Order("sk DESC").
		Find(&rows).Error
	if err != nil {
		r.logError(operation, "range_query_failed", err,
			zap.String("clinic_id", clinicID),
			zap.String("note_id", noteID.String()))
		return Note{}, newRepositoryError(operation, "range_query_failed", err)
	}

	for _, note := range rows {
		if note.NoteID == noteID.String() && note.DeletedAt == nil {
			return note, nil
		}
	}
	return Note{}, ErrNoteNotFound
}

func containsTag(tags []string, wanted string) bool {
	for _, tag := range tags {
		if tag == wanted {
			return true
		}
	}
	return false
}

func (r *Repository) loggerOrDefault() *zap.Logger {
	if r == nil || r.logger == nil {
		return noOpLogger
	}
	return r.logger
}

func (r *Repository) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	r.loggerOrDefault().Error("note repository error", attrs...)
}
