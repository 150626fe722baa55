package notes

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidPatientID indicates that a patient identifier is empty,
	// exceeds storage bounds, or contains the key delimiter.
	ErrInvalidPatientID = errors.New("notes: invalid patient id")
	// ErrInvalidNoteID indicates that a note identifier is empty, exceeds
	// storage bounds, or contains the key delimiter.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
)

// PatientID represents a validated patient identifier.
type PatientID string

// NewPatientID validates raw input and returns a PatientID.
func NewPatientID(rawInput string) (PatientID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPatientID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPatientID, maxIdentifierLength)
	}
	if strings.Contains(trimmed, keyDelimiter) {
		return "", fmt.Errorf("%w: contains reserved delimiter", ErrInvalidPatientID)
	}
	return PatientID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PatientID) String() string {
	return string(id)
}

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	if strings.Contains(trimmed, keyDelimiter) {
		return "", fmt.Errorf("%w: contains reserved delimiter", ErrInvalidNoteID)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// Note is the persisted clinical note. The composite primary key holds the
// tenant-scoped partition key (clinicId#patientId) and the creation-ordered
// sort key (NOTE#createdAt#noteId); a descending scan of one partition yields
// the patient's notes newest first, and no cross-clinic collision is possible
// because the clinic id is part of every partition key.
type Note struct {
	PartitionKey  string   `gorm:"column:pk;primaryKey;size:381;not null" json:"-"`
	SortKey       string   `gorm:"column:sk;primaryKey;size:255;not null" json:"-"`
	NoteID        string   `gorm:"column:note_id;size:190;not null" json:"noteId"`
	PatientID     string   `gorm:"column:patient_id;size:190;not null" json:"patientId"`
	ClinicID      string   `gorm:"column:clinic_id;size:190;not null" json:"clinicId"`
	AuthorID      string   `gorm:"column:author_id;size:190;not null" json:"authorId"`
	AuthorEmail   string   `gorm:"column:author_email;size:320" json:"authorEmail"`
	Content       string   `gorm:"column:content;type:text;not null" json:"content"`
	Tags          []string `gorm:"column:tags;serializer:json" json:"tags"`
	StudyDate     *string  `gorm:"column:study_date;size:64" json:"studyDate"`
	AttachmentKey *string  `gorm:"column:attachment_key;size:512" json:"attachmentKey"`
	Version       int64    `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt     string   `gorm:"column:created_at;size:32;not null" json:"createdAt"`
	UpdatedAt     string   `gorm:"column:updated_at;size:32;not null" json:"updatedAt"`
	DeletedAt     *string  `gorm:"column:deleted_at;size:32" json:"deletedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "clinical_notes"
}

// Draft carries the caller-supplied fields of a new note.
type Draft struct {
	Content       string
	Tags          []string
	StudyDate     *string
	AttachmentKey *string
}

// Patch describes an update. Version must match the stored note's current
// version. Nil fields are left untouched.
type Patch struct {
	Version       int64
	Content       *string
	Tags          []string
	StudyDate     *string
	AttachmentKey *string
}

// ListQuery bounds and filters a partition listing.
type ListQuery struct {
	Limit  int
	Cursor string
	Tag    string
	Search string
}

// Page is one listing result. Cursor is nil when the partition range is
// exhausted; otherwise callers pass it back unchanged to continue.
type Page struct {
	Notes  []Note  `json:"notes"`
	Cursor *string `json:"cursor"`
}
