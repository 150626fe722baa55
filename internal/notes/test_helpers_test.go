package notes

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianhealthlab/chartnotes/internal/access"
	"github.com/meridianhealthlab/chartnotes/internal/auth"
)

// stepClock hands out strictly increasing instants, one millisecond apart,
// so generated sort keys never collide within a test.
type stepClock struct {
	now time.Time
}

func newStepClock(start int64) *stepClock {
	return &stepClock{now: time.Unix(start, 0).UTC()}
}

func (c *stepClock) Now() time.Time {
	current := c.now
	c.now = c.now.Add(time.Millisecond)
	return current
}

type sequenceSuffixProvider struct {
	next int
}

func (p *sequenceSuffixProvider) NewSuffix() (string, error) {
	p.next++
	return fmt.Sprintf("%08d", p.next), nil
}

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	dbName := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", dbName)), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Note{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repository, err := NewRepository(RepositoryConfig{
		Database:   db,
		Gate:       access.NewGate(),
		Clock:      newStepClock(1700000000).Now,
		IDProvider: &sequenceSuffixProvider{},
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}
	return repository
}

func doctorPrincipal(clinicID, userID string) auth.Principal {
	return auth.Principal{
		UserID:   userID,
		Email:    userID + "@clinic.example",
		ClinicID: clinicID,
		Role:     access.RoleDoctor,
	}
}

func nursePrincipal(clinicID string) auth.Principal {
	return auth.Principal{UserID: "nurse-1", ClinicID: clinicID, Role: access.RoleNurse}
}

func adminPrincipal(clinicID string) auth.Principal {
	return auth.Principal{UserID: "admin-1", ClinicID: clinicID, Role: access.RoleAdmin}
}

func mustPatientID(t *testing.T, value string) PatientID {
	t.Helper()
	id, err := NewPatientID(value)
	if err != nil {
		t.Fatalf("unexpected patient id error: %v", err)
	}
	return id
}

func mustNoteID(t *testing.T, value string) NoteID {
	t.Helper()
	id, err := NewNoteID(value)
	if err != nil {
		t.Fatalf("unexpected note id error: %v", err)
	}
	return id
}

func mustCreate(t *testing.T, repository *Repository, principal auth.Principal, patientID PatientID, draft Draft) Note {
	t.Helper()
	note, err := repository.Create(context.Background(), principal, patientID, draft)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return note
}
