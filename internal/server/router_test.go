package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meridianhealthlab/chartnotes/internal/access"
	"github.com/meridianhealthlab/chartnotes/internal/attachments"
	"github.com/meridianhealthlab/chartnotes/internal/auth"
	"github.com/meridianhealthlab/chartnotes/internal/notes"
)

type stepClock struct {
	now time.Time
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

type fakePresigner struct{}

func (fakePresigner) PresignPut(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://storage.example/" + key + "?signed", nil
}

type testEnv struct {
	handler   http.Handler
	validator *auth.TokenValidator
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbName := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:server_%s?mode=memory&cache=shared", dbName)), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&notes.Note{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	gate := access.NewGate()
	clock := &stepClock{now: time.Unix(1700000000, 0).UTC()}

	repository, err := notes.NewRepository(notes.RepositoryConfig{
		Database:   db,
		Gate:       gate,
		Clock:      clock.Now,
		IDProvider: &sequenceSuffixProvider{},
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build repository: %v", err)
	}

	broker, err := attachments.NewBroker(attachments.BrokerConfig{
		Presigner: fakePresigner{},
		Gate:      gate,
		Clock:     clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to build broker: %v", err)
	}

	validator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte("router-test-secret"),
		Issuer:        "chartnotes-auth",
	})
	if err != nil {
		t.Fatalf("failed to build validator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenValidator: validator,
		NoteRepository: repository,
		UploadBroker:   broker,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return testEnv{handler: handler, validator: validator}
}

func (env testEnv) token(t *testing.T, principal auth.Principal) string {
	t.Helper()
	token, err := env.validator.IssueToken(principal)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (env testEnv) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, target, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeNote(t *testing.T, recorder *httptest.ResponseRecorder) notes.Note {
	t.Helper()
	var note notes.Note
	if err := json.Unmarshal(recorder.Body.Bytes(), &note); err != nil {
		t.Fatalf("failed to decode note: %v", err)
	}
	return note
}

func doctor(clinicID, userID string) auth.Principal {
	return auth.Principal{UserID: userID, Email: userID + "@clinic.example", ClinicID: clinicID, Role: access.RoleDoctor}
}

func TestHealthEndpointIsOpen(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodGet, "/healthz", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestNoteRoutesRequireBearerToken(t *testing.T) {
	env := newTestEnv(t)

	recorder := env.do(t, http.MethodGet, "/patients/patient-1/notes", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodGet, "/patients/patient-1/notes", "garbage-token", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", recorder.Code)
	}
}

func TestTokenWithoutClinicClaimIsRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, auth.Principal{UserID: "doc-1", Role: access.RoleDoctor})

	recorder := env.do(t, http.MethodGet, "/patients/patient-1/notes", token, nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for claims without clinic, got %d", recorder.Code)
	}
}

func TestNoteLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, doctor("clinic-a", "doc-1"))

	created := env.do(t, http.MethodPost, "/patients/patient-1/notes", token, gin.H{
		"content": "Initial assessment",
		"tags":    []string{"intake"},
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("unexpected create status: %d body %s", created.Code, created.Body.String())
	}
	note := decodeNote(t, created)
	if note.NoteID == "" || note.Version != 1 {
		t.Fatalf("unexpected created note: %+v", note)
	}

	listed := env.do(t, http.MethodGet, "/patients/patient-1/notes", token, nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("unexpected list status: %d", listed.Code)
	}
	var page notes.Page
	if err := json.Unmarshal(listed.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode page: %v", err)
	}
	if len(page.Notes) != 1 || page.Notes[0].NoteID != note.NoteID {
		t.Fatalf("unexpected listing: %+v", page)
	}
	if page.Cursor != nil {
		t.Fatalf("expected nil cursor on exhausted partition")
	}

	fetched := env.do(t, http.MethodGet, "/patients/patient-1/notes/"+note.NoteID, token, nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("unexpected get status: %d", fetched.Code)
	}

	updated := env.do(t, http.MethodPut, "/patients/patient-1/notes/"+note.NoteID, token, gin.H{
		"version": 1,
		"content": "Amended assessment",
	})
	if updated.Code != http.StatusOK {
		t.Fatalf("unexpected update status: %d body %s", updated.Code, updated.Body.String())
	}
	amended := decodeNote(t, updated)
	if amended.Version != 2 || amended.Content != "Amended assessment" {
		t.Fatalf("unexpected updated note: %+v", amended)
	}
}

func TestStaleVersionYieldsConflict(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, doctor("clinic-a", "doc-1"))

	created := decodeNote(t, env.do(t, http.MethodPost, "/patients/patient-1/notes", token, gin.H{"content": "v1"}))

	first := env.do(t, http.MethodPut, "/patients/patient-1/notes/"+created.NoteID, token, gin.H{"version": 1, "content": "v2"})
	if first.Code != http.StatusOK {
		t.Fatalf("unexpected update status: %d", first.Code)
	}

	replay := env.do(t, http.MethodPut, "/patients/patient-1/notes/"+created.NoteID, token, gin.H{"version": 1, "content": "v2-replay"})
	if replay.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d", replay.Code)
	}
}

func TestUpdateWithoutVersionIsRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, doctor("clinic-a", "doc-1"))

	created := decodeNote(t, env.do(t, http.MethodPost, "/patients/patient-1/notes", token, gin.H{"content": "x"}))

	recorder := env.do(t, http.MethodPut, "/patients/patient-1/notes/"+created.NoteID, token, gin.H{"content": "y"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing version, got %d", recorder.Code)
	}
}

func TestCreateWithBlankContentIsRejected(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, doctor("clinic-a", "doc-1"))

	recorder := env.do(t, http.MethodPost, "/patients/patient-1/notes", token, gin.H{"content": "   "})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank content, got %d", recorder.Code)
	}
}

func TestRoleDenialsMapToForbidden(t *testing.T) {
	env := newTestEnv(t)
	doctorToken := env.token(t, doctor("clinic-a", "doc-1"))
	nurseToken := env.token(t, auth.Principal{UserID: "nurse-1", ClinicID: "clinic-a", Role: access.RoleNurse})

	created := decodeNote(t, env.do(t, http.MethodPost, "/patients/patient-1/notes", doctorToken, gin.H{"content": "x"}))

	if recorder := env.do(t, http.MethodPost, "/patients/patient-1/notes", nurseToken, gin.H{"content": "x"}); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for nurse create, got %d", recorder.Code)
	}
	if recorder := env.do(t, http.MethodDelete, "/patients/patient-1/notes/"+created.NoteID, doctorToken, nil); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for doctor delete, got %d", recorder.Code)
	}

	otherDoctorToken := env.token(t, doctor("clinic-a", "doc-2"))
	recorder := env.do(t, http.MethodPut, "/patients/patient-1/notes/"+created.NoteID, otherDoctorToken, gin.H{"version": 1, "content": "y"})
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-author update, got %d", recorder.Code)
	}
}

func TestDeleteThenGetReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	doctorToken := env.token(t, doctor("clinic-a", "doc-1"))
	adminToken := env.token(t, auth.Principal{UserID: "admin-1", ClinicID: "clinic-a", Role: access.RoleAdmin})

	created := decodeNote(t, env.do(t, http.MethodPost, "/patients/patient-1/notes", doctorToken, gin.H{"content": "x"}))

	deleted := env.do(t, http.MethodDelete, "/patients/patient-1/notes/"+created.NoteID, adminToken, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", deleted.Code)
	}

	fetched := env.do(t, http.MethodGet, "/patients/patient-1/notes/"+created.NoteID, doctorToken, nil)
	if fetched.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", fetched.Code)
	}
}

func TestCrossClinicAccessIsInvisible(t *testing.T) {
	env := newTestEnv(t)
	clinicAToken := env.token(t, doctor("clinic-a", "doc-a"))
	clinicBToken := env.token(t, doctor("clinic-b", "doc-b"))

	created := decodeNote(t, env.do(t, http.MethodPost, "/patients/patient-1/notes", clinicAToken, gin.H{"content": "clinic A only"}))

	recorder := env.do(t, http.MethodGet, "/patients/patient-1/notes/"+created.NoteID, clinicBToken, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 across clinics, got %d", recorder.Code)
	}
}

func TestListValidatesQueryParameters(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, doctor("clinic-a", "doc-1"))

	if recorder := env.do(t, http.MethodGet, "/patients/patient-1/notes?limit=abc", token, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric limit, got %d", recorder.Code)
	}
	if recorder := env.do(t, http.MethodGet, "/patients/patient-1/notes?limit=0", token, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero limit, got %d", recorder.Code)
	}
	if recorder := env.do(t, http.MethodGet, "/patients/patient-1/notes?cursor=not-a-cursor", token, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed cursor, got %d", recorder.Code)
	}
}

func TestPresignUploadOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, doctor("clinic-a", "doc-1"))

	recorder := env.do(t, http.MethodPost, "/attachments/presign", token, gin.H{
		"filename":    "scan.pdf",
		"contentType": "application/pdf",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected presign status: %d body %s", recorder.Code, recorder.Body.String())
	}

	var grant attachments.Grant
	if err := json.Unmarshal(recorder.Body.Bytes(), &grant); err != nil {
		t.Fatalf("failed to decode grant: %v", err)
	}
	if !strings.HasPrefix(grant.Key, "clinic-a/") || !strings.HasSuffix(grant.Key, "_scan.pdf") {
		t.Fatalf("unexpected grant key: %s", grant.Key)
	}
	if grant.URL == "" {
		t.Fatalf("expected signed url")
	}

	missing := env.do(t, http.MethodPost, "/attachments/presign", token, gin.H{"contentType": "application/pdf"})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing filename, got %d", missing.Code)
	}
}
