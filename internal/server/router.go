package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridianhealthlab/chartnotes/internal/access"
	"github.com/meridianhealthlab/chartnotes/internal/attachments"
	"github.com/meridianhealthlab/chartnotes/internal/auth"
	"github.com/meridianhealthlab/chartnotes/internal/notes"
)

const principalContextKey = "chartnotes_principal"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingNoteRepository = errors.New("note repository dependency required")
	errMissingUploadBroker   = errors.New("upload broker dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a gateway-issued bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (auth.ClinicClaims, error)
}

// Dependencies carries everything the HTTP surface needs.
type Dependencies struct {
	TokenValidator TokenValidator
	NoteRepository *notes.Repository
	UploadBroker   *attachments.Broker
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the routed handler. All note and attachment routes
// sit behind the bearer middleware; only the health probe is open.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.NoteRepository == nil {
		return nil, errMissingNoteRepository
	}
	if deps.UploadBroker == nil {
		return nil, errMissingUploadBroker
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		validator: deps.TokenValidator,
		notes:     deps.NoteRepository,
		uploads:   deps.UploadBroker,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/patients/:patientId/notes", handler.handleCreateNote)
	protected.GET("/patients/:patientId/notes", handler.handleListNotes)
	protected.GET("/patients/:patientId/notes/:noteId", handler.handleGetNote)
	protected.PUT("/patients/:patientId/notes/:noteId", handler.handleUpdateNote)
	protected.DELETE("/patients/:patientId/notes/:noteId", handler.handleDeleteNote)
	protected.POST("/attachments/presign", handler.handlePresignUpload)

	return router, nil
}

type httpHandler struct {
	validator TokenValidator
	notes     *notes.Repository
	uploads   *attachments.Broker
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createNotePayload struct {
	Content       string   `json:"content"`
	Tags          []string `json:"tags"`
	StudyDate     *string  `json:"studyDate"`
	AttachmentKey *string  `json:"attachmentKey"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	principal, ok := h.principalFrom(c)
	if !ok {
		return
	}
	patientID, err := notes.NewPatientID(c.Param("patientId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_patient_id"})
		return
	}

	var request createNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := h.notes.Create(c.Request.Context(), principal, patientID, notes.Draft{
		Content:       request.Content,
		Tags:          request.Tags,
		StudyDate:     request.StudyDate,
		AttachmentKey: request.AttachmentKey,
	})
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	principal, ok := h.principalFrom(c)
	if !ok {
		return
	}
	patientID, err := notes.NewPatientID(c.Param("patientId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_patient_id"})
		return
	}

	limit := 0
	if rawLimit := c.Query("limit"); rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
	}

	page, err := h.notes.List(c.Request.Context(), principal, patientID, notes.ListQuery{
		Limit:  limit,
		Cursor: c.Query("cursor"),
		Tag:    c.Query("tag"),
		Search: c.Query("search"),
	})
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	principal, ok := h.principalFrom(c)
	if !ok {
		return
	}
	patientID, noteID, ok := h.notePathParams(c)
	if !ok {
		return
	}

	note, err := h.notes.Get(c.Request.Context(), principal, patientID, noteID)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

type updateNotePayload struct {
	Version       *int64   `json:"version"`
	Content       *string  `json:"content"`
	Tags          []string `json:"tags"`
	StudyDate     *string  `json:"studyDate"`
	AttachmentKey *string  `json:"attachmentKey"`
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	principal, ok := h.principalFrom(c)
	if !ok {
		return
	}
	patientID, noteID, ok := h.notePathParams(c)
	if !ok {
		return
	}

	var request updateNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Version == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version_required"})
		return
	}

	note, err := h.notes.Update(c.Request.Context(), principal, patientID, noteID, notes.Patch{
		Version:       *request.Version,
		Content:       request.Content,
		Tags:          request.Tags,
		StudyDate:     request.StudyDate,
		AttachmentKey: request.AttachmentKey,
	})
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	principal, ok := h.principalFrom(c)
	if !ok {
		return
	}
	patientID, noteID, ok := h.notePathParams(c)
	if !ok {
		return
	}

	if err := h.notes.Delete(c.Request.Context(), principal, patientID, noteID); err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type presignPayload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

func (h *httpHandler) handlePresignUpload(c *gin.Context) {
	principal, ok := h.principalFrom(c)
	if !ok {
		return
	}

	var request presignPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	grant, err := h.uploads.PresignUpload(c.Request.Context(), principal, request.Filename, request.ContentType)
	if err != nil {
		h.writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		// Expired tokens are routine client behavior, not an anomaly.
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	principal, err := auth.NewPrincipal(claims)
	if err != nil {
		h.logger.Warn("claims rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	c.Set(principalContextKey, principal)
	c.Next()
}

func (h *httpHandler) principalFrom(c *gin.Context) (auth.Principal, bool) {
	value, exists := c.Get(principalContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Principal{}, false
	}
	principal, ok := value.(auth.Principal)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return auth.Principal{}, false
	}
	return principal, true
}

func (h *httpHandler) notePathParams(c *gin.Context) (notes.PatientID, notes.NoteID, bool) {
	patientID, err := notes.NewPatientID(c.Param("patientId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_patient_id"})
		return "", "", false
	}
	noteID, err := notes.NewNoteID(c.Param("noteId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return "", "", false
	}
	return patientID, noteID, true
}

// writeDomainError maps domain sentinels onto HTTP statuses. Backing-store
// failures fall through to a generic 500 so internals never leak to clients.
func (h *httpHandler) writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, access.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, notes.ErrNotNoteAuthor):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_note_author"})
	case errors.Is(err, notes.ErrNoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
	case errors.Is(err, notes.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "version_conflict"})
	case errors.Is(err, notes.ErrContentRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_required"})
	case errors.Is(err, notes.ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
	case errors.Is(err, notes.ErrInvalidPatientID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_patient_id"})
	case errors.Is(err, notes.ErrInvalidNoteID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
	case errors.Is(err, attachments.ErrFilenameRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename_required"})
	case errors.Is(err, attachments.ErrContentTypeRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_type_required"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
