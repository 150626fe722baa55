// Package attachments brokers presigned upload grants so note attachments
// travel directly between the client and object storage.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhealthlab/chartnotes/internal/access"
	"github.com/meridianhealthlab/chartnotes/internal/auth"
)

const defaultGrantTTL = time.Hour

var (
	errMissingPresigner = errors.New("presigner is required")
	errMissingGate      = errors.New("permission gate is required")
	noOpLogger          = zap.NewNop()

	// ErrFilenameRequired indicates a presign request without a filename.
	ErrFilenameRequired = errors.New("attachments: filename is required")
	// ErrContentTypeRequired indicates a presign request without a content type.
	ErrContentTypeRequired = errors.New("attachments: content type is required")
)

// Presigner signs a direct PUT against the attachment bucket. The returned
// URL authorizes exactly one key and content type until expiry.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
}

// Grant is a signed upload slot. Callers PUT to URL and then record Key on
// the note they are attaching to.
type Grant struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// BrokerConfig describes the dependencies of the upload broker.
type BrokerConfig struct {
	Presigner Presigner
	Gate      *access.Gate
	Clock     func() time.Time
	GrantTTL  time.Duration
	Logger    *zap.Logger
}

// Broker hands out upload grants scoped to the caller's clinic.
type Broker struct {
	presigner Presigner
	gate      *access.Gate
	clock     func() time.Time
	grantTTL  time.Duration
	logger    *zap.Logger
}

// NewBroker constructs a Broker.
func NewBroker(cfg BrokerConfig) (*Broker, error) {
	if cfg.Presigner == nil {
		return nil, fmt.Errorf("attachments.broker.new.missing_presigner: %w", errMissingPresigner)
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("attachments.broker.new.missing_gate: %w", errMissingGate)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	grantTTL := cfg.GrantTTL
	if grantTTL <= 0 {
		grantTTL = defaultGrantTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Broker{
		presigner: cfg.Presigner,
		gate:      cfg.Gate,
		clock:     clock,
		grantTTL:  grantTTL,
		logger:    logger,
	}, nil
}

// PresignUpload issues a grant for one attachment upload. The object key is
// prefixed with the caller's clinic so buckets stay partitioned per tenant,
// and a millisecond stamp keeps repeated uploads of the same filename from
// colliding.
func (b *Broker) PresignUpload(ctx context.Context, principal auth.Principal, filename, contentType string) (Grant, error) {
	if err := b.gate.Require(principal.Role, access.ActionPresign); err != nil {
		return Grant{}, err
	}

	filename = strings.TrimSpace(filename)
	if filename == "" {
		return Grant{}, ErrFilenameRequired
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return Grant{}, ErrContentTypeRequired
	}

	key := fmt.Sprintf("%s/%d_%s", principal.ClinicID, b.clock().UTC().UnixMilli(), filename)

	uploadURL, err := b.presigner.PresignPut(ctx, key, contentType, b.grantTTL)
	if err != nil {
		b.logger.Error("attachment presign failed",
			zap.String("operation", "attachments.presign"),
			zap.String("clinic_id", principal.ClinicID),
			zap.Error(err))
		return Grant{}, fmt.Errorf("attachments.presign.sign_failed: %w", err)
	}

	return Grant{URL: uploadURL, Key: key}, nil
}
