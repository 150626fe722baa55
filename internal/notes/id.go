package notes

import (
	"strings"

	"github.com/google/uuid"
)

const suffixLength = 8

// IDProvider supplies the random suffix appended to generated note ids.
type IDProvider interface {
	NewSuffix() (string, error)
}

type uuidSuffixProvider struct{}

// NewUUIDSuffixProvider constructs an IDProvider backed by random UUIDs.
func NewUUIDSuffixProvider() IDProvider {
	return &uuidSuffixProvider{}
}

func (p *uuidSuffixProvider) NewSuffix() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	compact := strings.ReplaceAll(value.String(), "-", "")
	return compact[:suffixLength], nil
}
