package notes

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidCursor indicates a continuation token that did not round-trip
// from a previous listing of the same partition.
var ErrInvalidCursor = errors.New("notes: invalid cursor")

// cursorPayload is the store-native continuation marker: the key of the last
// evaluated record. It never leaves the process unencoded.
type cursorPayload struct {
	PartitionKey string `json:"pk"`
	SortKey      string `json:"sk"`
}

func encodeCursor(pk, sk string) string {
	raw, _ := json.Marshal(cursorPayload{PartitionKey: pk, SortKey: sk})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// decodeCursor unpacks an opaque continuation token and returns the sort key
// to resume below. Tokens that fail to decode, carry blank keys, or were
// issued for a different partition are rejected.
func decodeCursor(token, expectedPK string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if payload.PartitionKey == "" || payload.SortKey == "" {
		return "", fmt.Errorf("%w: incomplete marker", ErrInvalidCursor)
	}
	if payload.PartitionKey != expectedPK {
		return "", fmt.Errorf("%w: partition mismatch", ErrInvalidCursor)
	}
	return payload.SortKey, nil
}
