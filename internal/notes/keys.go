package notes

import (
	"fmt"
	"time"
)

const (
	keyDelimiter  = "#"
	sortKeyPrefix = "NOTE" + keyDelimiter
	noteIDPrefix  = "note_"

	// timestampLayout is fixed width so lexicographic sort-key order equals
	// creation order.
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// partitionKey derives the tenant-scoped partition key. The clinic id always
// comes from the principal, never from the request.
func partitionKey(clinicID string, patientID PatientID) string {
	return clinicID + keyDelimiter + patientID.String()
}

// sortKey derives the creation-ordered sort key within a partition.
func sortKey(createdAt, noteID string) string {
	return sortKeyPrefix + createdAt + keyDelimiter + noteID
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// newNoteID composes a note identifier from the creation instant and a random
// suffix. Millisecond precision plus the suffix makes collisions within one
// partition vanishingly unlikely.
func newNoteID(now time.Time, provider IDProvider) (string, error) {
	suffix, err := provider.NewSuffix()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d_%s", noteIDPrefix, now.UnixMilli(), suffix), nil
}
