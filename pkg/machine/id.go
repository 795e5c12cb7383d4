package machine

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates a machine id
func NewID() string {
	return newID("machine")
}

// NewSnapshotID generates a snapshot id
func NewSnapshotID() string {
	return newID("snapshot")
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
