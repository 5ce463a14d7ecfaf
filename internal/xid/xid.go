package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns "<prefix>-<uuid v7>" so ids sort by creation time.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// Short returns n lowercase hex characters of a random uuid, n capped at 32.
func Short(n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n <= 0 || n > len(raw) {
		n = len(raw)
	}
	return raw[:n]
}
