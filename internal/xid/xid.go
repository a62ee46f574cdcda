package xid

import "github.com/google/uuid"

// New returns a random identifier such as "inv-5f0c...". The prefix names
// the kind of record it identifies.
func New(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
