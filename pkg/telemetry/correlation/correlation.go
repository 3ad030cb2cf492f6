// Package correlation carries the id that ties an API call, its ledger
// writes and its audit entries together across log lines.
package correlation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

const maxLength = 64

type key struct{}

// FromContext returns the correlation id on ctx, or "".
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key{}).(string)
	return id
}

// WithID stores id on ctx. Ids that are empty, too long or contain
// non-printable bytes are ignored so client headers cannot forge log lines.
func WithID(ctx context.Context, id string) context.Context {
	if !acceptable(id) {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// Ensure returns ctx carrying a correlation id, minting a ULID when none is set.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return context.WithValue(ctx, key{}, id), id
}

// IssuedAt reports when a generated id was minted. Ids supplied by clients
// are usually not ULIDs and report false.
func IssuedAt(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()).UTC(), true
}

func acceptable(id string) bool {
	if id == "" || len(id) > maxLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
