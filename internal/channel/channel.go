package channel

import (
	"strings"
	"time"

	"github.com/smallbiznis/payables/pkg/apperr"
)

// Channel identifies one of the two isolated document ledgers.
type Channel string

const (
	// Fiscal holds legally filed, tax-relevant documents.
	Fiscal Channel = "FISCAL"
	// Internal holds management-only documents. Access requires a grant.
	Internal Channel = "INTERNAL"
)

var (
	ErrInvalidChannel    = apperr.Validation("invalid_channel", "channel must be FISCAL or INTERNAL")
	ErrChannelNotGranted = apperr.Forbidden("channel_not_granted", "internal channel requires an active grant")
)

// Parse normalizes a raw channel value. An empty value resolves to Fiscal.
func Parse(raw string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", string(Fiscal):
		return Fiscal, nil
	case string(Internal):
		return Internal, nil
	default:
		return "", ErrInvalidChannel
	}
}

func (c Channel) Valid() bool {
	return c == Fiscal || c == Internal
}

func (c Channel) String() string { return string(c) }

// Grant is the capability a caller presents to act on a channel.
// Granted and ExpiresAt come from the external activation flow and are trusted as-is.
type Grant struct {
	Channel   Channel
	Granted   bool
	ExpiresAt time.Time
}

// FiscalGrant returns the grant every caller holds for the fiscal channel.
func FiscalGrant() Grant {
	return Grant{Channel: Fiscal}
}

// InternalGrant returns an internal-channel grant valid until expiresAt.
func InternalGrant(expiresAt time.Time) Grant {
	return Grant{Channel: Internal, Granted: true, ExpiresAt: expiresAt}
}

// Resolve returns the channel the grant allows acting on at now.
func (g Grant) Resolve(now time.Time) (Channel, error) {
	switch g.Channel {
	case Fiscal:
		return Fiscal, nil
	case Internal:
		if !g.Granted || g.ExpiresAt.IsZero() || !now.Before(g.ExpiresAt) {
			return "", ErrChannelNotGranted
		}
		return Internal, nil
	default:
		return "", ErrInvalidChannel
	}
}
