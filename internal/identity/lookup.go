// Package identity resolves account users by normalized email, feeding the
// default-value resolver with the signer's profile when one exists.
package identity

import (
	"context"

	"github.com/countersignhq/countersign/model"
)

// Lookup finds account members. Implementations must scope every query to
// the given account.
type Lookup interface {
	// ByEmail returns the user registered under the normalized email within
	// the account, or nil when no such user exists. Absence is not an error.
	ByEmail(ctx context.Context, accountID, email string) (*model.User, error)
}
