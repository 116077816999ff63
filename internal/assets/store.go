// Package assets manages stored signature artifacts, currently the initials
// images attached to submitters during default-value resolution.
package assets

import (
	"context"

	"github.com/countersignhq/countersign/model"
)

// Store resolves user-owned initials blobs and links them to submitters.
type Store interface {
	// FindInitials returns the blob id of the user's stored initials image,
	// or the empty string when the user has none.
	FindInitials(ctx context.Context, user *model.User) (string, error)

	// AttachToSubmitter links the blob to the submitter and returns the
	// attachment uuid. Calling it again with the same pair returns the
	// existing uuid rather than creating a duplicate.
	AttachToSubmitter(ctx context.Context, submitterID, blobID string) (string, error)
}
