package model

import "time"

// Submitter ordering policies.
const (
	SubmittersOrderRandom    = "random"
	SubmittersOrderPreserved = "preserved"
)

// DefaultSubmittersOrder is applied when a template declares no policy.
const DefaultSubmittersOrder = SubmittersOrderRandom

// SignerRole is a named position in a template's signing party list,
// independent of any specific person until a submission binds an email to it.
type SignerRole struct {
	UUID string `json:"uuid" yaml:"uuid"`
	Name string `json:"name" yaml:"name"`
	// Order groups roles into notification waves: lower fires earlier,
	// equal values fire together. Nil means unordered.
	Order *int `json:"order,omitempty" yaml:"order,omitempty"`
}

// Template declares the signer roles, fields, and documents a submission is
// created from. Templates are mutable; submissions snapshot them at creation.
type Template struct {
	ID              string                `json:"id"`
	AccountID       string                `json:"account_id"`
	Name            string                `json:"name"`
	Submitters      []SignerRole          `json:"submitters"`
	Fields          []FieldDefinition     `json:"fields"`
	Schema          []DocumentSchemaEntry `json:"schema,omitempty"`
	SubmittersOrder string                `json:"submitters_order,omitempty"`
	// DefaultExpireHours, when positive, sets the expire_at horizon for
	// submissions created without an explicit deadline.
	DefaultExpireHours int       `json:"default_expire_hours,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// OrderPolicy returns the template's submitter ordering policy, applying the
// default when none is declared.
func (t *Template) OrderPolicy() string {
	if t.SubmittersOrder == "" {
		return DefaultSubmittersOrder
	}
	return t.SubmittersOrder
}

// DefaultExpireAt returns the default submission deadline computed from the
// template's horizon, or nil when the template declares none.
func (t *Template) DefaultExpireAt(now time.Time) *time.Time {
	if t.DefaultExpireHours <= 0 {
		return nil
	}
	at := now.Add(time.Duration(t.DefaultExpireHours) * time.Hour)
	return &at
}
