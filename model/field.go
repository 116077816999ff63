package model

// FieldType is the closed enumeration of field kinds a template may declare.
// Unknown type strings are rejected at snapshot validation time rather than
// silently falling through resolution branches.
type FieldType string

// Basic field kinds.
const (
	FieldTypeText      FieldType = "text"
	FieldTypeSignature FieldType = "signature"
	FieldTypeInitials  FieldType = "initials"
	FieldTypeDate      FieldType = "date"
	FieldTypeNumber    FieldType = "number"
	FieldTypeImage     FieldType = "image"
	FieldTypeFile      FieldType = "file"
	FieldTypeSelect    FieldType = "select"
	FieldTypeCheckbox  FieldType = "checkbox"
	FieldTypeRadio     FieldType = "radio"
	FieldTypePhone     FieldType = "phone"
	FieldTypeStamp     FieldType = "stamp"

	// Legacy profession kind, kept for templates created before the
	// candidate-profile family existed.
	FieldTypeProfession FieldType = "profession"
)

// Candidate-profile field kinds. Values for these are resolved through the
// submitter's stored preference chain keyed by the canonical display label.
const (
	FieldTypeCandidateProfession        FieldType = "candidateprofession"
	FieldTypeCandidatePrimaryProfession FieldType = "candidateprimaryprofession"
	FieldTypeCandidateSpecialty         FieldType = "candidatespecialty"
	FieldTypeCandidatePrimarySpecialty  FieldType = "candidateprimaryspecialty"
	FieldTypeCandidateFullName          FieldType = "candidatefullname"
	FieldTypeCandidateLastName          FieldType = "candidatelastname"
	FieldTypeCandidateFirstName         FieldType = "candidatefirstname"
	FieldTypeCandidateEmail             FieldType = "candidateemail"
	FieldTypeCandidateAddress           FieldType = "candidateaddress"
	FieldTypeCandidateCity              FieldType = "candidatecity"
	FieldTypeCandidateState             FieldType = "candidatestate"
	FieldTypeCandidateZip               FieldType = "candidatezip"
	FieldTypeCandidateSSN               FieldType = "candidatessn"
	FieldTypeCandidateAvailableFromDate FieldType = "candidateavailablefromdate"
	FieldTypeCandidatePrimaryPhone      FieldType = "candidateprimaryphone"
)

// CandidateFieldLabels maps candidate-profile field kinds to their canonical
// display labels, used as preference-chain lookup keys.
var CandidateFieldLabels = map[FieldType]string{
	FieldTypeCandidateProfession:        "Candidate Profession",
	FieldTypeCandidatePrimaryProfession: "Candidate Primary Profession",
	FieldTypeCandidateSpecialty:         "Candidate Specialty",
	FieldTypeCandidatePrimarySpecialty:  "Candidate Primary Specialty",
	FieldTypeCandidateFullName:          "Candidate Full Name",
	FieldTypeCandidateLastName:          "Candidate Last Name",
	FieldTypeCandidateFirstName:         "Candidate First Name",
	FieldTypeCandidateEmail:             "Candidate Email",
	FieldTypeCandidateAddress:           "Candidate Address",
	FieldTypeCandidateCity:              "Candidate City",
	FieldTypeCandidateState:             "Candidate State",
	FieldTypeCandidateZip:               "Candidate Zipcode",
	FieldTypeCandidateSSN:               "Candidate SSN",
	FieldTypeCandidateAvailableFromDate: "Candidate Available From Date",
	FieldTypeCandidatePrimaryPhone:      "Candidate Primary Phone",
}

var knownFieldTypes = func() map[FieldType]bool {
	m := map[FieldType]bool{
		FieldTypeText: true, FieldTypeSignature: true, FieldTypeInitials: true,
		FieldTypeDate: true, FieldTypeNumber: true, FieldTypeImage: true,
		FieldTypeFile: true, FieldTypeSelect: true, FieldTypeCheckbox: true,
		FieldTypeRadio: true, FieldTypePhone: true, FieldTypeStamp: true,
		FieldTypeProfession: true,
	}
	for t := range CandidateFieldLabels {
		m[t] = true
	}
	return m
}()

// Valid reports whether the field type is part of the closed enumeration.
func (t FieldType) Valid() bool {
	return knownFieldTypes[t]
}

// IsCandidateProfile reports whether the type belongs to the candidate-profile
// family.
func (t FieldType) IsCandidateProfile() bool {
	_, ok := CandidateFieldLabels[t]
	return ok
}

// DisplayLabel returns the canonical display label for candidate-profile
// kinds, or the given fallback for every other kind.
func (t FieldType) DisplayLabel(fallback string) string {
	if label, ok := CandidateFieldLabels[t]; ok {
		return label
	}
	return fallback
}

// Condition actions. Comparisons run against the referenced field's stored
// value. Unknown actions evaluate false (fail closed).
const (
	ConditionActionEqual          = "equal"
	ConditionActionNotEqual       = "not_equal"
	ConditionActionContains       = "contains"
	ConditionActionDoesNotContain = "does_not_contain"
	ConditionActionNotEmpty       = "not_empty"
	ConditionActionEmpty          = "empty"
	ConditionActionChecked        = "checked"
	ConditionActionUnchecked      = "unchecked"
)

// Condition fold operations.
const (
	ConditionOperationAnd = "and"
	ConditionOperationOr  = "or"
)

// Condition is a single visibility rule referencing another field's value.
// Conditions are evaluated left to right as a fold: an "or" condition merges
// its result into the previous accumulator entry, everything else pushes a
// new entry, and the item is visible only if every entry ends up true.
type Condition struct {
	FieldUUID string `json:"field_uuid" yaml:"field_uuid"`
	Value     any    `json:"value,omitempty" yaml:"value,omitempty"`
	Action    string `json:"action" yaml:"action"`
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`
}

// FieldDefinition describes a single fillable field within a template.
// Once copied into a submission snapshot it is immutable.
type FieldDefinition struct {
	UUID          string      `json:"uuid" yaml:"uuid"`
	SubmitterUUID string      `json:"submitter_uuid" yaml:"submitter_uuid"`
	Name          string      `json:"name" yaml:"name"`
	Type          FieldType   `json:"type" yaml:"type"`
	Required      bool        `json:"required,omitempty" yaml:"required,omitempty"`
	DefaultValue  any         `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	Conditions    []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// DocumentSchemaEntry describes one document attachment of a template.
// Entries with conditions apply to a submission only when the conditions
// hold over all collected values.
type DocumentSchemaEntry struct {
	Name           string      `json:"name" yaml:"name"`
	AttachmentUUID string      `json:"attachment_uuid" yaml:"attachment_uuid"`
	Conditions     []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}
