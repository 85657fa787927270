package model

import "errors"

var (
	// ErrMalformedEntity is returned when a fact lacks a required identity field.
	ErrMalformedEntity = errors.New("malformed entity")

	// ErrUnresolvedReference is returned when an edge fact names a target
	// that is not in the registry.
	ErrUnresolvedReference = errors.New("unresolved reference")

	// ErrConflictingIdentity is returned when two facts claim the same
	// unique identity, such as two methods exposing one endpoint.
	ErrConflictingIdentity = errors.New("conflicting identity")

	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	ErrStoreUnavailable = errors.New("graph store unavailable")

	// ErrEntityNotFound is returned when a natural key has no node.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrConstraintViolation is returned by a store when a merge would break
	// a uniqueness rule or leave an edge dangling.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrRegistryFrozen is returned when upserting into a registry after the
	// entity phase has ended.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

// IssueKind classifies a per-fact problem recorded in a run summary.
type IssueKind string

const (
	IssueMalformed  IssueKind = "malformed_entity"
	IssueUnresolved IssueKind = "unresolved_reference"
	IssueConflict   IssueKind = "conflicting_identity"
	IssueConstraint IssueKind = "constraint_violation"
)

// Issue is a problem with a single fact. Issues never abort a batch.
type Issue struct {
	Kind     IssueKind `json:"kind"`
	Unit     string    `json:"unit,omitempty"`
	Seq      int       `json:"seq"`
	FactType FactType  `json:"fact_type,omitempty"`
	Message  string    `json:"message"`
}

// IssueKindOf maps an error to the issue kind it represents.
func IssueKindOf(err error) IssueKind {
	switch {
	case errors.Is(err, ErrMalformedEntity):
		return IssueMalformed
	case errors.Is(err, ErrUnresolvedReference):
		return IssueUnresolved
	case errors.Is(err, ErrConflictingIdentity):
		return IssueConflict
	default:
		return IssueConstraint
	}
}
