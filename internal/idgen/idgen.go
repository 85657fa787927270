// Package idgen generates the surrogate identifiers stores attach to nodes,
// and ingestion run identifiers. IDs are short, URL-safe nanoids.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/alfredjeanlab/archgraph/internal/model"
)

// Prefixes for each identifier family.
const (
	ClassPrefix    = "cls-"
	MethodPrefix   = "mth-"
	EndpointPrefix = "ept-"
	RunPrefix      = "run-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// NodeID returns a new surrogate ID for a node of the given kind.
func NodeID(kind model.Kind) (string, error) {
	return GenerateWithPrefix(PrefixFor(kind))
}

// RunID returns a new ingestion run ID.
func RunID() (string, error) {
	return GenerateWithPrefix(RunPrefix)
}

// PrefixFor returns the ID prefix used for a node kind.
func PrefixFor(kind model.Kind) string {
	switch kind {
	case model.KindClass:
		return ClassPrefix
	case model.KindMethod:
		return MethodPrefix
	case model.KindEndpoint:
		return EndpointPrefix
	}
	return "n-"
}

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
