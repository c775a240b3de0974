package app

import (
	"fmt"
	"strings"
)

// ProofPolicy checks buyer-submitted payment proof links. The link is only
// matched against a fixed prefix; it is never resolved or verified.
type ProofPolicy struct {
	prefix string
}

func NewProofPolicy(prefix string) (ProofPolicy, error) {
	if !strings.HasPrefix(prefix, "https://") {
		return ProofPolicy{}, fmt.Errorf("proof prefix must start with https://, got %q", prefix)
	}
	return ProofPolicy{prefix: prefix}, nil
}

// Valid reports whether proof starts with the required prefix and carries
// something after it.
func (p ProofPolicy) Valid(proof string) bool {
	proof = strings.TrimSpace(proof)
	if strings.ContainsAny(proof, " \t\r\n") {
		return false
	}
	return len(proof) > len(p.prefix) && strings.HasPrefix(proof, p.prefix)
}

func (p ProofPolicy) Prefix() string {
	return p.prefix
}
