package artifacts

import (
	"encoding/json"
	"time"
)

// Artifact types written by the adjudication core.
const (
	TypeAdjudicationResult = "adjudication/result"
	TypeAdjudicationProof  = "adjudication/proof"
	TypeVerifyReport       = "adjudication/verify-report"
	TypeEquivalenceReport  = "equivalence/report"
	TypeEquivalenceDiff    = "equivalence/diff"
)

// SchemaVersion of Envelope.
const SchemaVersion = "v1"

// Envelope wraps every exported document with its type and provenance.
type Envelope struct {
	Type          string          `json:"type"`
	SchemaVersion string          `json:"schema_version"`
	Producer      string          `json:"producer"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Ref locates an exported artifact.
type Ref struct {
	Key    string `json:"key"`
	Digest string `json:"digest"`
}
