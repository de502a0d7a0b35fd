package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"
)

// MaxPayloadSize bounds a single exported document.
const MaxPayloadSize = 10 * 1024 * 1024

var ErrPayloadTooLarge = errors.New("artifact payload too large")

// Exporter writes typed documents into a Store.
type Exporter struct {
	store    Store
	producer string
	clock    func() time.Time
}

// NewExporter returns an exporter stamping envelopes with producer.
func NewExporter(store Store, producer string) *Exporter {
	return &Exporter{store: store, producer: producer, clock: time.Now}
}

// WithClock overrides the envelope timestamp source.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// Store returns the underlying store.
func (e *Exporter) Store() Store { return e.store }

// Export wraps v in an Envelope of the given type and writes it under key.
func (e *Exporter) Export(ctx context.Context, typ, key string, v any) (Ref, error) {
	if typ == "" {
		return Ref{}, errors.New("missing artifact type")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return Ref{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	if len(payload) > MaxPayloadSize {
		return Ref{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	env := Envelope{
		Type:          typ,
		SchemaVersion: SchemaVersion,
		Producer:      e.producer,
		Timestamp:     e.clock().UTC(),
		Payload:       payload,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return Ref{}, fmt.Errorf("marshal envelope: %w", err)
	}
	digest, err := e.store.Put(ctx, key, data)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Key: key, Digest: digest}, nil
}

// Read loads the envelope stored under key.
func (e *Exporter) Read(ctx context.Context, key string) (*Envelope, error) {
	data, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("corrupt artifact %s: %w", key, err)
	}
	return &env, nil
}

// ResultKey is where the result of runID under rulesetID is exported.
func ResultKey(runID, rulesetID string) string {
	return path.Join("results", runID, rulesetID+".json")
}

// ProofKey is where the proof of runID is exported.
func ProofKey(runID string) string {
	return path.Join("proofs", runID+".json")
}

// VerifyReportKey is where a verifier report for runID is exported.
func VerifyReportKey(runID string) string {
	return path.Join("verify", runID+".json")
}
