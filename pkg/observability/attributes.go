package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Adjudication attribute keys.
var (
	AttrRunID          = attribute.Key("vlab.run.id")
	AttrRulesetID      = attribute.Key("vlab.ruleset.id")
	AttrVerdict        = attribute.Key("vlab.verdict")
	AttrReasonCode     = attribute.Key("vlab.reason_code")
	AttrErrorCode      = attribute.Key("vlab.error.code")
	AttrScenarioFamily = attribute.Key("vlab.scenario_family")
	AttrCacheHit       = attribute.Key("vlab.cache.hit")
)

// RunAttrs identifies a run under a ruleset.
func RunAttrs(runID, rulesetID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRunID.String(runID),
		AttrRulesetID.String(rulesetID),
	}
}

// AnnotateVerdict attaches the verdict of the current adjudication to the
// span in ctx.
func AnnotateVerdict(ctx context.Context, verdict, reasonCode string, cached bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		AttrVerdict.String(verdict),
		AttrReasonCode.String(reasonCode),
		AttrCacheHit.Bool(cached),
	)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
