package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_SortsKeysRecursively(t *testing.T) {
	input := map[string]any{
		"topline_verdict": "PASS",
		"clauses": []any{
			map[string]any{"status": "PASS", "clause_id": "CL-D1-01"},
		},
		"ruleset_id": "ruleset-1.2",
	}

	b, err := JCS(input)
	require.NoError(t, err)
	assert.Equal(t, `{"clauses":[{"clause_id":"CL-D1-01","status":"PASS"}],"ruleset_id":"ruleset-1.2","topline_verdict":"PASS"}`, string(b))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	b, err := JCS(map[string]string{"locator": "<L1-L3> & more"})
	require.NoError(t, err)
	assert.Equal(t, `{"locator":"<L1-L3> & more"}`, string(b))
}

func TestJCS_NumberFormatting(t *testing.T) {
	b, err := JCS(map[string]any{
		"a": json.Number("1.50"),
		"b": 1e21,
		"c": 100,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1.5,"b":1e+21,"c":100}`, string(b))
}

func TestJCS_NFCNormalizesStringsAndKeys(t *testing.T) {
	// e + combining accent vs precomposed code point.
	decomposed := map[string]any{"cafe\u0301": "cre\u0300me"}
	composed := map[string]any{"caf\u00e9": "cr\u00e8me"}

	h1, err := CanonicalHash(decomposed)
	require.NoError(t, err)
	h2, err := CanonicalHash(composed)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCanonicalHash_StructAndMapAgree(t *testing.T) {
	type clause struct {
		Status   string `json:"status"`
		ClauseID string `json:"clause_id"`
	}
	h1, err := CanonicalHash(clause{ClauseID: "CL-D2-03", Status: "FAIL"})
	require.NoError(t, err)
	h2, err := CanonicalHash(map[string]any{"clause_id": "CL-D2-03", "status": "FAIL"})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestTransform_RejectsInvalidJSON(t *testing.T) {
	_, err := Transform([]byte(`{"a":`))
	require.Error(t, err)
}

func TestHashBytes_KnownVector(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashBytes(nil))
}

func TestJCSString_MatchesJCS(t *testing.T) {
	v := map[string]int{"b": 2, "a": 1}
	s, err := JCSString(v)
	require.NoError(t, err)
	b, err := JCS(v)
	require.NoError(t, err)
	assert.Equal(t, string(b), s)
}
