package bundle

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ParseTrace decodes NDJSON trace bytes. Blank lines are skipped but still
// counted toward physical line numbers. Malformed lines are reported and
// omitted; their index position is preserved so event:<n> locators keep
// pointing at the same line.
func ParseTrace(data []byte) ([]Event, []int) {
	var (
		events  []Event
		badRows []int
		index   int
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxArtifactBytes)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(text, &fields); err != nil || fields == nil {
			badRows = append(badRows, line)
			index++
			continue
		}
		raw := make(json.RawMessage, len(text))
		copy(raw, text)
		events = append(events, Event{Index: index, Line: line, Raw: raw, Fields: fields})
		index++
	}
	if sc.Err() != nil {
		badRows = append(badRows, line+1)
	}
	return events, badRows
}

// ErrUnsafePath marks a checksum path that would leave the pack.
var ErrUnsafePath = errors.New("path escapes the pack")

// ParseChecksums parses "<sha256>  <path>" lines. A leading '*' on the path
// (binary mode marker) is stripped. Paths must be relative and stay inside
// the pack.
func ParseChecksums(data []byte) ([]ChecksumEntry, error) {
	var out []ChecksumEntry
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected '<sha256>  <path>'", i+1)
		}
		sum := strings.ToLower(fields[0])
		if len(sum) != 64 {
			return nil, fmt.Errorf("line %d: digest must be 64 hex chars", i+1)
		}
		if _, err := hex.DecodeString(sum); err != nil {
			return nil, fmt.Errorf("line %d: digest is not hex", i+1)
		}
		p := strings.TrimPrefix(strings.Join(fields[1:], " "), "*")
		if !safeRelPath(p) {
			return nil, fmt.Errorf("line %d: %w: %q", i+1, ErrUnsafePath, p)
		}
		out = append(out, ChecksumEntry{SHA256: sum, Path: path.Clean(p)})
	}
	return out, nil
}

func safeRelPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
