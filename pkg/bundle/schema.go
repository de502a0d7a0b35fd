package bundle

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	verifyReportSchemaURL = "vlab://schemas/verify-report.schema.json"
	pointersSchemaURL     = "vlab://schemas/evidence-pointers.schema.json"
)

var (
	schemasOnce sync.Once
	schemasErr  error
	compiled    map[string]*jsonschema.Schema
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		files := map[string]string{
			verifyReportSchemaURL: "schemas/verify-report.schema.json",
			pointersSchemaURL:     "schemas/evidence-pointers.schema.json",
		}
		for url, file := range files {
			data, err := schemaFS.ReadFile(file)
			if err != nil {
				schemasErr = fmt.Errorf("read schema %s: %w", file, err)
				return
			}
			if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
				schemasErr = fmt.Errorf("add schema %s: %w", url, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(files))
		for url := range files {
			s, err := c.Compile(url)
			if err != nil {
				schemasErr = fmt.Errorf("compile schema %s: %w", url, err)
				return
			}
			out[url] = s
		}
		compiled = out
	})
	return compiled, schemasErr
}

// validateJSON checks raw JSON bytes against one of the embedded schemas.
func validateJSON(schemaURL string, data []byte) error {
	schemas, err := loadSchemas()
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if err := schemas[schemaURL].Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
