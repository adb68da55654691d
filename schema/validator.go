// Package payloadschema validates candidate article payloads before they
// enter the pipeline. Structural validation is driven by an embedded JSON
// Schema; a handful of semantic checks cover what the schema cannot express.
package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed candidate_article.schema.json
var candidateArticleSchema string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true
		if err := compiler.AddResource("candidate_article.schema.json", strings.NewReader(candidateArticleSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("candidate_article.schema.json")
	})
	return schema, schemaErr
}

// CandidatePayload is the decoded form of a validated candidate article.
type CandidatePayload struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	Content       string `json:"content,omitempty"`
	DatePublished string `json:"date_published,omitempty"`
	SourceName    string `json:"source_name"`
	Language      string `json:"language,omitempty"`
}

// ValidateCandidatePayload checks raw JSON against the candidate article
// schema and the semantic rules, returning the decoded payload on success.
func ValidateCandidatePayload(raw []byte) (*CandidatePayload, error) {
	sch, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	doc, err := decodeStrictJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var payload CandidatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := validateSemantics(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// decodeStrictJSON decodes raw into the generic shape the schema validator
// expects, using json.Number to avoid float precision loss and rejecting
// trailing content after the first JSON value.
func decodeStrictJSON(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing content after JSON document")
	}
	return doc, nil
}

func validateSemantics(p *CandidatePayload) error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("title must not be blank")
	}
	if strings.TrimSpace(p.SourceName) == "" {
		return fmt.Errorf("source_name must not be blank")
	}
	if err := validateURI(p.URL); err != nil {
		return fmt.Errorf("url: %w", err)
	}
	return nil
}

func validateURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
