package schema

import (
	"fmt"
	"strings"
	"testing"
)

func testSource(version string) (map[string]any, error) {
	if version != "vtest" {
		return nil, fmt.Errorf("unknown schema version %q", version)
	}
	return map[string]any{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type":    "object",
		"properties": map[string]any{
			"summary":   map[string]any{"type": "string", "minLength": 1},
			"sentiment": map[string]any{"type": "string", "enum": []any{"positive", "neutral", "negative"}},
		},
	}, nil
}

func validPayload() map[string]any {
	return map[string]any{
		"summary":   "short call about billing",
		"sentiment": "neutral",
	}
}

func TestValidateOK(t *testing.T) {
	v := NewValidator(testSource)
	res, err := v.Validate("vtest", validPayload())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected ok, got issues %v", res.Issues)
	}
	if res.SchemaVersion != "vtest" {
		t.Fatalf("schema version = %q", res.SchemaVersion)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	v := NewValidator(testSource)
	payload := validPayload()
	delete(payload, "sentiment")

	res, err := v.Validate("vtest", payload)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK {
		t.Fatal("expected failure for missing required property")
	}
	if len(res.Issues) == 0 {
		t.Fatal("expected at least one issue")
	}
	found := false
	for _, is := range res.Issues {
		if is.Keyword == "required" && strings.Contains(is.InstancePath, "sentiment") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing-property path not synthesized: %v", res.Issues)
	}
	if res.Summary == "" || len(res.Summary) > 280 {
		t.Fatalf("summary out of bounds: %q", res.Summary)
	}
}

func TestValidateUndeclaredProperty(t *testing.T) {
	v := NewValidator(testSource)
	payload := validPayload()
	payload["surprise"] = "field"

	res, err := v.Validate("vtest", payload)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK {
		t.Fatal("expected failure for undeclared property")
	}
	if res.Summary == "" {
		t.Fatal("expected non-empty summary")
	}
}

func TestValidateIssueLimit(t *testing.T) {
	v := NewValidator(testSource)
	// Everything wrong at once: missing both fields, two undeclared extras.
	res, err := v.Validate("vtest", map[string]any{
		"a": 1, "b": 2, "c": 3, "d": 4,
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.OK {
		t.Fatal("expected failure")
	}
	if len(res.Issues) > 3 {
		t.Fatalf("issue list not bounded: %d entries", len(res.Issues))
	}
	if len(res.Summary) > 280 {
		t.Fatalf("summary too long: %d chars", len(res.Summary))
	}
}

func TestValidateUnknownVersion(t *testing.T) {
	v := NewValidator(testSource)
	if _, err := v.Validate("v999", validPayload()); err == nil {
		t.Fatal("expected error for unknown schema version")
	}
}

func TestEmbeddedSourceVersions(t *testing.T) {
	for _, version := range []string{"v1", "v2"} {
		doc, err := EmbeddedSource(version)
		if err != nil {
			t.Fatalf("embedded schema %s: %v", version, err)
		}
		if doc["type"] != "object" {
			t.Fatalf("embedded schema %s is not an object schema", version)
		}
	}
	if _, err := EmbeddedSource("v999"); err == nil {
		t.Fatal("expected error for unknown embedded version")
	}
}
