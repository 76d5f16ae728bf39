package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"transcript-analyzer/internal/faults"
)

const (
	maxIssues     = 3
	maxSummaryLen = 280
)

// Issue is one sanitized validation failure entry.
type Issue struct {
	InstancePath string `json:"instancePath"`
	Keyword      string `json:"keyword"`
	Message      string `json:"message"`
}

// Result reports the outcome of validating a payload against one schema
// version. On failure it carries at most maxIssues entries and a bounded
// single-line summary; nothing larger ever reaches logs or the database.
type Result struct {
	OK            bool
	SchemaVersion string
	Issues        []Issue
	Summary       string
}

// Source resolves a schema version to its raw (un-normalized) document.
type Source func(version string) (map[string]any, error)

// Validator compiles and caches one strict validator per schema version.
// Compilation is expensive; concurrent jobs on the same version share the
// compiled schema.
type Validator struct {
	source Source

	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

func NewValidator(source Source) *Validator {
	return &Validator{
		source: source,
		cache:  make(map[string]*jsonschema.Schema),
	}
}

// Validate checks payload against the normalized schema for version.
// A non-nil error means the validator itself could not run (unknown version,
// uncompilable schema); schema violations come back as Result.OK=false.
func (v *Validator) Validate(version string, payload any) (Result, error) {
	compiled, err := v.compiled(version)
	if err != nil {
		return Result{}, err
	}

	err = compiled.Validate(payload)
	if err == nil {
		return Result{OK: true, SchemaVersion: version}, nil
	}

	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return Result{}, fmt.Errorf("validate against schema %s: %w", version, err)
	}

	issues := collectIssues(verr)
	if len(issues) == 0 {
		issues = []Issue{{InstancePath: "$", Keyword: "schema", Message: "payload does not conform to schema"}}
	}
	if len(issues) > maxIssues {
		issues = issues[:maxIssues]
	}
	return Result{
		OK:            false,
		SchemaVersion: version,
		Issues:        issues,
		Summary:       summarize(issues),
	}, nil
}

func (v *Validator) compiled(version string) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.cache[version]; ok {
		return s, nil
	}

	doc, err := v.source(version)
	if err != nil {
		return nil, fmt.Errorf("resolve schema %s: %w", version, err)
	}
	raw, err := json.Marshal(Normalize(doc))
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", version, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("schema://%s.json", version)
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", version, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", version, err)
	}
	v.cache[version] = s
	return s, nil
}

var missingPropRe = regexp.MustCompile(`'([^']+)'`)

// collectIssues flattens the validation error tree into leaf entries.
// required violations report the parent object's location, so the missing
// property name is synthesized into the instance path.
func collectIssues(root *jsonschema.ValidationError) []Issue {
	var issues []Issue
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(issues) >= maxIssues {
			return
		}
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		path := pointerToPath(e.InstanceLocation)
		keyword := lastSegment(e.KeywordLocation)
		if keyword == "required" {
			for _, m := range missingPropRe.FindAllStringSubmatch(e.Message, -1) {
				if len(issues) >= maxIssues {
					return
				}
				issues = append(issues, Issue{
					InstancePath: path + "." + m[1],
					Keyword:      "required",
					Message:      fmt.Sprintf("missing property %q", m[1]),
				})
			}
			return
		}
		issues = append(issues, Issue{InstancePath: path, Keyword: keyword, Message: e.Message})
	}
	walk(root)
	return issues
}

func summarize(issues []Issue) string {
	parts := make([]string, 0, len(issues))
	for _, is := range issues {
		parts = append(parts, fmt.Sprintf("%s: %s", is.InstancePath, is.Message))
	}
	s := strings.Join(parts, "; ")
	s = strings.Join(strings.Fields(s), " ")
	return faults.Truncate(s, maxSummaryLen)
}

// pointerToPath converts a JSON pointer ("/foo/0/bar") to a dotted path
// ("$.foo[0].bar").
func pointerToPath(ptr string) string {
	if ptr == "" || ptr == "/" {
		return "$"
	}
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		seg = strings.ReplaceAll(seg, "~1", "/")
		seg = strings.ReplaceAll(seg, "~0", "~")
		if isDigits(seg) {
			b.WriteString("[" + seg + "]")
		} else {
			b.WriteString("." + seg)
		}
	}
	return b.String()
}

func lastSegment(ptr string) string {
	if i := strings.LastIndex(ptr, "/"); i >= 0 {
		return ptr[i+1:]
	}
	return ptr
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
