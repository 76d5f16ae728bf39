package llm

import (
	"fmt"
)

// Prompt templates by version. The %s placeholder receives the transcript
// text. Template wording evolves by adding a version, never by editing an
// existing one, so persisted prompt_version values stay meaningful.
var promptTemplates = map[string]string{
	"v1": "Analyze the following customer call transcript. Summarize it, judge the overall sentiment, and list the main topics.\n\nTRANSCRIPT:\n%s",
	"v2": "Act as a call quality analyst. Analyze the customer call transcript below: summarize it, judge sentiment and customer satisfaction, and list the main topics discussed.\n\nTRANSCRIPT:\n%s",
	"v3": "Act as a senior call quality analyst. Analyze the customer call transcript below. Summarize it, judge sentiment and customer satisfaction, list the main topics, and extract concrete action items with an owner.\n\nTRANSCRIPT:\n%s",
}

// plainJSONInstruction is appended when falling back from schema-constrained
// output to plain JSON generation.
const plainJSONInstruction = "\n\nReturn exactly one JSON object. No markdown, no code fences, no text outside the object."

// BuildPrompt renders the prompt for a version.
func BuildPrompt(version, transcript string) (string, error) {
	tmpl, ok := promptTemplates[version]
	if !ok {
		return "", fmt.Errorf("unknown prompt version %q", version)
	}
	return fmt.Sprintf(tmpl, transcript), nil
}
