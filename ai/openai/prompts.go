package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/medfuse/ai"
)

const entityResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "text": {"type": "string"},
          "type": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        },
        "required": ["text", "type", "confidence"],
        "additionalProperties": false
      }
    }
  },
  "required": ["entities"],
  "additionalProperties": false
}`

const entityPromptTemplate = `You identify medical entities in health questions and return them as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble or explanation.
Start your response with { and end it with }. Schema:

%s

Rules:
- Entity text must be lowercase and use the generic name for drugs ("acetaminophen", not "Tylenol 500").
- Type must be exactly one of: %s.
- Confidence is a number from 0 to 1: how sure you are that the text names a medical entity of that type.
- Extract only entities written in the question. Do not add related conditions or treatments.
- If the question names no medical entity, return {"entities": []}.

Example:
Input: "Can I take ibuprofen if I have stomach ulcers?"
Output:
{"entities": [
  {"text":"ibuprofen","type":"drug","confidence":0.97},
  {"text":"stomach ulcer","type":"disease","confidence":0.93}
]}

Example:
Input: "what does an HbA1c test measure"
Output:
{"entities": [
  {"text":"hba1c","type":"lab_test","confidence":0.95}
]}`

// buildSystemPrompt creates the system prompt with entity types embedded.
func buildSystemPrompt() string {
	return fmt.Sprintf(entityPromptTemplate,
		entityResponseSchema,
		strings.Join(ai.EntityTypes, ", "))
}
