package overridetriage

import "github.com/xeipuuv/gojsonschema"

var inputSchemaLoader = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["submissionId", "tier", "actor", "reason"],
  "properties": {
    "submissionId": {"type": "string", "minLength": 1, "maxLength": 128},
    "tier":         {"type": "string", "minLength": 1},
    "actor":        {"type": "string", "minLength": 1, "maxLength": 128},
    "reason":       {"type": "string", "minLength": 1, "maxLength": 1024},
    "recompute":    {"type": "boolean"}
  }
}`)
