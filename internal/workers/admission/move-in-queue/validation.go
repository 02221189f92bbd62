package moveinqueue

import "github.com/xeipuuv/gojsonschema"

var inputSchemaLoader = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["submissionId", "direction"],
  "properties": {
    "submissionId": {"type": "string", "minLength": 1, "maxLength": 128},
    "direction":    {"type": "string", "enum": ["up", "down"]},
    "actor":        {"type": "string", "maxLength": 128}
  }
}`)
