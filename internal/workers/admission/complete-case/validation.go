package completecase

import "github.com/xeipuuv/gojsonschema"

var inputSchemaLoader = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["submissionId"],
  "properties": {
    "submissionId": {"type": "string", "minLength": 1, "maxLength": 128},
    "outcome":      {"type": "string", "maxLength": 256},
    "actor":        {"type": "string", "maxLength": 128}
  }
}`)
