package submitincident

import "github.com/xeipuuv/gojsonschema"

const inputSchema = `{
  "type": "object",
  "properties": {
    "submissionId":     {"type": "string", "maxLength": 128},
    "description":      {"type": "string", "maxLength": 4000},
    "status":           {"type": "string", "maxLength": 64},
    "category":         {"type": "string", "maxLength": 64},
    "ageBracket":       {"type": "string"},
    "transportMode":    {"type": "string"},
    "locality":         {"type": "string", "maxLength": 128},
    "forcedFacilityId": {"type": "string", "maxLength": 128},
    "submittedBy":      {"type": "string", "maxLength": 128},
    "location": {
      "type": "object",
      "required": ["latitude", "longitude"],
      "properties": {
        "latitude":  {"type": "number"},
        "longitude": {"type": "number"}
      }
    }
  },
  "anyOf": [
    {"required": ["description"]},
    {"required": ["category"]},
    {"required": ["status"]}
  ]
}`

var inputSchemaLoader = gojsonschema.NewStringLoader(inputSchema)
