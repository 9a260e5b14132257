package catalog

const promptSchema = `{
	"type": "object",
	"properties": {
		"prompt": {"type": "string", "minLength": 1, "maxLength": 2000}
	},
	"required": ["prompt"]
}`

const imageSchema = `{
	"type": "object",
	"properties": {
		"imageUrl": {"type": "string", "format": "uri"},
		"imageBase64": {"type": "string", "minLength": 1}
	},
	"anyOf": [
		{"required": ["imageUrl"]},
		{"required": ["imageBase64"]}
	]
}`

const urlSchema = `{
	"type": "object",
	"properties": {
		"url": {
			"type": "string",
			"minLength": 1,
			"format": "uri",
			"pattern": "^https?://[^/\\s.]+\\.[^/\\s]+"
		}
	},
	"required": ["url"]
}`

const pdfSchema = `{
	"type": "object",
	"properties": {
		"pdfUrl": {"type": "string", "format": "uri"},
		"pdfBase64": {"type": "string", "minLength": 1}
	},
	"anyOf": [
		{"required": ["pdfUrl"]},
		{"required": ["pdfBase64"]}
	]
}`
