package broker

// Request schemas compiled at startup. Every action the dispatcher
// accepts has an entry; an action without one is rejected outright.

const hashProperty = `{
	"type": "object",
	"required": ["algorithm", "value"],
	"properties": {
		"algorithm": {"type": "string", "minLength": 1},
		"value": {"type": "string", "minLength": 1}
	}
}`

var requestSchemas = map[string]string{
	"requestFileHandles": `{
		"type": "object",
		"required": ["origin", "hashes"],
		"properties": {
			"origin": {"type": "string", "minLength": 1},
			"hashes": {
				"type": "array",
				"minItems": 1,
				"items": ` + hashProperty + `
			},
			"create": {"type": "boolean"}
		}
	}`,

	"getFileData": `{
		"type": "object",
		"required": ["hash"],
		"properties": {"hash": ` + hashProperty + `}
	}`,

	"storeFileData": `{
		"type": "object",
		"required": ["hash"],
		"properties": {
			"hash": ` + hashProperty + `,
			"payload_handle": {"type": "string"},
			"data_base64": {"type": "string"},
			"mimeType": {"type": "string"}
		}
	}`,

	"getPermission": `{
		"type": "object",
		"required": ["origin"],
		"properties": {"origin": {"type": "string", "minLength": 1}}
	}`,

	"storePermission": `{
		"type": "object",
		"required": ["origin", "permission"],
		"properties": {
			"origin": {"type": "string", "minLength": 1},
			"permission": {
				"type": "string",
				"enum": ["", "allow-once", "allow-session", "never-allow"]
			}
		}
	}`,

	"getResourceMetadata": `{
		"type": "object",
		"required": ["hash"],
		"properties": {"hash": ` + hashProperty + `}
	}`,

	"getResourceSize": `{
		"type": "object",
		"required": ["hash"],
		"properties": {"hash": ` + hashProperty + `}
	}`,

	"deleteResource": `{
		"type": "object",
		"required": ["hash"],
		"properties": {"hash": ` + hashProperty + `}
	}`,

	// Payload-less actions accept an empty or absent body.
	"deleteAllResources": `{"type": ["object", "null"]}`,
	"listResources":      `{"type": ["object", "null"]}`,
}
