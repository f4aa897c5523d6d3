package cossdk

const (
	// SubjectBrokerCall is where the privileged broker answers envelope calls.
	SubjectBrokerCall = "cos.broker.call"
	// SubjectPermissionPrompt is where the management surface answers
	// permission prompts raised by the broker.
	SubjectPermissionPrompt = "cos.permission.prompt"

	// Source tags carried in envelopes across the caller boundary. Messages
	// without the expected tag are channel noise and are dropped.
	SourceBridge = "cos-bridge"
	SourceRelay  = "cos-relay"
)

// Actions recognized by the broker dispatcher.
const (
	ActionRequestFileHandles  = "requestFileHandles"
	ActionGetFileData         = "getFileData"
	ActionStoreFileData       = "storeFileData"
	ActionGetPermission       = "getPermission"
	ActionStorePermission     = "storePermission"
	ActionGetResourceMetadata = "getResourceMetadata"
	ActionGetResourceSize     = "getResourceSize"
	ActionDeleteResource      = "deleteResource"
	ActionDeleteAllResources  = "deleteAllResources"
	ActionListResources       = "listResources"
	ActionPromptPermission    = "promptPermission"
)

// Decision is a per-origin permission choice.
type Decision string

const (
	DecisionUnset        Decision = ""
	DecisionAllowOnce    Decision = "allow-once"
	DecisionAllowSession Decision = "allow-session"
	DecisionNeverAllow   Decision = "never-allow"
)

// Terminal reports whether the decision settles a prompt.
func (d Decision) Terminal() bool {
	switch d {
	case DecisionAllowOnce, DecisionAllowSession, DecisionNeverAllow:
		return true
	}
	return false
}

// Durable reports whether the decision is persisted across restarts.
func (d Decision) Durable() bool {
	return d == DecisionAllowSession || d == DecisionNeverAllow
}

// DefaultMimeType is attached to stored blobs when the caller omits one.
const DefaultMimeType = "application/octet-stream"
