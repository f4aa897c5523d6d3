package cossdk

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Hash identifies a blob by its cryptographic digest. It is opaque to the
// broker: equality is algorithm+value equality and nothing inspects the
// digest itself.
type Hash struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// Valid reports whether both fields are present.
func (h Hash) Valid() bool {
	return strings.TrimSpace(h.Algorithm) != "" && strings.TrimSpace(h.Value) != ""
}

// Key derives the canonical store key. Both fields participate so the same
// digest value under two algorithms never aliases.
func (h Hash) Key() string {
	return h.Algorithm + "_" + h.Value
}

func (h Hash) String() string { return h.Key() }

// Envelope is the tagged message crossing every context boundary. Data
// carries the action-specific payload; Error is set on failed responses.
type Envelope struct {
	Source string          `json:"source,omitempty"`
	ID     string          `json:"id,omitempty"`
	Action string          `json:"action,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// NewEnvelope builds an envelope with a marshaled payload.
func NewEnvelope(action string, data any) (*Envelope, error) {
	env := &Envelope{Action: action}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", action, err)
		}
		env.Data = raw
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if e == nil || len(e.Data) == 0 {
		return fmt.Errorf("empty envelope payload")
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Action, err)
	}
	return nil
}

// Payload shapes, one pair per action.

type RequestFileHandlesRequest struct {
	Origin string `json:"origin"`
	Hashes []Hash `json:"hashes"`
	Create bool   `json:"create,omitempty"`
}

type RequestFileHandlesResponse struct {
	Hashes  []Hash `json:"hashes"`
	Success []Hash `json:"success"`
}

type GetFileDataRequest struct {
	Hash Hash `json:"hash"`
}

// GetFileDataResponse leaves the broker with a single-use PayloadHandle;
// the relay dereferences it and ships Data inline to the caller. An absent
// handle and absent data means the blob was not found.
type GetFileDataResponse struct {
	Hash          Hash   `json:"hash"`
	PayloadHandle string `json:"payload_handle,omitempty"`
	Data          []byte `json:"data_base64,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
}

// StoreFileDataRequest carries Data inline from the caller; the relay
// swaps it for a PayloadHandle before the privileged hop.
type StoreFileDataRequest struct {
	Hash          Hash   `json:"hash"`
	PayloadHandle string `json:"payload_handle,omitempty"`
	Data          []byte `json:"data_base64,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
}

type StoreFileDataResponse struct {
	Hash Hash `json:"hash"`
}

type GetPermissionRequest struct {
	Origin string `json:"origin"`
}

type GetPermissionResponse struct {
	Permission Decision `json:"permission"`
}

type StorePermissionRequest struct {
	Origin     string   `json:"origin"`
	Permission Decision `json:"permission"`
}

type StorePermissionResponse struct {
	Success bool `json:"success"`
}

type GetResourceMetadataRequest struct {
	Hash Hash `json:"hash"`
}

type GetResourceMetadataResponse struct {
	Size     *int64  `json:"size"`
	MimeType *string `json:"mimeType"`
}

type GetResourceSizeRequest struct {
	Hash Hash `json:"hash"`
}

type GetResourceSizeResponse struct {
	Size *int64 `json:"size"`
}

type DeleteResourceRequest struct {
	Hash Hash `json:"hash"`
}

type DeleteResourceResponse struct {
	Success bool `json:"success"`
}

type DeleteAllResourcesResponse struct {
	Success bool `json:"success"`
}

type ListResourcesResponse struct {
	Origins []string `json:"origins"`
	Hashes  []string `json:"hashes"`
}

type PromptPermissionRequest struct {
	Origin string `json:"origin"`
	Hashes []Hash `json:"hashes,omitempty"`
	Create bool   `json:"create,omitempty"`
}

type PromptPermissionResponse struct {
	Permission Decision `json:"permission"`
}
