package client

import (
	"bytes"
	"context"
	"fmt"

	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
)

// Caller issues one correlated call over the storage channel. The bridge
// satisfies this; tests substitute scripted fakes.
type Caller interface {
	Call(ctx context.Context, action string, payload, out any) error
}

// Client is the caller-facing capability surface. It validates requests
// before they touch the channel and hands out file handles scoped to the
// hashes the broker actually granted.
type Client struct {
	caller Caller
	origin string
}

// New constructs a client acting on behalf of the given origin.
func New(caller Caller, origin string) *Client {
	return &Client{caller: caller, origin: origin}
}

// File is the materialized content behind a granted handle.
type File struct {
	Hash     cossdk.Hash
	Data     []byte
	MimeType string
}

// FileHandle is a capability for one granted hash. Reads and writes go
// through the channel the handle was granted on.
type FileHandle struct {
	client *Client
	hash   cossdk.Hash
}

// Hash returns the hash the handle was granted for.
func (h *FileHandle) Hash() cossdk.Hash { return h.hash }

// RequestFileHandles asks for access to the given hashes. Validation
// failures surface before any prompt can be raised. An empty grant on a
// read request is reported as not found.
func (c *Client) RequestFileHandles(ctx context.Context, hashes []cossdk.Hash, create bool) ([]*FileHandle, error) {
	if len(hashes) == 0 {
		return nil, fmt.Errorf("%w: no hashes requested", cossdk.ErrValidation)
	}
	for _, h := range hashes {
		if !h.Valid() {
			return nil, fmt.Errorf("%w: hash needs both algorithm and value", cossdk.ErrValidation)
		}
	}
	origin, err := cossdk.NormalizeOrigin(c.origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}

	var resp cossdk.RequestFileHandlesResponse
	err = c.caller.Call(ctx, cossdk.ActionRequestFileHandles, cossdk.RequestFileHandlesRequest{
		Origin: origin,
		Hashes: hashes,
		Create: create,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Success) == 0 && !create {
		return nil, fmt.Errorf("%w: none of the requested hashes are stored", cossdk.ErrNotFound)
	}

	out := make([]*FileHandle, 0, len(resp.Success))
	for _, h := range resp.Success {
		out = append(out, &FileHandle{client: c, hash: h})
	}
	return out, nil
}

// GetFile fetches the handle's content.
func (h *FileHandle) GetFile(ctx context.Context) (*File, error) {
	var resp cossdk.GetFileDataResponse
	err := h.client.caller.Call(ctx, cossdk.ActionGetFileData, cossdk.GetFileDataRequest{Hash: h.hash}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 && resp.PayloadHandle == "" {
		return nil, fmt.Errorf("%w: blob %s", cossdk.ErrNotFound, h.hash.Key())
	}
	return &File{Hash: h.hash, Data: resp.Data, MimeType: resp.MimeType}, nil
}

// CreateWritable opens a write stream for the handle's hash. Nothing is
// sent until Close.
func (h *FileHandle) CreateWritable(mimeType string) *Writable {
	return &Writable{handle: h, mimeType: mimeType}
}

// Writable buffers writes and stores the assembled payload on Close.
type Writable struct {
	handle   *FileHandle
	mimeType string
	buf      bytes.Buffer
	closed   bool
}

func (w *Writable) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("%w: writable already closed", cossdk.ErrValidation)
	}
	return w.buf.Write(p)
}

// Close ships the buffered payload to storage. Closing an empty writable
// is a validation error: a content address must address content.
func (w *Writable) Close(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("%w: writable already closed", cossdk.ErrValidation)
	}
	w.closed = true
	if w.buf.Len() == 0 {
		return fmt.Errorf("%w: nothing written", cossdk.ErrValidation)
	}
	var resp cossdk.StoreFileDataResponse
	return w.handle.client.caller.Call(ctx, cossdk.ActionStoreFileData, cossdk.StoreFileDataRequest{
		Hash:     w.handle.hash,
		Data:     w.buf.Bytes(),
		MimeType: w.mimeType,
	}, &resp)
}
