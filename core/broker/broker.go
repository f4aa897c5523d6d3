package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/web-ai-community/cross-origin-storage/core/infra/blob"
	"github.com/web-ai-community/cross-origin-storage/core/infra/bus"
	"github.com/web-ai-community/cross-origin-storage/core/infra/handles"
	"github.com/web-ai-community/cross-origin-storage/core/infra/logging"
	"github.com/web-ai-community/cross-origin-storage/core/infra/metrics"
	"github.com/web-ai-community/cross-origin-storage/core/infra/schema"
	"github.com/web-ai-community/cross-origin-storage/core/permission"
	"github.com/web-ai-community/cross-origin-storage/core/protocol/cossdk"
	"github.com/web-ai-community/cross-origin-storage/core/resourceindex"
)

// queueGroup lets multiple broker replicas share one call subject.
const queueGroup = "cos-broker"

// Broker is the privileged side of the storage surface. It owns the blob
// store, the resource index and the permission engine, and answers every
// envelope arriving on the call subject.
type Broker struct {
	bus     bus.Bus
	blobs   blob.Store
	handles handles.Store
	index   *resourceindex.Index
	perms   *permission.Engine
	schemas *schema.Registry
	metrics metrics.Metrics
}

// New wires a broker. A nil metrics sink defaults to Noop. Schema
// compilation failures are fatal.
func New(b bus.Bus, blobs blob.Store, hnd handles.Store, idx *resourceindex.Index, perms *permission.Engine, m metrics.Metrics) (*Broker, error) {
	reg, err := schema.NewRegistry(requestSchemas)
	if err != nil {
		return nil, fmt.Errorf("compile request schemas: %w", err)
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &Broker{
		bus:     b,
		blobs:   blobs,
		handles: hnd,
		index:   idx,
		perms:   perms,
		schemas: reg,
		metrics: m,
	}, nil
}

// Start subscribes the broker on the shared call subject.
func (b *Broker) Start() error {
	if err := b.bus.Subscribe(cossdk.SubjectBrokerCall, queueGroup, b.handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", cossdk.SubjectBrokerCall, err)
	}
	logging.Info("broker", "listening", "subject", cossdk.SubjectBrokerCall, "queue", queueGroup)
	return nil
}

func (b *Broker) handle(env *cossdk.Envelope) *cossdk.Envelope {
	resp := &cossdk.Envelope{ID: env.ID, Action: env.Action}
	b.metrics.IncRequest(env.Action)

	payload, err := b.dispatch(context.Background(), env)
	if err != nil {
		wire := cossdk.ErrorFrom(err)
		b.metrics.IncRequestFailed(env.Action, string(wire.Kind))
		logging.Warn("broker", "request failed", "action", env.Action, "id", env.ID, "kind", string(wire.Kind), "error", err)
		resp.Error = wire
		return resp
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		resp.Error = cossdk.NewError(cossdk.ErrKindStore, "encode response: %v", err)
		return resp
	}
	resp.Data = raw
	return resp
}

// dispatch validates the payload against the action's schema and routes
// to the handler. Every error it returns maps to a wire error kind.
func (b *Broker) dispatch(ctx context.Context, env *cossdk.Envelope) (any, error) {
	if !b.schemas.Known(env.Action) {
		return nil, fmt.Errorf("%w: unknown action %q", cossdk.ErrValidation, env.Action)
	}
	if err := b.schemas.Validate(env.Action, env.Data); err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}

	switch env.Action {
	case cossdk.ActionRequestFileHandles:
		return b.requestFileHandles(ctx, env)
	case cossdk.ActionGetFileData:
		return b.getFileData(ctx, env)
	case cossdk.ActionStoreFileData:
		return b.storeFileData(ctx, env)
	case cossdk.ActionGetPermission:
		return b.getPermission(ctx, env)
	case cossdk.ActionStorePermission:
		return b.storePermission(ctx, env)
	case cossdk.ActionGetResourceMetadata:
		return b.getResourceMetadata(ctx, env)
	case cossdk.ActionGetResourceSize:
		return b.getResourceSize(ctx, env)
	case cossdk.ActionDeleteResource:
		return b.deleteResource(ctx, env)
	case cossdk.ActionDeleteAllResources:
		return b.deleteAllResources(ctx)
	case cossdk.ActionListResources:
		return b.listResources(), nil
	default:
		return nil, fmt.Errorf("%w: unhandled action %q", cossdk.ErrValidation, env.Action)
	}
}

// requestFileHandles authorizes the whole batch once, then grants handles
// hash by hash. For reads a handle requires the blob to exist; the grant
// stops at the first missing blob so the caller sees a stable prefix of
// its request. Creates are granted unconditionally: the target key is
// content addressed and cannot collide with foreign content. Every
// granted hash is recorded in the index, creates included, and the index
// is persisted once per batch.
func (b *Broker) requestFileHandles(ctx context.Context, env *cossdk.Envelope) (any, error) {
	var req cossdk.RequestFileHandlesRequest
	if err := env.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}
	for _, h := range req.Hashes {
		if !h.Valid() {
			return nil, fmt.Errorf("%w: incomplete hash %q", cossdk.ErrValidation, h.Key())
		}
	}
	origin, err := cossdk.NormalizeOrigin(req.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}

	if err := b.perms.Authorize(ctx, origin, req.Hashes, req.Create); err != nil {
		return nil, err
	}

	resp := cossdk.RequestFileHandlesResponse{Hashes: req.Hashes}
	now := time.Now()
	for _, h := range req.Hashes {
		if !req.Create {
			exists, err := b.blobs.Has(ctx, h.Key())
			if err != nil {
				return nil, fmt.Errorf("%w: check %s: %v", cossdk.ErrStore, h.Key(), err)
			}
			if !exists {
				break
			}
		}
		resp.Success = append(resp.Success, h)
		b.index.RecordAccess(origin, h.Key(), now)
	}
	if len(resp.Success) > 0 {
		if err := b.index.Save(ctx); err != nil {
			logging.Error("broker", "persist index after grant failed", "origin", origin, "error", err)
		}
	}
	return resp, nil
}

// getFileData reads a blob and parks the bytes behind a single-use
// handle. A missing blob is not an error: the response simply carries no
// handle.
func (b *Broker) getFileData(ctx context.Context, env *cossdk.Envelope) (any, error) {
	var req cossdk.GetFileDataRequest
	if err := env.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}
	data, meta, err := b.blobs.Get(ctx, req.Hash.Key())
	if errors.Is(err, blob.ErrNotFound) {
		return cossdk.GetFileDataResponse{Hash: req.Hash}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", cossdk.ErrStore, req.Hash.Key(), err)
	}
	ptr, err := b.handles.Put(ctx, data, meta.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: mint handle for %s: %v", cossdk.ErrStore, req.Hash.Key(), err)
	}
	return cossdk.GetFileDataResponse{
		Hash:          req.Hash,
		PayloadHandle: ptr,
		MimeType:      meta.ContentType,
	}, nil
}

// storeFileData persists a blob under its canonical key. The payload
// arrives either inline or behind a handle minted by the relay; the
// handle is consumed here.
func (b *Broker) storeFileData(ctx context.Context, env *cossdk.Envelope) (any, error) {
	var req cossdk.StoreFileDataRequest
	if err := env.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}

	data := req.Data
	mime := req.MimeType
	if len(data) == 0 && req.PayloadHandle != "" {
		taken, takenType, err := b.handles.Take(ctx, req.PayloadHandle)
		if errors.Is(err, handles.ErrNotFound) {
			return nil, fmt.Errorf("%w: payload handle expired or already consumed", cossdk.ErrValidation)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: take payload handle: %v", cossdk.ErrStore, err)
		}
		data = taken
		if mime == "" {
			mime = takenType
		}
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no payload supplied", cossdk.ErrValidation)
	}
	if mime == "" {
		mime = cossdk.DefaultMimeType
	}

	key := req.Hash.Key()
	if err := b.blobs.Put(ctx, key, data, mime); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", cossdk.ErrStore, key, err)
	}
	b.index.RecordSize(ctx, key, int64(len(data)))
	return cossdk.StoreFileDataResponse{Hash: req.Hash}, nil
}

func (b *Broker) getPermission(ctx context.Context, env *cossdk.Envelope) (any, error) {
	var req cossdk.GetPermissionRequest
	if err := env.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}
	origin, err := cossdk.NormalizeOrigin(req.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}
	d, err := b.perms.DurableDecision(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("%w: read permission: %v", cossdk.ErrStore, err)
	}
	return cossdk.GetPermissionResponse{Permission: d}, nil
}

func (b *Broker) storePermission(ctx context.Context, env *cossdk.Envelope) (any, error) {
	var req cossdk.StorePermissionRequest
	if err := env.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}
	origin, err := cossdk.NormalizeOrigin(req.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}
	if err := b.perms.StoreDecision(ctx, origin, req.Permission); err != nil {
		return nil, fmt.Errorf("%w: store permission: %v", cossdk.ErrStore, err)
	}
	return cossdk.StorePermissionResponse{Success: true}, nil
}

// getResourceMetadata answers with null fields for unknown blobs rather
// than failing, and refreshes the size cache on a hit.
func (b *Broker) getResourceMetadata(ctx context.Context, env *cossdk.Envelope) (any, error) {
	var req cossdk.GetResourceMetadataRequest
	if err := env.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}
	meta, err := b.blobs.Stat(ctx, req.Hash.Key())
	if errors.Is(err, blob.ErrNotFound) {
		return cossdk.GetResourceMetadataResponse{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", cossdk.ErrStore, req.Hash.Key(), err)
	}
	b.index.RecordSize(ctx, req.Hash.Key(), meta.Size)
	size := meta.Size
	mime := meta.ContentType
	return cossdk.GetResourceMetadataResponse{Size: &size, MimeType: &mime}, nil
}

func (b *Broker) getResourceSize(ctx context.Context, env *cossdk.Envelope) (any, error) {
	var req cossdk.GetResourceSizeRequest
	if err := env.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}
	meta, err := b.blobs.Stat(ctx, req.Hash.Key())
	if errors.Is(err, blob.ErrNotFound) {
		return cossdk.GetResourceSizeResponse{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", cossdk.ErrStore, req.Hash.Key(), err)
	}
	b.index.RecordSize(ctx, req.Hash.Key(), meta.Size)
	size := meta.Size
	return cossdk.GetResourceSizeResponse{Size: &size}, nil
}

func (b *Broker) deleteResource(ctx context.Context, env *cossdk.Envelope) (any, error) {
	var req cossdk.DeleteResourceRequest
	if err := env.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", cossdk.ErrValidation, err)
	}
	key := req.Hash.Key()
	if err := b.blobs.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("%w: delete %s: %v", cossdk.ErrStore, key, err)
	}
	if err := b.index.DeleteByHash(ctx, key); err != nil {
		return nil, fmt.Errorf("%w: unindex %s: %v", cossdk.ErrStore, key, err)
	}
	return cossdk.DeleteResourceResponse{Success: true}, nil
}

func (b *Broker) deleteAllResources(ctx context.Context) (any, error) {
	keys, err := b.blobs.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list blobs: %v", cossdk.ErrStore, err)
	}
	for _, key := range keys {
		if err := b.blobs.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("%w: delete %s: %v", cossdk.ErrStore, key, err)
		}
	}
	if err := b.index.Reset(ctx); err != nil {
		return nil, fmt.Errorf("%w: reset index: %v", cossdk.ErrStore, err)
	}
	return cossdk.DeleteAllResourcesResponse{Success: true}, nil
}

func (b *Broker) listResources() any {
	return cossdk.ListResourcesResponse{
		Origins: b.index.AllOrigins(),
		Hashes:  b.index.AllHashes(),
	}
}
