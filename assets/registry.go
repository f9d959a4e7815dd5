package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"goeverbridge/config"
	"goeverbridge/logger"
	"goeverbridge/types"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const descriptorCacheSize = 1024

// KV is the flat string store imported assets are persisted in.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// NativeChecker tells whether the token routed by d is minted natively on TVM.
// It is consulted only when a token has both a native and an alien route on a corridor.
type NativeChecker interface {
	IsNative(ctx context.Context, d types.PipelineDescriptor) (bool, error)
}

// Registry resolves assets and pipeline descriptors. Listed assets come from
// configuration, imported ones are discovered by pipelines and persisted in KV.
type Registry struct {
	mu       sync.RWMutex
	assets   map[string]types.Asset
	imported map[string]types.Asset

	routes []config.Route
	kv     KV
	native NativeChecker
	lggr   logger.Logger

	descriptors *expirable.LRU[string, types.PipelineDescriptor]
	inflight    singleflight.Group
}

// New builds a registry. native may be nil, ambiguous routes then resolve to the alien one.
func New(listed []types.Asset, routes []config.Route, kv KV, native NativeChecker, ttl time.Duration, lggr logger.Logger) *Registry {
	r := &Registry{
		assets:      make(map[string]types.Asset, len(listed)),
		imported:    make(map[string]types.Asset),
		routes:      routes,
		kv:          kv,
		native:      native,
		lggr:        lggr.Named("assets"),
		descriptors: expirable.NewLRU[string, types.PipelineDescriptor](descriptorCacheSize, nil, ttl),
	}
	for _, a := range listed {
		r.assets[a.Key()] = a
	}
	return r
}

// Load seeds the registry with the assets imported in earlier runs.
func (r *Registry) Load() error {
	raw, ok, err := r.kv.Get(config.IMPORTED_ASSETS_KEY)
	if err != nil {
		return fmt.Errorf("reading imported assets: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}
	var stored map[string]types.Asset
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return fmt.Errorf("decoding imported assets: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range stored {
		a.Imported = true
		key := a.Key()
		r.imported[key] = a
		if _, listed := r.assets[key]; !listed {
			r.assets[key] = a
		}
	}
	r.lggr.Infow("Loaded imported assets", "count", len(stored))
	return nil
}

func (r *Registry) Get(kind types.NetworkKind, chainID, root string) (types.Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[types.AssetKey(kind, chainID, root)]
	return a, ok
}

// Add merges asset into the registry. Known fields are never overwritten, so
// adding a known asset again is a no-op. New assets are imported and persisted.
func (r *Registry) Add(asset types.Asset) error {
	key := asset.Key()

	r.mu.Lock()
	existing, known := r.assets[key]
	if known {
		merged := merge(existing, asset)
		if merged == existing {
			r.mu.Unlock()
			return nil
		}
		r.assets[key] = merged
		if !merged.Imported {
			r.mu.Unlock()
			return nil
		}
		r.imported[key] = merged
	} else {
		asset.Imported = true
		r.assets[key] = asset
		r.imported[key] = asset
	}
	encoded, err := json.Marshal(r.imported)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encoding imported assets: %w", err)
	}

	if err := r.kv.Set(config.IMPORTED_ASSETS_KEY, string(encoded)); err != nil {
		return fmt.Errorf("persisting imported assets: %w", err)
	}
	r.lggr.Debugw("Imported asset", "key", key)
	return nil
}

func merge(dst, src types.Asset) types.Asset {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Symbol == "" {
		dst.Symbol = src.Symbol
	}
	if dst.Decimals == 0 {
		dst.Decimals = src.Decimals
	}
	if dst.Icon == "" {
		dst.Icon = src.Icon
	}
	return dst
}

// Pipeline resolves the descriptor routing root from one corridor to another.
// Returns nil when no route is configured.
func (r *Registry) Pipeline(ctx context.Context, root, from, to string, variant types.DepositVariant) (*types.PipelineDescriptor, error) {
	if variant == "" {
		variant = types.VariantDefault
	}
	key := strings.Join([]string{strings.ToLower(root), from, to, string(variant)}, "|")
	if d, ok := r.descriptors.Get(key); ok {
		return &d, nil
	}

	v, err, _ := r.inflight.Do(key, func() (interface{}, error) {
		if d, ok := r.descriptors.Get(key); ok {
			return &d, nil
		}
		d, err := r.lookup(ctx, root, from, to, variant)
		if err != nil || d == nil {
			return d, err
		}
		r.descriptors.Add(key, *d)
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.PipelineDescriptor), nil
}

func (r *Registry) lookup(ctx context.Context, root, from, to string, variant types.DepositVariant) (*types.PipelineDescriptor, error) {
	var candidates []types.PipelineDescriptor
	for _, route := range r.routes {
		v := route.Variant
		if v == "" {
			v = types.VariantDefault
		}
		if !strings.EqualFold(route.SourceToken, root) || route.From != from || route.To != to || v != variant {
			continue
		}
		d := route.PipelineDescriptor
		d.Variant = v
		candidates = append(candidates, d)
	}

	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
		return &candidates[0], nil
	}

	if r.native == nil {
		for i := range candidates {
			if !candidates[i].IsNative {
				return &candidates[i], nil
			}
		}
		return &candidates[0], nil
	}
	native, err := r.native.IsNative(ctx, candidates[0])
	if err != nil {
		return nil, fmt.Errorf("checking native routing for %s: %w", root, err)
	}
	for i := range candidates {
		if candidates[i].IsNative == native {
			return &candidates[i], nil
		}
	}
	return nil, nil
}
