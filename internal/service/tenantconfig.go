// Package service implements the pipeline's business logic on top of the
// port interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Wandeon/meta-chat-platform/internal/adapter/ristretto"
	"github.com/Wandeon/meta-chat-platform/internal/domain"
	"github.com/Wandeon/meta-chat-platform/internal/domain/tenant"
	"github.com/Wandeon/meta-chat-platform/internal/port/database"
)

// TenantConfigService resolves and caches the runtime configuration for
// (tenant, channel) pairs. Cached values are shared pointers; callers must
// treat them as read-only.
type TenantConfigService struct {
	store  database.Store
	cache  *ristretto.Cache[*tenant.RuntimeConfig]
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger

	mu     sync.Mutex
	cached map[string]map[string]struct{} // tenantID -> channel types with a live entry
}

// NewTenantConfigService creates the config cache with the given TTL.
func NewTenantConfigService(store database.Store, cache *ristretto.Cache[*tenant.RuntimeConfig], ttl time.Duration, logger *slog.Logger) *TenantConfigService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantConfigService{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
		cached: make(map[string]map[string]struct{}),
	}
}

func configKey(tenantID, channelType string) string {
	return tenantID + "/" + channelType
}

// Resolve returns the runtime config for a (tenant, channel) pair, loading
// and caching it on miss. Concurrent misses for the same key collapse into a
// single load.
func (s *TenantConfigService) Resolve(ctx context.Context, tenantID, channelType string) (*tenant.RuntimeConfig, error) {
	key := configKey(tenantID, channelType)
	if rc, ok := s.cache.Get(key); ok {
		return rc, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.load(ctx, tenantID, channelType)
	})
	if err != nil {
		return nil, err
	}
	return v.(*tenant.RuntimeConfig), nil
}

func (s *TenantConfigService) load(ctx context.Context, tenantID, channelType string) (*tenant.RuntimeConfig, error) {
	t, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("resolve tenant %s: %w", tenantID, domain.ErrTenantNotFound)
		}
		// Transient store failures keep their cause so the consumer retries.
		return nil, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	if !t.Enabled {
		return nil, fmt.Errorf("tenant %s is disabled: %w", tenantID, domain.ErrTenantNotFound)
	}

	ch, err := s.store.GetChannel(ctx, tenantID, channelType)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("resolve channel %s/%s: %w", tenantID, channelType, domain.ErrChannelNotConfigured)
		}
		return nil, fmt.Errorf("resolve channel %s/%s: %w", tenantID, channelType, err)
	}
	if !ch.Enabled {
		return nil, fmt.Errorf("channel %s/%s is disabled: %w", tenantID, channelType, domain.ErrChannelNotConfigured)
	}

	rc := &tenant.RuntimeConfig{
		Tenant:        *t,
		Channel:       *ch,
		Settings:      tenant.ParseSettings(t.Settings),
		ChannelConfig: tenant.ParseChannelConfig(ch.Config),
		LLM:           tenant.ParseLLM(t.Settings),
	}

	s.cache.Set(configKey(tenantID, channelType), rc, s.ttl)
	s.mu.Lock()
	if s.cached[tenantID] == nil {
		s.cached[tenantID] = make(map[string]struct{})
	}
	s.cached[tenantID][channelType] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("tenant config loaded",
		"tenant_id", tenantID,
		"channel_type", channelType,
		"llm_configured", rc.LLM != nil,
	)
	return rc, nil
}

// Invalidate evicts cached config for a tenant. With no channel types given
// it evicts every channel entry the tenant has resolved; otherwise only the
// named channels. The next Resolve per evicted entry reloads from the store.
func (s *TenantConfigService) Invalidate(tenantID string, channelTypes ...string) {
	s.mu.Lock()
	if len(channelTypes) == 0 {
		for ct := range s.cached[tenantID] {
			channelTypes = append(channelTypes, ct)
		}
		delete(s.cached, tenantID)
	} else {
		for _, ct := range channelTypes {
			delete(s.cached[tenantID], ct)
		}
	}
	s.mu.Unlock()

	for _, ct := range channelTypes {
		s.cache.Delete(configKey(tenantID, ct))
	}
	s.cache.Wait()
	s.logger.Info("tenant config invalidated", "tenant_id", tenantID, "channels", len(channelTypes))
}
