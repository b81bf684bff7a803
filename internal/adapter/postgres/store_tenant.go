package postgres

import (
	"context"
	"fmt"

	"github.com/Wandeon/meta-chat-platform/internal/domain/tenant"
)

func scanTenant(row scannable) (tenant.Tenant, error) {
	var t tenant.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.Enabled, &t.Settings, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func scanChannel(row scannable) (tenant.Channel, error) {
	var c tenant.Channel
	err := row.Scan(&c.ID, &c.TenantID, &c.Type, &c.Enabled, &c.Config, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, slug, enabled, settings, created_at, updated_at
		 FROM tenants WHERE id = $1`, tenantID)
	t, err := scanTenant(row)
	if err != nil {
		return nil, notFoundWrap(err, "get tenant %s", tenantID)
	}
	return &t, nil
}

func (s *Store) GetChannel(ctx context.Context, tenantID, channelType string) (*tenant.Channel, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, type, enabled, config, created_at, updated_at
		 FROM channels WHERE tenant_id = $1 AND type = $2`, tenantID, channelType)
	c, err := scanChannel(row)
	if err != nil {
		return nil, notFoundWrap(err, "get channel %s/%s", tenantID, channelType)
	}
	return &c, nil
}

// ListEnabledChannels returns every enabled channel whose tenant is also
// enabled. This is the consumer bootstrap query: one queue is started per row.
func (s *Store) ListEnabledChannels(ctx context.Context) ([]tenant.Channel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.tenant_id, c.type, c.enabled, c.config, c.created_at, c.updated_at
		 FROM channels c
		 JOIN tenants t ON t.id = c.tenant_id
		 WHERE c.enabled AND t.enabled
		 ORDER BY c.tenant_id, c.type`)
	if err != nil {
		return nil, fmt.Errorf("list enabled channels: %w", err)
	}
	defer rows.Close()

	var channels []tenant.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}
