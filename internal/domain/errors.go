// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrTenantNotFound indicates the tenant does not exist or is disabled.
var ErrTenantNotFound = errors.New("tenant not found")

// ErrChannelNotConfigured indicates the tenant has no channel of the requested type.
var ErrChannelNotConfigured = errors.New("channel not configured")

// ErrLLMNotConfigured indicates the tenant settings carry no usable llm block.
var ErrLLMNotConfigured = errors.New("llm not configured")
