package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Wandeon/meta-chat-platform/internal/domain"
	"github.com/Wandeon/meta-chat-platform/internal/domain/conversation"
	"github.com/Wandeon/meta-chat-platform/internal/domain/event"
	"github.com/Wandeon/meta-chat-platform/internal/domain/message"
	"github.com/Wandeon/meta-chat-platform/internal/domain/retrieval"
	"github.com/Wandeon/meta-chat-platform/internal/domain/tenant"
	"github.com/Wandeon/meta-chat-platform/internal/port/channel"
	"github.com/Wandeon/meta-chat-platform/internal/port/database"
	"github.com/Wandeon/meta-chat-platform/internal/port/llm"
	"github.com/Wandeon/meta-chat-platform/internal/port/messagequeue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory database.Store with per-method error injection.
type fakeStore struct {
	mu sync.Mutex

	tenants  map[string]*tenant.Tenant
	channels map[string]*tenant.Channel        // tenantID/type
	convs    map[string]*conversation.Conversation // tenantID/channelType/externalID
	byID     map[string]*conversation.Conversation
	messages []conversation.Message

	vecHits []retrieval.Hit
	kwHits  []retrieval.Hit

	getTenantCalls  int
	getChannelCalls int

	errGetTenant     error
	errCreateMessage error
	errVector        error
	errKeyword       error

	seq int
}

var _ database.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		tenants:  make(map[string]*tenant.Tenant),
		channels: make(map[string]*tenant.Channel),
		convs:    make(map[string]*conversation.Conversation),
		byID:     make(map[string]*conversation.Conversation),
	}
}

func (s *fakeStore) addTenant(id string, enabled bool, settings []byte) {
	s.tenants[id] = &tenant.Tenant{ID: id, Name: id, Slug: id, Enabled: enabled, Settings: settings}
}

func (s *fakeStore) addChannel(tenantID, channelType string, enabled bool, cfg []byte) {
	s.channels[tenantID+"/"+channelType] = &tenant.Channel{
		ID:       tenantID + "-" + channelType,
		TenantID: tenantID,
		Type:     channelType,
		Enabled:  enabled,
		Config:   cfg,
	}
}

func (s *fakeStore) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func (s *fakeStore) GetTenant(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getTenantCalls++
	if s.errGetTenant != nil {
		return nil, s.errGetTenant
	}
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) GetChannel(ctx context.Context, tenantID, channelType string) (*tenant.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getChannelCalls++
	ch, ok := s.channels[tenantID+"/"+channelType]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (s *fakeStore) ListEnabledChannels(ctx context.Context) ([]tenant.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tenant.Channel
	for _, ch := range s.channels {
		t := s.tenants[ch.TenantID]
		if ch.Enabled && t != nil && t.Enabled {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) UpsertConversation(ctx context.Context, c *conversation.Conversation) (*conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.TenantID + "/" + c.ChannelType + "/" + c.ExternalID
	existing, ok := s.convs[key]
	if !ok {
		cp := *c
		cp.ID = s.nextID("conv")
		cp.Status = conversation.StatusActive
		cp.CreatedAt = time.Now()
		cp.UpdatedAt = cp.CreatedAt
		s.convs[key] = &cp
		s.byID[cp.ID] = &cp
		out := cp
		return &out, nil
	}
	if c.UserID != "" {
		existing.UserID = c.UserID
	}
	existing.Status = conversation.StatusActive
	existing.LastMessageAt = c.LastMessageAt
	existing.UpdatedAt = time.Now()
	out := *existing
	return &out, nil
}

func (s *fakeStore) UpdateConversationStatus(ctx context.Context, conversationID string, status conversation.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[conversationID]
	if !ok {
		return domain.ErrNotFound
	}
	c.Status = status
	return nil
}

func (s *fakeStore) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[conversationID]
	if !ok {
		return domain.ErrNotFound
	}
	c.LastMessageAt = at
	return nil
}

func (s *fakeStore) CreateMessage(ctx context.Context, m *conversation.Message) (*conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errCreateMessage != nil {
		return nil, s.errCreateMessage
	}
	cp := *m
	cp.ID = s.nextID("msg")
	cp.CreatedAt = time.Now()
	s.messages = append(s.messages, cp)
	out := cp
	return &out, nil
}

func (s *fakeStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]conversation.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []conversation.Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if s.messages[i].ConversationID == conversationID {
			out = append(out, s.messages[i])
		}
	}
	return out, nil
}

func (s *fakeStore) SearchChunksByEmbedding(ctx context.Context, tenantID string, embedding []float32, minSimilarity float64, limit int) ([]retrieval.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVector != nil {
		return nil, s.errVector
	}
	return s.vecHits, nil
}

func (s *fakeStore) SearchChunksByKeyword(ctx context.Context, tenantID, query string, limit int) ([]retrieval.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errKeyword != nil {
		return nil, s.errKeyword
	}
	return s.kwHits, nil
}

func (s *fakeStore) storedMessages() []conversation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]conversation.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *fakeStore) conversationByID(id string) *conversation.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// fakeBroker records topology declarations and publishes.
type fakeBroker struct {
	mu         sync.Mutex
	topologies []messagequeue.Topology
	published  []publishedMsg
	consumers  []messagequeue.Topology
	errPublish error
	connected  bool
}

type publishedMsg struct {
	subject string
	header  map[string]string
	data    []byte
}

var _ messagequeue.Broker = (*fakeBroker)(nil)

func (b *fakeBroker) EnsureTopology(ctx context.Context, t messagequeue.Topology) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topologies = append(b.topologies, t)
	return nil
}

func (b *fakeBroker) Publish(ctx context.Context, subject string, header map[string]string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.errPublish != nil {
		return b.errPublish
	}
	b.published = append(b.published, publishedMsg{subject: subject, header: header, data: data})
	return nil
}

func (b *fakeBroker) Consume(ctx context.Context, t messagequeue.Topology, prefetch int, fn func(messagequeue.Delivery)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumers = append(b.consumers, t)
	return func() {}, nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) publishedTo(subject string) []publishedMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedMsg
	for _, p := range b.published {
		if p.subject == subject {
			out = append(out, p)
		}
	}
	return out
}

func (b *fakeBroker) publishCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *fakeBroker) consumerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.consumers)
}

// fakeEmbedder returns a fixed vector or error.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

func (e *fakeEmbedder) Dimensions() int { return len(e.vec) }

// fakeProvider replays scripted chunk streams, one per StreamChat call.
type fakeProvider struct {
	mu       sync.Mutex
	requests []llm.Request
	streams  [][]llm.StreamChunk
	err      error
}

var _ llm.Provider = (*fakeProvider)(nil)

func (p *fakeProvider) StreamChat(ctx context.Context, req llm.Request, onChunk func(llm.StreamChunk)) error {
	p.mu.Lock()
	idx := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	if idx >= len(p.streams) {
		return fmt.Errorf("fakeProvider: unscripted call %d", idx)
	}
	for _, chunk := range p.streams[idx] {
		onChunk(chunk)
	}
	return nil
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) request(i int) llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// fakeChannelAdapter records outbound sends.
type fakeChannelAdapter struct {
	mu    sync.Mutex
	sends []*message.Outbound
	err   error
}

var _ channel.Adapter = (*fakeChannelAdapter)(nil)

func (a *fakeChannelAdapter) Send(ctx context.Context, out *message.Outbound, sc channel.SendContext) (*channel.SendResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.sends = append(a.sends, out)
	return &channel.SendResult{ExternalID: fmt.Sprintf("ext-%d", len(a.sends))}, nil
}

func (a *fakeChannelAdapter) sent() []*message.Outbound {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*message.Outbound, len(a.sends))
	copy(out, a.sends)
	return out
}

// fakeEmitter records emitted events.
type fakeEmitter struct {
	mu     sync.Mutex
	events []event.Event
}

func (e *fakeEmitter) Emit(ctx context.Context, ev event.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *fakeEmitter) emitted() []event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]event.Event, len(e.events))
	copy(out, e.events)
	return out
}
