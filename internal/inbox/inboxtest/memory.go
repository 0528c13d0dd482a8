// Package inboxtest provides an in-memory inbox for pipeline and service tests.
package inboxtest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/inbox"
)

// Memory implements inbox.Items. Payloads are attached with Attach, standing
// in for the raw_webhooks join.
type Memory struct {
	mu       sync.Mutex
	items    map[uuid.UUID]inbox.Item
	payloads map[uuid.UUID]json.RawMessage
	clock    time.Time
}

func New() *Memory {
	return &Memory{
		items:    map[uuid.UUID]inbox.Item{},
		payloads: map[uuid.UUID]json.RawMessage{},
		clock:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var _ inbox.Items = (*Memory)(nil)

// Attach records the stored payload for a raw webhook id.
func (m *Memory) Attach(rawID uuid.UUID, payload json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[rawID] = payload
}

// All returns every item oldest first.
func (m *Memory) All() []inbox.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]inbox.Item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, m.withPayload(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) Create(_ context.Context, e inbox.Entry) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(time.Second)
	it := inbox.Item{
		ID:           uuid.New(),
		RawWebhookID: e.RawWebhookID,
		RawText:      e.RawText,
		ErrorMessage: e.ErrorMessage,
		ErrorType:    e.ErrorType,
		Status:       inbox.StatusPending,
		CreatedAt:    m.clock,
	}
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return uuid.Nil, err
		}
		it.Metadata = data
	}
	m.items[it.ID] = it
	return it.ID, nil
}

func (m *Memory) withPayload(it inbox.Item) inbox.Item {
	if it.RawWebhookID != nil {
		it.Payload = m.payloads[*it.RawWebhookID]
	}
	return it
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*inbox.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, inbox.ErrNotFound
	}
	it = m.withPayload(it)
	return &it, nil
}

func (m *Memory) List(_ context.Context, status inbox.Status) ([]inbox.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []inbox.Item
	for _, it := range m.items {
		if status == "" || it.Status == status {
			out = append(out, m.withPayload(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SetStatus(_ context.Context, id uuid.UUID, status inbox.Status, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return inbox.ErrNotFound
	}
	it.Status = status
	if len(meta) > 0 {
		merged := it.Meta()
		for k, v := range meta {
			merged[k] = v
		}
		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		it.Metadata = data
	}
	m.items[id] = it
	return nil
}
