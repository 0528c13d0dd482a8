package inboxtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/events"
)

// RawWebhooks is an in-memory raw_webhooks table. Inserted payloads are
// attached to the inbox so items joined by raw id carry them.
type RawWebhooks struct {
	mu    sync.Mutex
	inbox *Memory
	rows  map[uuid.UUID]events.RawWebhook
	keys  map[string]uuid.UUID
}

func NewRawWebhooks(inbox *Memory) *RawWebhooks {
	return &RawWebhooks{inbox: inbox, rows: map[uuid.UUID]events.RawWebhook{}, keys: map[string]uuid.UUID{}}
}

func (r *RawWebhooks) ExistsByKey(_ context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[key]
	return ok, nil
}

func (r *RawWebhooks) FindByKey(_ context.Context, key string) (*events.RawWebhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.keys[key]
	if !ok {
		return nil, events.ErrNotFound
	}
	w := r.rows[id]
	return &w, nil
}

func (r *RawWebhooks) Insert(_ context.Context, source, key string, payload json.RawMessage) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key != "" {
		if _, ok := r.keys[key]; ok {
			return uuid.Nil, events.ErrDuplicateKey
		}
	}
	w := events.RawWebhook{ID: uuid.New(), Source: source, Payload: payload}
	if key != "" {
		k := key
		w.IdempotencyKey = &k
		r.keys[key] = w.ID
	}
	r.rows[w.ID] = w
	if r.inbox != nil {
		r.inbox.Attach(w.ID, payload)
	}
	return w.ID, nil
}

func (r *RawWebhooks) Get(_ context.Context, id uuid.UUID) (*events.RawWebhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.rows[id]
	if !ok {
		return nil, events.ErrNotFound
	}
	return &w, nil
}

func (r *RawWebhooks) SetProcessed(_ context.Context, id uuid.UUID, processed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.rows[id]
	if !ok {
		return events.ErrNotFound
	}
	w.Processed = processed
	r.rows[id] = w
	return nil
}

// Processed reports the flag for id.
func (r *RawWebhooks) Processed(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].Processed
}

// Len counts stored payloads.
func (r *RawWebhooks) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}
