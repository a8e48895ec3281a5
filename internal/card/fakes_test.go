package card

import (
	"context"
	"fmt"
	"sync"

	"github.com/howard-nolan/cardforge/internal/provider"
)

// memStore is an in-memory ProfileStore and CardStore.
type memStore struct {
	mu       sync.Mutex
	profiles map[string]Profile
	cards    map[string]Card
	order    []string

	createErr error
}

func newMemStore() *memStore {
	return &memStore{profiles: map[string]Profile{}, cards: map[string]Card{}}
}

func (m *memStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return &p, nil
}

func (m *memStore) SaveProfile(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = *p
	return nil
}

func (m *memStore) CreateCard(_ context.Context, c *Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.cards[c.ID] = *c
	m.order = append(m.order, c.ID)
	return nil
}

func (m *memStore) GetCard(_ context.Context, cardID string) (*Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardID]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", cardID, ErrNotFound)
	}
	return &c, nil
}

func (m *memStore) ListCards(_ context.Context, userID string) ([]*Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Card
	for i := len(m.order) - 1; i >= 0; i-- {
		if c, ok := m.cards[m.order[i]]; ok && c.Owner == userID {
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateCard(_ context.Context, c *Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cards[c.ID]; !ok {
		return ErrNotFound
	}
	m.cards[c.ID] = *c
	return nil
}

func (m *memStore) DeleteCard(_ context.Context, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cards, cardID)
	return nil
}

type upload struct {
	namespace, path, contentType string
	data                         []byte
}

type fakeObjects struct {
	uploads []upload
	deleted []string
	err     error
}

func (f *fakeObjects) Upload(_ context.Context, namespace, path string, data []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.uploads = append(f.uploads, upload{namespace, path, contentType, data})
	return nil
}

func (f *fakeObjects) Delete(_ context.Context, namespace, path string) error {
	f.deleted = append(f.deleted, namespace+"/"+path)
	return nil
}

func (f *fakeObjects) PublicURL(namespace, path string) string {
	return "https://cdn.test/" + namespace + "/" + path
}

type fakePalette struct {
	colors []string
	err    error
	refs   []string
}

func (f *fakePalette) Colors(_ context.Context, ref string) ([]string, error) {
	f.refs = append(f.refs, ref)
	return f.colors, f.err
}

type fakeChat struct {
	reply string
	err   error
	req   *provider.ChatRequest
}

func (f *fakeChat) ChatCompletion(_ context.Context, req *provider.ChatRequest, _ ...provider.CallOption) (*provider.ChatResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &provider.ChatResponse{
		Model: "test-model",
		Choices: []provider.Choice{{
			Message:      provider.Message{Role: provider.RoleAssistant, Content: provider.TextContent(f.reply)},
			FinishReason: provider.FinishStop,
		}},
	}, nil
}

type fakeImages struct {
	resp *provider.ImageResponse
	err  error
	req  *provider.ImageRequest
}

func (f *fakeImages) GenerateImage(_ context.Context, req *provider.ImageRequest, _ ...provider.CallOption) (*provider.ImageResponse, error) {
	f.req = req
	return f.resp, f.err
}
