package pharmacy

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/telerx/telerx/internal/platform/crypto"
	"github.com/telerx/telerx/internal/platform/digitalrx"
)

type mockRepo struct {
	backends      map[uuid.UUID]*Backend
	byIDsCalls    int
	fallbackCalls int
}

func newMockRepo() *mockRepo {
	return &mockRepo{backends: make(map[uuid.UUID]*Backend)}
}

func (m *mockRepo) Create(_ context.Context, b *Backend) error {
	b.ID = uuid.New()
	m.backends[b.ID] = b
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Backend, error) {
	b, ok := m.backends[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return b, nil
}

func (m *mockRepo) GetFallback(_ context.Context, systemType string) (*Backend, error) {
	m.fallbackCalls++
	for _, b := range m.backends {
		if b.SystemType == systemType && b.IsActive {
			return b, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) GetByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*Backend, error) {
	m.byIDsCalls++
	out := make(map[uuid.UUID]*Backend)
	for _, id := range ids {
		if b, ok := m.backends[id]; ok && b.IsActive {
			out[id] = b
		}
	}
	return out, nil
}

func (m *mockRepo) List(_ context.Context, _, _ int) ([]*Backend, int, error) {
	var out []*Backend
	for _, b := range m.backends {
		out = append(out, b)
	}
	return out, len(out), nil
}

func (m *mockRepo) Update(_ context.Context, b *Backend) error {
	m.backends[b.ID] = b
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(m.backends, id)
	return nil
}

func testEncryptor(t *testing.T) *crypto.KeyEncryptor {
	t.Helper()
	enc, err := crypto.NewKeyEncryptor(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	return enc
}

func seedBackend(t *testing.T, repo *mockRepo, enc *crypto.KeyEncryptor, name, apiKey string, active bool) *Backend {
	t.Helper()
	sealed, err := enc.Encrypt(apiKey)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b := &Backend{
		Name:       name,
		SystemType: digitalrx.SystemType,
		BaseURL:    "https://rx.example.com",
		StoreID:    "210",
		APIKey:     sealed,
		IsActive:   active,
	}
	if err := repo.Create(context.Background(), b); err != nil {
		t.Fatalf("create: %v", err)
	}
	return b
}

func TestResolveExplicitBackend(t *testing.T) {
	repo := newMockRepo()
	enc := testEncryptor(t)
	b := seedBackend(t, repo, enc, "main", "secret-key", true)

	r := NewResolver(repo, enc)
	res, err := r.Resolve(context.Background(), &b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Backend.ID != b.ID {
		t.Errorf("resolved wrong backend: %s", res.Backend.ID)
	}
	if res.Credentials.APIKey != "secret-key" {
		t.Errorf("expected decrypted api key, got %q", res.Credentials.APIKey)
	}
	if res.Credentials.StoreID != "210" {
		t.Errorf("unexpected store id %q", res.Credentials.StoreID)
	}
}

func TestResolveFallsBackWhenNoID(t *testing.T) {
	repo := newMockRepo()
	enc := testEncryptor(t)
	seedBackend(t, repo, enc, "fallback", "fb-key", true)

	r := NewResolver(repo, enc)
	res, err := r.Resolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Credentials.APIKey != "fb-key" {
		t.Errorf("expected fallback credentials, got %q", res.Credentials.APIKey)
	}
}

func TestResolveNotConfigured(t *testing.T) {
	r := NewResolver(newMockRepo(), testEncryptor(t))
	if _, err := r.Resolve(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestResolveInactiveBackendUsesFallback(t *testing.T) {
	repo := newMockRepo()
	enc := testEncryptor(t)
	b := seedBackend(t, repo, enc, "retired", "old-key", false)
	seedBackend(t, repo, enc, "active", "new-key", true)

	r := NewResolver(repo, enc)
	res, err := r.Resolve(context.Background(), &b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Credentials.APIKey != "new-key" {
		t.Errorf("expected fallback credentials, got %q", res.Credentials.APIKey)
	}
}

func TestResolveMissingExplicitBackendUsesFallback(t *testing.T) {
	repo := newMockRepo()
	enc := testEncryptor(t)
	seedBackend(t, repo, enc, "active", "fb-key", true)

	r := NewResolver(repo, enc)
	missing := uuid.New()
	res, err := r.Resolve(context.Background(), &missing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Credentials.APIKey != "fb-key" {
		t.Errorf("expected fallback credentials, got %q", res.Credentials.APIKey)
	}
}

func TestResolveMissingExplicitBackendNoFallback(t *testing.T) {
	r := NewResolver(newMockRepo(), testEncryptor(t))
	missing := uuid.New()
	if _, err := r.Resolve(context.Background(), &missing); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestResolveBatch(t *testing.T) {
	repo := newMockRepo()
	enc := testEncryptor(t)
	a := seedBackend(t, repo, enc, "a", "key-a", true)
	b := seedBackend(t, repo, enc, "b", "key-b", true)

	r := NewResolver(repo, enc)
	got, err := r.ResolveBatch(context.Background(), []uuid.UUID{a.ID, b.ID, uuid.Nil, a.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 resolved entries, got %d", len(got))
	}
	if got[a.ID].Credentials.APIKey != "key-a" {
		t.Errorf("backend a: wrong api key %q", got[a.ID].Credentials.APIKey)
	}
	if got[uuid.Nil] == nil {
		t.Fatal("expected fallback entry under uuid.Nil")
	}
	if repo.byIDsCalls != 1 || repo.fallbackCalls != 1 {
		t.Errorf("expected 1 batch + 1 fallback query, got %d/%d", repo.byIDsCalls, repo.fallbackCalls)
	}
}

func TestResolveBatchFallsBackForUnresolvedID(t *testing.T) {
	repo := newMockRepo()
	enc := testEncryptor(t)
	retired := seedBackend(t, repo, enc, "retired", "old-key", false)
	seedBackend(t, repo, enc, "active", "fb-key", true)

	r := NewResolver(repo, enc)
	got, err := r.ResolveBatch(context.Background(), []uuid.UUID{retired.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[retired.ID] != nil {
		t.Error("inactive backend should not resolve under its own id")
	}
	if got[uuid.Nil] == nil {
		t.Fatal("expected fallback entry under uuid.Nil for the unresolved id")
	}
	if got[uuid.Nil].Credentials.APIKey != "fb-key" {
		t.Errorf("fallback entry has wrong key %q", got[uuid.Nil].Credentials.APIKey)
	}
}

func TestResolveBatchNoFallbackConfigured(t *testing.T) {
	repo := newMockRepo()
	enc := testEncryptor(t)
	a := seedBackend(t, repo, enc, "a", "key-a", true)
	repo.backends[a.ID].IsActive = false

	r := NewResolver(repo, enc)
	got, err := r.ResolveBatch(context.Background(), []uuid.UUID{uuid.Nil, a.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d entries", len(got))
	}
}

func TestServiceEncryptsAPIKeyOnCreate(t *testing.T) {
	repo := newMockRepo()
	enc := testEncryptor(t)
	svc := NewService(repo, enc)

	b := &Backend{
		Name:       "main",
		SystemType: digitalrx.SystemType,
		BaseURL:    "https://rx.example.com",
		StoreID:    "210",
		APIKey:     "plain-key",
		IsActive:   true,
	}
	if err := svc.Create(context.Background(), b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := repo.backends[b.ID]
	if !crypto.IsEncrypted(stored.APIKey) {
		t.Errorf("api key stored unencrypted: %q", stored.APIKey)
	}
	plain, err := enc.Decrypt(stored.APIKey)
	if err != nil || plain != "plain-key" {
		t.Errorf("round trip failed: %q %v", plain, err)
	}
}

func TestServiceUpdateKeepsKeyWhenOmitted(t *testing.T) {
	repo := newMockRepo()
	enc := testEncryptor(t)
	svc := NewService(repo, enc)
	b := seedBackend(t, repo, enc, "main", "orig-key", true)
	sealed := b.APIKey

	upd := &Backend{
		ID:         b.ID,
		Name:       "renamed",
		SystemType: digitalrx.SystemType,
		BaseURL:    b.BaseURL,
		StoreID:    b.StoreID,
		IsActive:   true,
	}
	if err := svc.Update(context.Background(), upd); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.backends[b.ID].APIKey != sealed {
		t.Error("expected stored api key to be preserved on update without key")
	}
}

func TestServiceRejectsUnknownSystemType(t *testing.T) {
	svc := NewService(newMockRepo(), testEncryptor(t))
	b := &Backend{Name: "x", SystemType: "surescripts", BaseURL: "https://x", StoreID: "1", APIKey: "k"}
	if err := svc.Create(context.Background(), b); err == nil {
		t.Error("expected validation error for unknown system type")
	}
}
