package credentials

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/telerx/telerx/internal/platform/crypto"
)

type mockRepo struct {
	sets []*MerchantCredentials
}

func (m *mockRepo) GetActive(context.Context) (*MerchantCredentials, error) {
	for _, c := range m.sets {
		if c.IsActive {
			return c, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *mockRepo) Replace(_ context.Context, c *MerchantCredentials) error {
	for _, prev := range m.sets {
		prev.IsActive = false
	}
	c.ID = uuid.New()
	c.IsActive = true
	m.sets = append(m.sets, c)
	return nil
}

func (m *mockRepo) List(context.Context) ([]*MerchantCredentials, error) {
	return m.sets, nil
}

func newService(t *testing.T) (*Service, *mockRepo) {
	t.Helper()
	enc, err := crypto.NewKeyEncryptor(bytes.Repeat([]byte{0x17}, 32))
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}
	repo := &mockRepo{}
	return NewService(repo, enc), repo
}

func TestSetEncryptsSecrets(t *testing.T) {
	svc, repo := newService(t)

	_, err := svc.Set(context.Background(), SetInput{
		Label:          "production",
		APILoginID:     "login-1",
		TransactionKey: "txn-key-1",
		SignatureKey:   "sig-key-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := repo.sets[0]
	for name, v := range map[string]string{
		"api_login_id":    stored.APILoginID,
		"transaction_key": stored.TransactionKey,
		"signature_key":   stored.SignatureKey,
	} {
		if !crypto.IsEncrypted(v) {
			t.Errorf("%s stored unencrypted: %q", name, v)
		}
	}
}

func TestSetReplacesActiveSet(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	_, _ = svc.Set(ctx, SetInput{Label: "old", APILoginID: "a", TransactionKey: "b", SignatureKey: "c"})
	_, err := svc.Set(ctx, SetInput{Label: "new", APILoginID: "a2", TransactionKey: "b2", SignatureKey: "c2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := 0
	for _, c := range repo.sets {
		if c.IsActive {
			active++
			if c.Label != "new" {
				t.Errorf("wrong active set: %s", c.Label)
			}
		}
	}
	if active != 1 {
		t.Errorf("expected exactly 1 active set, got %d", active)
	}
}

func TestGetActiveDecrypts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, SetInput{
		APILoginID:     "merchant-login",
		TransactionKey: "merchant-txn",
		SignatureKey:   "merchant-sig",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active, err := svc.GetActive(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active.Merchant.Name != "merchant-login" {
		t.Errorf("wrong login id: %q", active.Merchant.Name)
	}
	if active.Merchant.TransactionKey != "merchant-txn" {
		t.Errorf("wrong transaction key: %q", active.Merchant.TransactionKey)
	}
	if active.SignatureKey != "merchant-sig" {
		t.Errorf("wrong signature key: %q", active.SignatureKey)
	}
}

func TestGetActiveWhenUnconfigured(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.GetActive(context.Background()); !errors.Is(err, ErrNoActiveCredentials) {
		t.Errorf("expected ErrNoActiveCredentials, got %v", err)
	}
}

func TestSetRequiresAllSecrets(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Set(context.Background(), SetInput{APILoginID: "only-login"}); err == nil {
		t.Error("expected validation error, got nil")
	}
}
