package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/joestump/spindle/internal/store"
	"github.com/joestump/spindle/internal/testutil"
)

func TestUserStore_UpsertKeepsID(t *testing.T) {
	us := store.NewUserStore(testutil.NewTestDB(t))
	ctx := context.Background()

	first, err := us.Upsert(ctx, "https://idp.example.com", "sub-1", "old@example.com", "Old Name")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second, err := us.Upsert(ctx, "https://idp.example.com", "sub-1", "new@example.com", "New Name")
	if err != nil {
		t.Fatalf("Upsert again: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("ID = %q, want %q", second.ID, first.ID)
	}
	if second.Email != "new@example.com" || second.DisplayName != "New Name" {
		t.Errorf("profile = %q/%q, want refreshed values", second.Email, second.DisplayName)
	}
}

func TestUserStore_GetByID_NotFound(t *testing.T) {
	us := store.NewUserStore(testutil.NewTestDB(t))
	if _, err := us.GetByID(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByID(missing) = %v, want ErrNotFound", err)
	}
}
