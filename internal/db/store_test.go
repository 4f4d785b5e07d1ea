package db

import (
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/cSxrpent/gem-nexus/internal/db/models"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.GemAccount{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// The shared in-memory db survives across tests in this package; start
	// each test from an empty table.
	if err := db.Exec("DELETE FROM gem_accounts").Error; err != nil {
		t.Fatalf("failed to reset table: %v", err)
	}
	return NewStore(db)
}

func TestRegisterAccount_Defaults(t *testing.T) {
	store := newTestStore(t)

	account, err := store.RegisterAccount(3, "bugsbot3@example.com", "secret", 5000)
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}

	if account.ID == "" {
		t.Error("expected a generated account ID")
	}
	if account.CurrentNickname != "bugsbot3" {
		t.Errorf("expected default nickname bugsbot3, got %q", account.CurrentNickname)
	}
	if account.GemsRemaining != 5000 {
		t.Errorf("expected starting balance 5000, got %d", account.GemsRemaining)
	}
	if !account.IsActive {
		t.Error("expected new account to be active")
	}
	if account.LastUsedAt != nil {
		t.Error("expected new account to have no last-used time")
	}
}

func TestRegisterAccount_DuplicateEmail(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.RegisterAccount(1, "dup@example.com", "pw", 5000); err != nil {
		t.Fatalf("first RegisterAccount failed: %v", err)
	}
	_, err := store.RegisterAccount(2, "dup@example.com", "pw2", 5000)
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestListAccounts_OrderedByNumber(t *testing.T) {
	store := newTestStore(t)

	for _, n := range []int{7, 2, 5} {
		if _, err := store.RegisterAccount(n, "order"+string(rune('a'+n))+"@example.com", "pw", 100); err != nil {
			t.Fatalf("RegisterAccount failed: %v", err)
		}
	}

	accounts, err := store.ListAccounts()
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 3 {
		t.Fatalf("expected 3 accounts, got %d", len(accounts))
	}
	for i, want := range []int{2, 5, 7} {
		if accounts[i].AccountNumber != want {
			t.Errorf("position %d: expected account #%d, got #%d", i, want, accounts[i].AccountNumber)
		}
	}
}

func TestUpdateBalance_MarksUsed(t *testing.T) {
	store := newTestStore(t)
	account, err := store.RegisterAccount(1, "balance@example.com", "pw", 5000)
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}

	before := time.Now().UTC().Add(-time.Second)
	if err := store.UpdateBalance(account.ID, 4200); err != nil {
		t.Fatalf("UpdateBalance failed: %v", err)
	}

	got, err := store.GetAccount(account.ID)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got.GemsRemaining != 4200 {
		t.Errorf("expected 4200 gems, got %d", got.GemsRemaining)
	}
	if got.LastUsedAt == nil || got.LastUsedAt.Before(before) {
		t.Errorf("expected last-used time to be set, got %v", got.LastUsedAt)
	}
}

func TestUpdateBalance_RejectsNegative(t *testing.T) {
	store := newTestStore(t)
	account, err := store.RegisterAccount(1, "negative@example.com", "pw", 100)
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}

	if err := store.UpdateBalance(account.ID, -50); err == nil {
		t.Fatal("expected negative balance to be rejected")
	}
	got, _ := store.GetAccount(account.ID)
	if got.GemsRemaining != 100 {
		t.Errorf("balance should be untouched, got %d", got.GemsRemaining)
	}
}

func TestUpdateBalance_UnknownAccount(t *testing.T) {
	store := newTestStore(t)
	if err := store.UpdateBalance("no-such-id", 100); err == nil {
		t.Fatal("expected error for unknown account")
	}
}

func TestRecharge_DoesNotMarkUsed(t *testing.T) {
	store := newTestStore(t)
	account, err := store.RegisterAccount(1, "recharge@example.com", "pw", 100)
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}

	if err := store.Recharge(account.ID, 5000); err != nil {
		t.Fatalf("Recharge failed: %v", err)
	}

	got, _ := store.GetAccount(account.ID)
	if got.GemsRemaining != 5000 {
		t.Errorf("expected 5000 gems, got %d", got.GemsRemaining)
	}
	if got.LastUsedAt != nil {
		t.Error("recharge must not push the account to the back of the rotation")
	}
}

func TestUpdateNickname_Persists(t *testing.T) {
	store := newTestStore(t)
	account, err := store.RegisterAccount(1, "nick@example.com", "pw", 100)
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}

	if err := store.UpdateNickname(account.ID, "micheal163512"); err != nil {
		t.Fatalf("UpdateNickname failed: %v", err)
	}
	got, _ := store.GetAccount(account.ID)
	if got.CurrentNickname != "micheal163512" {
		t.Errorf("expected nickname to persist, got %q", got.CurrentNickname)
	}
}

func TestSetActive_Toggles(t *testing.T) {
	store := newTestStore(t)
	account, err := store.RegisterAccount(1, "active@example.com", "pw", 100)
	if err != nil {
		t.Fatalf("RegisterAccount failed: %v", err)
	}

	if err := store.SetActive(account.ID, false); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	got, _ := store.GetAccount(account.ID)
	if got.IsActive {
		t.Error("expected account to be disabled")
	}

	if err := store.SetActive(account.ID, true); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	got, _ = store.GetAccount(account.ID)
	if !got.IsActive {
		t.Error("expected account to be re-enabled")
	}
}
