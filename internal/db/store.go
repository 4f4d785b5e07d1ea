package db

import (
	"fmt"
	"log"
	"time"

	"github.com/cSxrpent/gem-nexus/internal/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is the persistence layer for pooled gem accounts.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListAccounts returns all registered gem accounts ordered by account number.
func (s *Store) ListAccounts() ([]models.GemAccount, error) {
	var accounts []models.GemAccount
	if err := s.db.Order("account_number").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// GetAccount fetches a single account by ID.
func (s *Store) GetAccount(accountID string) (*models.GemAccount, error) {
	var account models.GemAccount
	if err := s.db.First(&account, "id = ?", accountID).Error; err != nil {
		return nil, fmt.Errorf("account not found: %s", accountID)
	}
	return &account, nil
}

// RegisterAccount adds a new gem account with its default nickname and the
// configured starting balance. Registration is rejected when the email is
// already registered.
func (s *Store) RegisterAccount(accountNumber int, email, password string, initialGems int) (*models.GemAccount, error) {
	var existing models.GemAccount
	if err := s.db.Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("account %s already exists", email)
	}

	account := models.GemAccount{
		ID:              uuid.New().String(),
		AccountNumber:   accountNumber,
		Email:           email,
		Password:        password,
		CurrentNickname: fmt.Sprintf("bugsbot%d", accountNumber),
		GemsRemaining:   initialGems,
		IsActive:        true,
	}
	if err := s.db.Create(&account).Error; err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}

	log.Printf("✅ Added gem account #%d: %s", accountNumber, email)
	return &account, nil
}

// UpdateBalance overwrites an account's gem balance and marks it used now.
// Negative balances are rejected rather than clamped.
func (s *Store) UpdateBalance(accountID string, gems int) error {
	if gems < 0 {
		return fmt.Errorf("balance for %s would go negative (%d)", accountID, gems)
	}
	now := time.Now().UTC()
	result := s.db.Model(&models.GemAccount{}).Where("id = ?", accountID).Updates(map[string]interface{}{
		"gems_remaining": gems,
		"last_used_at":   &now,
	})
	if result.Error != nil {
		return fmt.Errorf("update balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: %s", accountID)
	}
	log.Printf("💎 Account %s now has %d gems", accountID, gems)
	return nil
}

// UpdateNickname persists an account's current display name.
func (s *Store) UpdateNickname(accountID, nickname string) error {
	result := s.db.Model(&models.GemAccount{}).Where("id = ?", accountID).Update("current_nickname", nickname)
	if result.Error != nil {
		return fmt.Errorf("update nickname: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: %s", accountID)
	}
	return nil
}

// Recharge resets an account's balance without touching its last-used time,
// so an admin top-up does not push the account to the back of the LRU order.
func (s *Store) Recharge(accountID string, gems int) error {
	if gems < 0 {
		return fmt.Errorf("cannot recharge %s to negative balance", accountID)
	}
	result := s.db.Model(&models.GemAccount{}).Where("id = ?", accountID).Update("gems_remaining", gems)
	if result.Error != nil {
		return fmt.Errorf("recharge account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: %s", accountID)
	}
	log.Printf("♻️ Recharged account %s to %d gems", accountID, gems)
	return nil
}

// SetActive toggles an account's soft-disable flag.
func (s *Store) SetActive(accountID string, active bool) error {
	result := s.db.Model(&models.GemAccount{}).Where("id = ?", accountID).Update("is_active", active)
	if result.Error != nil {
		return fmt.Errorf("set active: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("account not found: %s", accountID)
	}
	return nil
}
