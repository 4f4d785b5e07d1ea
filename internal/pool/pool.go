// Package pool selects which registered gem account performs a gift send
// under the shared privileged display name, and rotates to the next viable
// account when an attempt fails.
package pool

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cSxrpent/gem-nexus/internal/auth/session"
	"github.com/cSxrpent/gem-nexus/internal/db/models"
	"github.com/cSxrpent/gem-nexus/internal/wolvesville"
)

const (
	// DefaultPropagationDelay is how long a name change is given to
	// propagate before the gift send attributes it
	DefaultPropagationDelay = 2 * time.Second
	// DefaultRefreshInterval drives the background session warmer
	DefaultRefreshInterval = 50 * time.Minute

	defaultGiftMessage = "Gift from Wolvesville Shop!"
)

// ErrInsufficientGems is returned when no active account can cover the
// requested gift's cost.
var ErrInsufficientGems = errors.New("no active account has enough gems")

// DeliveryError is returned when every ranked candidate failed to send the
// gift. It wraps the last per-candidate error.
type DeliveryError struct {
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gift delivery failed after %d candidate(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("gift delivery failed after %d candidate(s)", e.Attempts)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Store is the persistence collaborator for pooled accounts.
type Store interface {
	ListAccounts() ([]models.GemAccount, error)
	UpdateBalance(accountID string, gems int) error
	UpdateNickname(accountID, nickname string) error
}

// TokenSource yields valid credentials for one account.
type TokenSource interface {
	GetValidTokens(ctx context.Context) (session.Tokens, error)
}

// SessionFactory builds the credential session for an account the first time
// the pool touches it.
type SessionFactory func(email, password string) TokenSource

// GiftAPI is the slice of the core API the pool drives.
type GiftAPI interface {
	UpdateNickname(ctx context.Context, tokens session.Tokens, username string) error
	PurchaseGift(ctx context.Context, tokens session.Tokens, gift wolvesville.GiftRequest) (*wolvesville.GiftReceipt, error)
}

// Product describes a purchasable gift item.
type Product struct {
	ID   string
	Name string
	Type string // item-type discriminator, e.g. "AVATAR", "CALENDAR"
	Cost int    // gem cost
}

// Config holds pool construction options.
type Config struct {
	SharedName       string        // the privileged display name gifts are sent under
	PropagationDelay time.Duration // defaults to DefaultPropagationDelay
	RefreshInterval  time.Duration // defaults to DefaultRefreshInterval
}

// Manager owns one credential session per registered account and runs the
// switch-then-act-then-fallback protocol. A single send mutex serializes the
// whole select/switch/send sequence: the shared name is a global resource,
// so two concurrent sends must not race to claim it for different accounts.
type Manager struct {
	store      Store
	api        GiftAPI
	newSession SessionFactory
	cfg        Config
	sleep      func(time.Duration)

	sendMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]TokenSource
}

// NewManager creates an account pool.
func NewManager(store Store, api GiftAPI, newSession SessionFactory, cfg Config) *Manager {
	if cfg.PropagationDelay == 0 {
		cfg.PropagationDelay = DefaultPropagationDelay
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	return &Manager{
		store:      store,
		api:        api,
		newSession: newSession,
		cfg:        cfg,
		sleep:      time.Sleep,
		sessions:   make(map[string]TokenSource),
	}
}

// SendGift sends a gift to the given player under the shared display name,
// switching accounts as needed. recipientID must be a pre-validated player
// ID. Returns the upstream receipt of the first successful attempt.
func (m *Manager) SendGift(ctx context.Context, recipientID string, product Product, message string) (*wolvesville.GiftReceipt, error) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	if message == "" {
		message = defaultGiftMessage
	}
	log.Printf("🎁 Preparing to send %s (%d gems) to player %s", product.Name, product.Cost, recipientID)

	candidates, err := m.selectCandidates(ctx, product.Cost)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, candidate := range candidates {
		receipt, err := m.attempt(ctx, candidate, recipientID, product, message)
		if err == nil {
			log.Printf("✅ Gift sent successfully via account #%d", candidate.AccountNumber)
			return receipt, nil
		}

		lastErr = err
		log.Printf("❌ Attempt with account #%d failed, trying next if available: %v", candidate.AccountNumber, err)

		// Best-effort: free the shared name so the next candidate can
		// claim it. A failure here must not mask the send failure.
		if renameErr := m.randomizeNickname(ctx, candidate); renameErr != nil {
			log.Printf("❌ Failed to randomize nickname for %s: %v", candidate.Email, renameErr)
		}
	}

	return nil, &DeliveryError{Attempts: len(candidates), Err: lastErr}
}

// selectCandidates loads account state and ranks candidates for a send.
// The current holder of the shared name is the sole candidate when it can
// cover the cost; otherwise it is renamed away and all active accounts with
// sufficient balance are ranked least-recently-used first.
func (m *Manager) selectCandidates(ctx context.Context, cost int) ([]models.GemAccount, error) {
	accounts, err := m.store.ListAccounts()
	if err != nil {
		return nil, err
	}

	var holder *models.GemAccount
	for i := range accounts {
		if strings.EqualFold(accounts[i].CurrentNickname, m.cfg.SharedName) {
			holder = &accounts[i]
			break
		}
	}

	if holder != nil && holder.GemsRemaining >= cost {
		// Reuse the already-switched account to avoid an unnecessary
		// name change.
		return []models.GemAccount{*holder}, nil
	}

	if holder != nil {
		log.Printf("♻️ Account #%d holds %q but lacks %d gems, randomizing its nickname",
			holder.AccountNumber, m.cfg.SharedName, cost)
		if err := m.randomizeNickname(ctx, *holder); err != nil {
			log.Printf("❌ Failed to randomize current holder: %v", err)
		}
	}

	viable := make([]models.GemAccount, 0, len(accounts))
	for _, acc := range accounts {
		if acc.IsActive && acc.GemsRemaining >= cost {
			viable = append(viable, acc)
		}
	}
	if len(viable) == 0 {
		return nil, fmt.Errorf("%w (need %d)", ErrInsufficientGems, cost)
	}

	// Least recently used first; never-used accounts sort before all.
	sort.SliceStable(viable, func(i, j int) bool {
		li, lj := viable[i].LastUsedAt, viable[j].LastUsedAt
		switch {
		case li == nil && lj == nil:
			return viable[i].AccountNumber < viable[j].AccountNumber
		case li == nil:
			return true
		case lj == nil:
			return false
		default:
			return li.Before(*lj)
		}
	})
	return viable, nil
}

// attempt runs one candidate through switch → propagation wait → send, and
// reconciles the persisted balance from the response.
func (m *Manager) attempt(ctx context.Context, candidate models.GemAccount, recipientID string, product Product, message string) (*wolvesville.GiftReceipt, error) {
	if !strings.EqualFold(candidate.CurrentNickname, m.cfg.SharedName) {
		log.Printf("💎 Switching account #%d to %s", candidate.AccountNumber, m.cfg.SharedName)
		tokens, err := m.sessionFor(candidate).GetValidTokens(ctx)
		if err != nil {
			return nil, err
		}
		if err := m.api.UpdateNickname(ctx, tokens, m.cfg.SharedName); err != nil {
			return nil, err
		}
		if err := m.store.UpdateNickname(candidate.ID, m.cfg.SharedName); err != nil {
			return nil, err
		}
	}

	// The gift endpoint attributes the gift to the display name current at
	// send time; give the platform a moment to propagate the switch.
	m.sleep(m.cfg.PropagationDelay)

	tokens, err := m.sessionFor(candidate).GetValidTokens(ctx)
	if err != nil {
		return nil, err
	}

	receipt, err := m.api.PurchaseGift(ctx, tokens, wolvesville.GiftRequest{
		Type:        product.Type,
		RecipientID: recipientID,
		Message:     message,
		CalendarID:  product.ID,
	})

	// Sync-over-guess: an authoritative balance in the response wins even
	// when the purchase itself failed.
	if receipt != nil && receipt.Balance != nil {
		log.Printf("🔄 Upstream returned balance %d, syncing account #%d", *receipt.Balance, candidate.AccountNumber)
		if syncErr := m.store.UpdateBalance(candidate.ID, *receipt.Balance); syncErr != nil {
			log.Printf("⚠️ Failed to sync balance for account #%d: %v", candidate.AccountNumber, syncErr)
		}
	}
	if err != nil {
		return nil, err
	}

	if receipt == nil || receipt.Balance == nil {
		if err := m.store.UpdateBalance(candidate.ID, candidate.GemsRemaining-product.Cost); err != nil {
			log.Printf("⚠️ Failed to debit account #%d: %v", candidate.AccountNumber, err)
		}
	}
	return receipt, nil
}

// randomizeNickname renames an account away from whatever name it holds to a
// throwaway one, freeing the shared name for another candidate, and persists
// the result.
func (m *Manager) randomizeNickname(ctx context.Context, account models.GemAccount) error {
	nickname := randomNickname(account.Email)
	tokens, err := m.sessionFor(account).GetValidTokens(ctx)
	if err != nil {
		return err
	}
	if err := m.api.UpdateNickname(ctx, tokens, nickname); err != nil {
		return err
	}
	return m.store.UpdateNickname(account.ID, nickname)
}

// sessionFor returns the account's credential session, creating and caching
// it on first use. Sessions live for the process lifetime.
func (m *Manager) sessionFor(account models.GemAccount) TokenSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[account.ID]; ok {
		return s
	}
	s := m.newSession(account.Email, account.Password)
	m.sessions[account.ID] = s
	return s
}

// RefreshAll warms every active account's session so on-demand sends rarely
// hit the slow captcha path. Accounts refresh in parallel; failures are
// logged and retried on the next cycle.
func (m *Manager) RefreshAll(ctx context.Context) {
	accounts, err := m.store.ListAccounts()
	if err != nil {
		log.Printf("⚠️ Periodic refresh: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, acc := range accounts {
		if !acc.IsActive {
			continue
		}
		wg.Add(1)
		go func(acc models.GemAccount) {
			defer wg.Done()
			if _, err := m.sessionFor(acc).GetValidTokens(ctx); err != nil {
				log.Printf("⚠️ Periodic refresh failed for %s: %v", acc.Email, err)
			}
		}(acc)
	}
	wg.Wait()
}

// StartRefreshLoop starts the background session warmer.
func (m *Manager) StartRefreshLoop() {
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	go func() {
		for range ticker.C {
			log.Printf("⏰ Periodic token refresh check...")
			m.RefreshAll(context.Background())
		}
	}()
	log.Printf("🔄 Session refresh loop started (interval: %s)", m.cfg.RefreshInterval)
}

// randomNickname generates a throwaway name: local part of the email plus
// six random digits.
func randomNickname(email string) string {
	prefix := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		prefix = email[:at]
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return prefix + "000000"
	}
	return fmt.Sprintf("%s%06d", prefix, n)
}
