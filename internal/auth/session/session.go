// Package session manages the two chained Wolvesville credentials: the
// short-lived bearer idToken and the captcha-gated Cf-JWT required by the
// edge perimeter before a sign-in is accepted.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultAuthBaseURL is the Wolvesville identity provider
	DefaultAuthBaseURL = "https://auth.api-wolvesville.com"
	// RefreshMargin is how early to refresh before expiration
	RefreshMargin = 5 * time.Minute
)

// ErrAuthenticationFailed is returned when sign-in cannot succeed: the
// captcha-verified Cf-JWT was rejected twice, or the identity provider
// returned an unexpected status.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Tokens is a valid bearer/Cf-JWT pair, ready to use against the core API.
type Tokens struct {
	Bearer string
	CfJWT  string
}

// Solver solves a Turnstile challenge and returns the solved captcha token.
type Solver interface {
	Solve(ctx context.Context) (string, error)
}

// Config holds session construction options. Zero values fall back to the
// production defaults.
type Config struct {
	AuthBaseURL string
	SiteKey     string
	HTTPClient  *http.Client
}

// Session owns the credential lifecycle of a single game account. All token
// state is mutated under the session mutex so concurrent callers serialize on
// one in-flight authentication instead of triggering duplicate sign-ins (and
// duplicate captcha spend).
type Session struct {
	email    string
	password string
	solver   Solver
	authBase string
	siteKey  string

	httpClient *http.Client
	now        func() time.Time

	mu           sync.Mutex
	idToken      string
	refreshToken string
	cfJwt        string
	lastRefresh  time.Time
}

// New creates an unauthenticated session for the given account credentials.
// The first GetValidTokens call performs the initial sign-in.
func New(email, password string, solver Solver, cfg Config) *Session {
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = DefaultAuthBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Session{
		email:      email,
		password:   password,
		solver:     solver,
		authBase:   cfg.AuthBaseURL,
		siteKey:    cfg.SiteKey,
		httpClient: cfg.HTTPClient,
		now:        time.Now,
	}
}

// Email returns the account email this session authenticates as.
func (s *Session) Email() string { return s.email }

// LastRefresh returns the time of the last successful sign-in.
func (s *Session) LastRefresh() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefresh
}

// GetValidTokens returns a bearer/Cf-JWT pair that is at least RefreshMargin
// away from expiring, signing in (and solving a captcha when required) if the
// current tokens are missing or stale. It may block for the duration of a
// captcha solve.
func (s *Session) GetValidTokens(ctx context.Context) (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureAuthenticated(ctx); err != nil {
		return Tokens{}, err
	}
	return Tokens{Bearer: s.idToken, CfJWT: s.cfJwt}, nil
}

// Invalidate drops the bearer token so the next GetValidTokens call performs
// a full sign-in. Callers use this after observing a 403 from the core API.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idToken = ""
}

// ensureAuthenticated refreshes the bearer token when it is missing, not
// decodable, or within RefreshMargin of expiring. Caller must hold s.mu.
func (s *Session) ensureAuthenticated(ctx context.Context) error {
	if s.idToken == "" {
		log.Printf("🔑 No tokens for %s, performing initial authentication...", s.email)
		return s.signIn(ctx)
	}
	if s.tokenExpiring() {
		log.Printf("⚠️ Token for %s expired or expiring soon, refreshing...", s.email)
		return s.signIn(ctx)
	}
	return nil
}

// tokenExpiring reports whether the bearer token is within RefreshMargin of
// its expiry. Undecodable tokens count as expired.
func (s *Session) tokenExpiring() bool {
	claims, err := ParseJWT(s.idToken)
	if err != nil {
		log.Printf("⚠️ Error decoding JWT for %s: %v", s.email, err)
		return true
	}
	expiry := claims.ExpiresAt()
	if expiry.IsZero() {
		return true
	}
	remaining := expiry.Sub(s.now())
	if remaining < RefreshMargin {
		log.Printf("⚠️ Token for %s expiring in %d seconds", s.email, int(remaining.Seconds()))
		return true
	}
	return false
}

// signIn performs the full authentication chain: obtain a Cf-JWT when none is
// held, then exchange email/password for a bearer token. A 403 means the
// Cf-JWT went stale; it is refreshed via captcha and the sign-in retried
// exactly once. Caller must hold s.mu.
func (s *Session) signIn(ctx context.Context) error {
	for attempt := 0; attempt < 2; attempt++ {
		if s.cfJwt == "" {
			log.Printf("🔐 No Cf-JWT for %s, obtaining one...", s.email)
			if err := s.refreshCfJWT(ctx); err != nil {
				return err
			}
		}

		status, body, err := s.postSignIn(ctx)
		if err != nil {
			return fmt.Errorf("%w: sign-in request: %v", ErrAuthenticationFailed, err)
		}

		switch {
		case status == http.StatusOK:
			var result struct {
				IDToken      string `json:"idToken"`
				RefreshToken string `json:"refreshToken"`
			}
			if err := json.Unmarshal(body, &result); err != nil {
				return fmt.Errorf("%w: failed to parse sign-in response: %v", ErrAuthenticationFailed, err)
			}
			s.idToken = result.IDToken
			s.refreshToken = result.RefreshToken
			s.lastRefresh = s.now()
			if claims, err := ParseJWT(s.idToken); err == nil && claims.Exp != 0 {
				log.Printf("✅ Sign in successful for %s, token valid until %s",
					s.email, claims.ExpiresAt().Format(time.RFC3339))
			} else {
				log.Printf("✅ Sign in successful for %s", s.email)
			}
			return nil

		case status == http.StatusForbidden && attempt == 0:
			log.Printf("⚠️ Cf-JWT rejected (403) for %s, refreshing and retrying sign in...", s.email)
			s.cfJwt = ""

		case status == http.StatusForbidden:
			return fmt.Errorf("%w: sign-in rejected twice with 403 (stale Cf-JWT)", ErrAuthenticationFailed)

		default:
			return fmt.Errorf("%w: sign-in returned %d: %s", ErrAuthenticationFailed, status, string(body))
		}
	}
	return fmt.Errorf("%w: sign-in rejected twice with 403 (stale Cf-JWT)", ErrAuthenticationFailed)
}

// postSignIn posts credentials to the identity provider with the current
// Cf-JWT header.
func (s *Session) postSignIn(ctx context.Context) (int, []byte, error) {
	payload, err := json.Marshal(map[string]string{
		"email":    s.email,
		"password": s.password,
	})
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.authBase+"/players/signInWithEmailAndPassword", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cf-JWT", s.cfJwt)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// refreshCfJWT solves a Turnstile challenge and exchanges the solved token
// for a fresh Cf-JWT at the identity provider's verification endpoint.
// Caller must hold s.mu.
func (s *Session) refreshCfJWT(ctx context.Context) error {
	log.Printf("🔄 Refreshing Cf-JWT for %s...", s.email)

	turnstileToken, err := s.solver.Solve(ctx)
	if err != nil {
		return fmt.Errorf("solve captcha: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"token":   turnstileToken,
		"siteKey": s.siteKey,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.authBase+"/cloudflareTurnstile/verify", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: captcha verification request: %v", ErrAuthenticationFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: captcha verification returned %d: %s",
			ErrAuthenticationFailed, resp.StatusCode, string(body))
	}

	var result struct {
		JWT string `json:"jwt"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("%w: failed to parse verification response: %v", ErrAuthenticationFailed, err)
	}

	s.cfJwt = result.JWT
	log.Printf("✅ Cf-JWT refreshed for %s", s.email)
	return nil
}
