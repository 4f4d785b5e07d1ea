package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSolver struct {
	calls int32
	err   error
}

func (s *fakeSolver) Solve(ctx context.Context) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return "", s.err
	}
	return "solved-turnstile-token", nil
}

// authServer fakes the identity provider. signInStatuses is consumed one
// status per sign-in call; once exhausted, 200 is returned.
type authServer struct {
	*httptest.Server
	mu             sync.Mutex
	signInCalls    int
	verifyCalls    int
	signInStatuses []int
	tokenExp       time.Time
}

func newAuthServer(t *testing.T) *authServer {
	t.Helper()
	as := &authServer{tokenExp: time.Now().Add(time.Hour)}

	mux := http.NewServeMux()
	mux.HandleFunc("/cloudflareTurnstile/verify", func(w http.ResponseWriter, r *http.Request) {
		as.mu.Lock()
		as.verifyCalls++
		n := as.verifyCalls
		as.mu.Unlock()

		var body struct {
			Token   string `json:"token"`
			SiteKey string `json:"siteKey"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
			t.Errorf("verify called without solved token: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"jwt": "cf-jwt-" + string(rune('0'+n))})
	})
	mux.HandleFunc("/players/signInWithEmailAndPassword", func(w http.ResponseWriter, r *http.Request) {
		as.mu.Lock()
		as.signInCalls++
		status := http.StatusOK
		if len(as.signInStatuses) > 0 {
			status = as.signInStatuses[0]
			as.signInStatuses = as.signInStatuses[1:]
		}
		exp := as.tokenExp
		as.mu.Unlock()

		if r.Header.Get("Cf-JWT") == "" {
			t.Error("sign-in called without Cf-JWT header")
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"idToken":      makeJWT(t, exp.Unix()),
			"refreshToken": "refresh-token",
		})
	})

	as.Server = httptest.NewServer(mux)
	t.Cleanup(as.Close)
	return as
}

func (as *authServer) counts() (signIn, verify int) {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.signInCalls, as.verifyCalls
}

func newTestSession(as *authServer, solver Solver) *Session {
	return New("bot@example.com", "hunter2", solver, Config{
		AuthBaseURL: as.URL,
		SiteKey:     "test-site-key",
	})
}

func TestGetValidTokens_InitialSignIn(t *testing.T) {
	as := newAuthServer(t)
	solver := &fakeSolver{}
	s := newTestSession(as, solver)

	tokens, err := s.GetValidTokens(context.Background())
	if err != nil {
		t.Fatalf("GetValidTokens failed: %v", err)
	}
	if tokens.Bearer == "" || tokens.CfJWT == "" {
		t.Fatalf("expected both tokens, got %+v", tokens)
	}

	claims, err := ParseJWT(tokens.Bearer)
	if err != nil {
		t.Fatalf("returned bearer not decodable: %v", err)
	}
	if time.Until(claims.ExpiresAt()) < RefreshMargin {
		t.Errorf("returned token already inside the refresh margin")
	}
	if s.LastRefresh().IsZero() {
		t.Error("lastRefresh not updated after sign-in")
	}
}

func TestGetValidTokens_SecondCallNoNetwork(t *testing.T) {
	as := newAuthServer(t)
	s := newTestSession(as, &fakeSolver{})

	if _, err := s.GetValidTokens(context.Background()); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	if _, err := s.GetValidTokens(context.Background()); err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	signIn, verify := as.counts()
	if signIn != 1 {
		t.Errorf("expected 1 sign-in call, got %d", signIn)
	}
	if verify != 1 {
		t.Errorf("expected 1 verify call, got %d", verify)
	}
}

func TestGetValidTokens_ConcurrentSingleSignIn(t *testing.T) {
	as := newAuthServer(t)
	s := newTestSession(as, &fakeSolver{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.GetValidTokens(context.Background()); err != nil {
				t.Errorf("concurrent GetValidTokens failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if signIn, _ := as.counts(); signIn != 1 {
		t.Errorf("expected exactly 1 upstream sign-in, got %d", signIn)
	}
}

func TestGetValidTokens_RefreshesExpiringToken(t *testing.T) {
	as := newAuthServer(t)
	as.tokenExp = time.Now().Add(2 * time.Minute) // inside the 5-minute margin
	s := newTestSession(as, &fakeSolver{})

	if _, err := s.GetValidTokens(context.Background()); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	as.mu.Lock()
	as.tokenExp = time.Now().Add(time.Hour)
	as.mu.Unlock()

	if _, err := s.GetValidTokens(context.Background()); err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if signIn, _ := as.counts(); signIn != 2 {
		t.Errorf("expected a second sign-in for an expiring token, got %d", signIn)
	}
}

func TestSignIn_RetriesOnceAfterForbidden(t *testing.T) {
	as := newAuthServer(t)
	as.signInStatuses = []int{http.StatusForbidden}
	s := newTestSession(as, &fakeSolver{})

	if _, err := s.GetValidTokens(context.Background()); err != nil {
		t.Fatalf("expected retry after 403 to succeed, got: %v", err)
	}

	signIn, verify := as.counts()
	if signIn != 2 {
		t.Errorf("expected 2 sign-in calls (403 then retry), got %d", signIn)
	}
	if verify != 2 {
		t.Errorf("expected Cf-JWT to be refreshed for the retry, got %d verify calls", verify)
	}
}

func TestSignIn_SecondForbiddenIsHardFailure(t *testing.T) {
	as := newAuthServer(t)
	as.signInStatuses = []int{http.StatusForbidden, http.StatusForbidden, http.StatusForbidden}
	s := newTestSession(as, &fakeSolver{})

	_, err := s.GetValidTokens(context.Background())
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got: %v", err)
	}
	if signIn, _ := as.counts(); signIn != 2 {
		t.Errorf("expected retry to be bounded at 2 sign-in attempts, got %d", signIn)
	}
}

func TestSignIn_UnexpectedStatusIsHardFailure(t *testing.T) {
	as := newAuthServer(t)
	as.signInStatuses = []int{http.StatusInternalServerError}
	s := newTestSession(as, &fakeSolver{})

	_, err := s.GetValidTokens(context.Background())
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got: %v", err)
	}
	if signIn, _ := as.counts(); signIn != 1 {
		t.Errorf("expected no retry on 500, got %d sign-in calls", signIn)
	}
}

func TestSignIn_SolverErrorPropagates(t *testing.T) {
	as := newAuthServer(t)
	solveErr := errors.New("captcha solving timeout")
	s := newTestSession(as, &fakeSolver{err: solveErr})

	_, err := s.GetValidTokens(context.Background())
	if !errors.Is(err, solveErr) {
		t.Fatalf("expected solver error to propagate, got: %v", err)
	}
	if signIn, _ := as.counts(); signIn != 0 {
		t.Errorf("expected no sign-in attempt without a Cf-JWT, got %d", signIn)
	}
}

func TestInvalidate_ForcesReauthentication(t *testing.T) {
	as := newAuthServer(t)
	s := newTestSession(as, &fakeSolver{})

	if _, err := s.GetValidTokens(context.Background()); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	s.Invalidate()
	if _, err := s.GetValidTokens(context.Background()); err != nil {
		t.Fatalf("call after Invalidate failed: %v", err)
	}

	if signIn, _ := as.counts(); signIn != 2 {
		t.Errorf("expected re-authentication after Invalidate, got %d sign-in calls", signIn)
	}
}
