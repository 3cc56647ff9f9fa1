package vantage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"statuswatch-backend/lib/backoff"
	"statuswatch-backend/lib/timezone"

	"go.opentelemetry.io/otel/codes"
)

type SessionState string

const (
	StateLoggedOut        SessionState = "logged_out"
	StateAuthenticating   SessionState = "authenticating"
	StateAuthenticated    SessionState = "authenticated"
	StateChallengePending SessionState = "challenge_pending"
	StateRefreshing       SessionState = "refreshing"
	StateFailed           SessionState = "failed"
)

// CredentialSource hands out the portal secret. The session only
// touches it at login time and never stores it.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
}

type SessionOptions struct {
	Credentials CredentialSource

	// LoginPolicy paces credential submissions, ChallengePolicy
	// paces the wait for an external challenge resolution.
	LoginPolicy     backoff.Policy
	ChallengePolicy backoff.Policy

	// SessionLifetime is how long a portal session is trusted after
	// login. The keepalive re-probes once the remaining lifetime
	// falls under RefreshFraction.
	SessionLifetime time.Duration
	RefreshFraction float64

	// FailureCooldown holds the session in Failed after a transient
	// failure so a flapping portal is not hammered. Rejections and
	// manual-intervention failures ignore it and stay until Reset.
	FailureCooldown time.Duration

	// MaxResolutionAttempts failed challenge resolutions are treated
	// as a credential rejection.
	MaxResolutionAttempts int

	KeepaliveInterval time.Duration

	// OnChallenge, when set, is called from its own goroutine every
	// time the portal interposes a new challenge, so an operator can
	// be alerted out of band.
	OnChallenge func(ChallengeInfo)
}

func DefaultSessionOptions(creds CredentialSource) SessionOptions {
	return SessionOptions{
		Credentials:           creds,
		LoginPolicy:           backoff.LoginPolicy(),
		ChallengePolicy:       backoff.ChallengePollPolicy(),
		SessionLifetime:       30 * time.Minute,
		RefreshFraction:       0.2,
		FailureCooldown:       time.Minute,
		MaxResolutionAttempts: 3,
		KeepaliveInterval:     time.Minute,
	}
}

// Session owns the one portal login and serializes everything that
// touches it. The gate channel is the exclusive slot: logins, account
// fetches and keepalive probes all hold it, so the portal only ever
// sees one request at a time and concurrent callers piggyback on the
// login the first one performs.
type Session struct {
	client *Client
	opts   SessionOptions

	gate chan struct{}

	mu        sync.Mutex
	state     SessionState
	expiresAt time.Time
	challenge *Challenge
	// cause of the current Failed state. sticky failures survive the
	// cooldown and require Reset.
	cause              error
	sticky             bool
	failedAt           time.Time
	resolutionFailures int
}

func NewSession(client *Client, opts SessionOptions) *Session {
	return &Session{
		client: client,
		opts:   opts,
		gate:   make(chan struct{}, 1),
		state:  StateLoggedOut,
	}
}

// SessionStatus is the externally visible session state.
type SessionStatus struct {
	State     SessionState   `json:"state"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
	Challenge *ChallengeInfo `json:"challenge,omitempty"`
	Cause     string         `json:"cause,omitempty"`
}

// ChallengeInfo is the public view of a pending challenge. It never
// carries the resolution value.
type ChallengeInfo struct {
	Id        string        `json:"id"`
	Kind      ChallengeKind `json:"kind"`
	Prompt    string        `json:"prompt"`
	CreatedAt time.Time     `json:"created_at"`
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SessionStatus{State: s.state, ExpiresAt: s.expiresAt}
	if s.challenge != nil {
		status.Challenge = &ChallengeInfo{
			Id:        s.challenge.Id,
			Kind:      s.challenge.Kind,
			Prompt:    s.challenge.Prompt,
			CreatedAt: s.challenge.CreatedAt,
		}
	}
	if s.cause != nil {
		status.Cause = s.cause.Error()
	}
	return status
}

func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) release() {
	<-s.gate
}

// EnsureAuthenticated returns once the session is live. A pending
// challenge suspends the caller until it is resolved externally or
// the wait budget runs out.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	if s.live() {
		return nil
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return s.ensureSlotHeld(ctx)
}

// live is the lock-only fast path: a session that has not run out yet.
func (s *Session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAuthenticated && !timezone.Now().After(s.expiresAt)
}

// ensureSlotHeld makes the session live. The caller holds the gate.
func (s *Session) ensureSlotHeld(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateAuthenticated:
		if !timezone.Now().After(s.expiresAt) {
			s.mu.Unlock()
			return nil
		}
		// expired; log in again.
		s.state = StateLoggedOut
		s.expiresAt = time.Time{}
	case StateFailed:
		if s.sticky || timezone.Now().Before(s.failedAt.Add(s.opts.FailureCooldown)) {
			err := s.cause
			s.mu.Unlock()
			return err
		}
		// cooldown over.
		s.state = StateLoggedOut
		s.cause = nil
	}
	s.mu.Unlock()

	return s.authenticate(ctx)
}

// WithSession runs fn while holding the portal's exclusive slot on a
// live session. When the portal drops the session mid-flight, it logs
// in again and retries fn once.
func (s *Session) WithSession(ctx context.Context, fn func(ctx context.Context, client *Client) error) error {
	ctx, span := tracer.Start(ctx, "session:WithSession")
	defer span.End()

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	err := s.ensureSlotHeld(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		return err
	}

	err = fn(ctx, s.client)
	if !errors.Is(err, ErrSessionInvalidated) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session operation failed")
		}
		return err
	}

	slog.Info("portal dropped the session mid operation, logging in again")
	s.invalidate()
	err = s.ensureSlotHeld(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "re-authentication failed")
		return err
	}
	err = fn(ctx, s.client)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session operation failed after re-login")
	}
	return err
}

// ResolveChallenge supplies the external answer to the pending
// challenge. The suspended login picks it up and plays it against the
// portal.
func (s *Session) ResolveChallenge(id, value string) error {
	if value == "" {
		return ErrInvalidResolution
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.challenge == nil || s.challenge.Id != id || s.challenge.Resolved() {
		return ErrChallengeNotFound
	}
	s.challenge.resolution = value
	s.challenge.ResolvedAt = timezone.Now()
	slog.Info("challenge resolution received", "challenge_id", id, "kind", s.challenge.Kind)
	return nil
}

// Reset is the operator override: it wipes rejection state so logins
// may start again, and drops the portal session for good measure.
func (s *Session) Reset(ctx context.Context) {
	s.client.Logout(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateLoggedOut
	s.expiresAt = time.Time{}
	s.challenge = nil
	s.cause = nil
	s.sticky = false
	s.resolutionFailures = 0
	slog.Info("session reset by operator")
}

// RunKeepalive refreshes the session in the background until ctx is
// done. Call it in a goroutine.
func (s *Session) RunKeepalive(ctx context.Context) {
	interval := s.opts.KeepaliveInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeRefresh(ctx)
		}
	}
}

func (s *Session) refreshDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return false
	}
	remaining := s.expiresAt.Sub(timezone.Now())
	threshold := time.Duration(s.opts.RefreshFraction * float64(s.opts.SessionLifetime))
	return remaining < threshold
}

func (s *Session) maybeRefresh(ctx context.Context) {
	if !s.refreshDue() {
		return
	}
	if err := s.acquire(ctx); err != nil {
		return
	}
	defer s.release()
	if !s.refreshDue() {
		return
	}

	s.setState(StateRefreshing)
	snap, err := s.client.FetchDashboard(ctx)
	if err == nil && isAuthenticatedPage(snap) {
		s.mu.Lock()
		s.state = StateAuthenticated
		s.expiresAt = timezone.Now().Add(s.opts.SessionLifetime)
		s.mu.Unlock()
		slog.Debug("session refreshed")
		return
	}

	// the probe bounced or failed; the next caller logs in fresh.
	s.mu.Lock()
	s.state = StateLoggedOut
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	if err != nil {
		slog.Warn("session refresh probe failed", "err", err)
	} else {
		slog.Info("portal expired the session, will log in on next use")
	}
}

// invalidate drops a live session after a stale signal so the next
// caller logs in again.
func (s *Session) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAuthenticated || s.state == StateRefreshing {
		s.state = StateLoggedOut
		s.expiresAt = time.Time{}
	}
}

// challenge detected on the login landing page; breaks out of the
// login retry budget without counting as a failed attempt.
type challengeDetectedError struct {
	kind   ChallengeKind
	prompt string
}

func (e *challengeDetectedError) Error() string {
	return fmt.Sprintf("portal interposed %s challenge", e.kind)
}

var (
	errResolutionPending   = errors.New("challenge resolution pending")
	errChallengeSuperseded = errors.New("challenge superseded by session reset")
)

// authenticate drives one full login episode: credentials, retries,
// and any challenge the portal interposes. The caller holds the gate.
func (s *Session) authenticate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "session:Authenticate")
	defer span.End()

	err := s.runLoginEpisode(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
	}
	return err
}

func (s *Session) runLoginEpisode(ctx context.Context) error {
	// a pending challenge left over from a caller that gave up is
	// resumed, not restarted.
	s.mu.Lock()
	if s.state == StateChallengePending && s.challenge != nil {
		challenge := s.challenge
		s.mu.Unlock()
		return s.driveChallenge(ctx, challenge)
	}
	s.state = StateAuthenticating
	s.mu.Unlock()

	cred, err := s.opts.Credentials.Credential(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("obtain credential: %w", err), false)
	}

	var challenged *challengeDetectedError
	err = backoff.Retry(ctx, s.opts.LoginPolicy, func(ctx context.Context) error {
		snap, err := s.client.Login(ctx, cred)
		if errors.Is(err, ErrAuthenticationRejected) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		if isAuthenticatedPage(snap) {
			return nil
		}
		if kind, prompt, ok := DetectChallenge(snap); ok {
			if kind == ChallengeIpVerification {
				return backoff.Permanent(ErrManualInterventionRequired)
			}
			return backoff.Permanent(&challengeDetectedError{kind: kind, prompt: prompt})
		}
		return Transient("login", fmt.Errorf("unrecognized landing page"))
	})

	switch {
	case err == nil:
		s.succeed()
		return nil
	case errors.As(err, &challenged):
		challenge := newChallenge(challenged.kind, challenged.prompt, timezone.Now())
		s.publishChallenge(challenge)
		return s.driveChallenge(ctx, challenge)
	case errors.Is(err, ErrAuthenticationRejected):
		return s.fail(ErrAuthenticationRejected, true)
	case errors.Is(err, ErrManualInterventionRequired):
		return s.fail(ErrManualInterventionRequired, true)
	case ctx.Err() != nil:
		// nothing happened portal side; the next caller starts over.
		s.setState(StateLoggedOut)
		return ctx.Err()
	default:
		return s.fail(err, false)
	}
}

func (s *Session) publishChallenge(challenge *Challenge) {
	s.mu.Lock()
	s.challenge = challenge
	s.state = StateChallengePending
	s.mu.Unlock()
	slog.Info(
		"portal interposed a challenge",
		"challenge_id", challenge.Id,
		"kind", challenge.Kind,
	)
	if s.opts.OnChallenge != nil {
		go s.opts.OnChallenge(ChallengeInfo{
			Id:        challenge.Id,
			Kind:      challenge.Kind,
			Prompt:    challenge.Prompt,
			CreatedAt: challenge.CreatedAt,
		})
	}
}

// driveChallenge waits for an external resolution and plays it
// against the portal, repeating while the portal re-challenges, up to
// the resolution attempt limit.
func (s *Session) driveChallenge(ctx context.Context, challenge *Challenge) error {
	for {
		err := s.awaitResolution(ctx, challenge)
		switch {
		case errors.Is(err, errChallengeSuperseded):
			return err
		case errors.Is(err, ErrChallengeTimeout):
			return s.fail(ErrChallengeTimeout, false)
		case err != nil && ctx.Err() != nil:
			// keep the challenge pending; another caller resumes it.
			return err
		case err != nil:
			return s.fail(err, false)
		}

		s.setState(StateAuthenticating)
		landing, err := s.client.SubmitChallengeResolution(ctx, challenge.Kind, challenge.Resolution())
		if err != nil {
			return s.fail(err, false)
		}

		if isAuthenticatedPage(landing) {
			s.succeed()
			return nil
		}
		if hasRejectionMarker(landing) {
			return s.fail(ErrAuthenticationRejected, true)
		}

		kind, prompt, ok := DetectChallenge(landing)
		if !ok {
			return s.fail(Transient("challenge resolution", fmt.Errorf("unrecognized page after resolution")), false)
		}
		// an ip block has no external resolution to wait for, even when
		// it lands mid challenge.
		if kind == ChallengeIpVerification {
			return s.fail(ErrManualInterventionRequired, true)
		}

		s.mu.Lock()
		s.resolutionFailures++
		failures := s.resolutionFailures
		s.mu.Unlock()
		slog.Warn(
			"portal rejected the challenge resolution",
			"challenge_id", challenge.Id,
			"failures", failures,
		)
		if failures >= s.opts.MaxResolutionAttempts {
			return s.fail(ErrAuthenticationRejected, true)
		}

		challenge = newChallenge(kind, prompt, timezone.Now())
		s.publishChallenge(challenge)
	}
}

// awaitResolution polls for an externally supplied resolution on the
// challenge-poll budget; running the budget out is the challenge
// timeout.
func (s *Session) awaitResolution(ctx context.Context, challenge *Challenge) error {
	err := backoff.Retry(ctx, s.opts.ChallengePolicy, func(ctx context.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.challenge == nil || s.challenge.Id != challenge.Id {
			return backoff.Permanent(errChallengeSuperseded)
		}
		if s.challenge.Resolved() {
			return nil
		}
		return errResolutionPending
	})

	var exhausted *backoff.ExhaustedError
	if errors.As(err, &exhausted) {
		return ErrChallengeTimeout
	}
	return err
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) succeed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := timezone.Now()
	s.state = StateAuthenticated
	s.expiresAt = now.Add(s.opts.SessionLifetime)
	s.challenge = nil
	s.cause = nil
	s.sticky = false
	s.resolutionFailures = 0
	slog.Info("portal session established", "expires_at", s.expiresAt)
}

func (s *Session) fail(cause error, sticky bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.cause = cause
	s.sticky = sticky
	s.failedAt = timezone.Now()
	s.challenge = nil
	// the resolution budget is per episode; leftovers must not count
	// against the next login.
	s.resolutionFailures = 0
	slog.Warn("portal session failed", "err", cause, "sticky", sticky)
	return cause
}
