package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/credentials"
	"github.com/carebook/carebook-backend/internal/guard"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/internal/security"
	"github.com/carebook/carebook-backend/internal/session"
	"github.com/carebook/carebook-backend/pkg/logging"
)

// SessionStore is the session persistence surface the manager drives.
// *session.Store implements it over pgx.
type SessionStore interface {
	Create(ctx context.Context, sess *session.Session) error
	ByID(ctx context.Context, id uuid.UUID) (*session.Session, error)
	Rotate(ctx context.Context, id uuid.UUID, oldDigest, newDigest string, at time.Time) error
	Revoke(ctx context.Context, id uuid.UUID, reason string) error
	RevokeOwned(ctx context.Context, id, principalID uuid.UUID, role principal.Role, reason string) error
	RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID, role principal.Role, reason string) (int64, error)
	LiveForPrincipal(ctx context.Context, principalID uuid.UUID, role principal.Role) ([]session.Session, error)
	EnforceCap(ctx context.Context, principalID uuid.UUID, role principal.Role, cap int) (int64, error)
}

// LoginGuard is the brute-force window in front of login. *guard.Guard
// implements it over Redis.
type LoginGuard interface {
	LoginGate(ctx context.Context, sourceAddr string) (*guard.Decision, error)
	RecordLoginFailure(ctx context.Context, sourceAddr string)
	ResetLoginFailures(ctx context.Context, sourceAddr string)
}

// EventRecorder appends to the security trail. *security.Store
// implements it.
type EventRecorder interface {
	Record(ctx context.Context, event *security.Event) error
}

// Config wires one role's auth manager.
type Config struct {
	Directory principal.Directory
	Policy    RolePolicy
	Sessions  SessionStore
	Tokens    *credentials.TokenIssuer
	Guard     LoginGuard
	Events    EventRecorder
	Logger    *logging.Logger
}

// Manager runs login, refresh rotation, and logout for one role.
type Manager struct {
	directory principal.Directory
	role      principal.Role
	policy    RolePolicy
	sessions  SessionStore
	tokens    *credentials.TokenIssuer
	guard     LoginGuard
	events    EventRecorder
	logger    *logging.Logger
	now       func() time.Time
}

// NewManager builds a manager. Panics on missing collaborators: auth
// cannot run degraded.
func NewManager(cfg Config) *Manager {
	if cfg.Directory == nil || cfg.Sessions == nil || cfg.Tokens == nil ||
		cfg.Guard == nil || cfg.Events == nil {
		panic("auth: incomplete manager config")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		directory: cfg.Directory,
		role:      cfg.Directory.Role(),
		policy:    cfg.Policy,
		sessions:  cfg.Sessions,
		tokens:    cfg.Tokens,
		guard:     cfg.Guard,
		events:    cfg.Events,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock fixes the time source. Tests use it.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Role reports which principal class this manager serves.
func (m *Manager) Role() principal.Role { return m.role }

func invalidRefresh() *apperror.Error {
	return apperror.E(apperror.KindUnauthorized, "invalid_refresh_token", "invalid or expired refresh token")
}

// Login authenticates an identifier/password pair and opens a session.
// Unknown identifiers and wrong passwords answer identically; a dummy
// hash verification levels the timing between the two.
func (m *Manager) Login(ctx context.Context, req LoginRequest, client ClientContext) (*TokenPair, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if dec, err := m.guard.LoginGate(ctx, client.SourceAddr); err == nil && dec != nil && !dec.Allowed {
		ev := security.NewEvent(security.EventRateLimited, m.role, security.RiskContext{})
		ev.Identifier = security.RedactIdentifier(req.Identifier)
		ev.Details = detailsJSON(map[string]any{"scope": dec.Scope})
		m.record(ctx, ev, client)
		return nil, apperror.RateLimited(dec.RetryAfter)
	}

	acct, err := m.directory.FindByIdentifier(ctx, req.Identifier)
	if err != nil {
		// Any lookup failure answers invalid credentials; responses must
		// not reveal which identifiers exist.
		credentials.DummyVerify(credentials.DefaultArgon2Params)
		m.guard.RecordLoginFailure(ctx, client.SourceAddr)
		ev := security.NewEvent(security.EventLoginFailed, m.role, security.RiskContext{
			EmptyUserAgent: client.UserAgent == "",
		})
		ev.Identifier = security.RedactIdentifier(req.Identifier)
		ev.Details = detailsJSON(map[string]any{"reason": "unknown_identifier"})
		m.record(ctx, ev, client)
		return nil, apperror.InvalidCredentials()
	}

	now := m.now().UTC()
	if acct.LockedAt(now) {
		m.recordGateRefusal(ctx, acct, req.Identifier, client, "locked")
		return nil, apperror.Locked(*acct.LockedUntil)
	}
	if !acct.Active {
		m.recordGateRefusal(ctx, acct, req.Identifier, client, "deactivated")
		return nil, apperror.Deactivated()
	}
	if m.policy.RequireVerified && !acct.EmailVerified {
		m.recordGateRefusal(ctx, acct, req.Identifier, client, "email_unverified")
		return nil, apperror.EmailNotVerified()
	}

	ok, err := credentials.VerifyPassword(acct.PasswordHash, req.Password)
	if err != nil || !ok {
		return nil, m.failLogin(ctx, acct, req.Identifier, client, now)
	}

	if err := m.directory.RecordLoginSuccess(ctx, acct.ID, now); err != nil {
		m.logger.Error("login success not persisted", "error", err, "principal_id", acct.ID)
	}
	m.guard.ResetLoginFailures(ctx, client.SourceAddr)

	pair, sess, newDevice, err := m.establishSession(ctx, acct, req.Remember, client)
	if err != nil {
		return nil, err
	}

	if m.policy.SessionCap > 0 {
		evicted, err := m.sessions.EnforceCap(ctx, acct.ID, m.role, m.policy.SessionCap)
		switch {
		case err != nil:
			m.logger.Error("session cap enforcement failed", "error", err, "principal_id", acct.ID)
		case evicted > 0:
			ev := security.NewEvent(security.EventSessionCapEvicted, m.role, security.RiskContext{})
			ev.PrincipalID = &acct.ID
			ev.Details = detailsJSON(map[string]any{"evicted": evicted})
			m.record(ctx, ev, client)
		}
	}

	ev := security.NewEvent(security.EventLoginSuccess, m.role, security.RiskContext{
		NewFingerprint: newDevice,
		EmptyUserAgent: client.UserAgent == "",
	})
	ev.PrincipalID = &acct.ID
	ev.Identifier = security.RedactIdentifier(req.Identifier)
	ev.Fingerprint = sess.Fingerprint
	m.record(ctx, ev, client)

	m.logger.Info("login succeeded",
		"role", string(m.role),
		"principal_id", acct.ID,
		"session_id", sess.ID,
		"remember", req.Remember,
	)
	return pair, nil
}

// failLogin increments the failure counter, arms the lockout at the
// threshold, and answers invalid credentials either way. The attempt
// that trips the lockout still reads as a credential failure; only the
// next one reports the lock.
func (m *Manager) failLogin(ctx context.Context, acct *principal.Account, identifier string, client ClientContext, now time.Time) error {
	fails := acct.FailedLogins + 1
	var lockedUntil *time.Time
	kind := security.EventLoginFailed
	if fails >= m.policy.LockoutThreshold {
		t := now.Add(m.policy.LockoutDuration)
		lockedUntil = &t
		kind = security.EventAccountLocked
	}
	if err := m.directory.RecordLoginFailure(ctx, acct.ID, fails, lockedUntil); err != nil {
		m.logger.Error("login failure not persisted", "error", err, "principal_id", acct.ID)
	}
	m.guard.RecordLoginFailure(ctx, client.SourceAddr)

	ev := security.NewEvent(kind, m.role, security.RiskContext{
		FailedStreak:   fails,
		EmptyUserAgent: client.UserAgent == "",
	})
	ev.PrincipalID = &acct.ID
	ev.Identifier = security.RedactIdentifier(identifier)
	if lockedUntil != nil {
		ev.Details = detailsJSON(map[string]any{"locked_until": lockedUntil.Format(time.RFC3339)})
	}
	m.record(ctx, ev, client)
	return apperror.InvalidCredentials()
}

func (m *Manager) recordGateRefusal(ctx context.Context, acct *principal.Account, identifier string, client ClientContext, reason string) {
	ev := security.NewEvent(security.EventLoginFailed, m.role, security.RiskContext{
		EmptyUserAgent: client.UserAgent == "",
	})
	ev.PrincipalID = &acct.ID
	ev.Identifier = security.RedactIdentifier(identifier)
	ev.Details = detailsJSON(map[string]any{"reason": reason})
	m.record(ctx, ev, client)
}

// establishSession opens the session row and mints the token pair. The
// refresh token's digest is stored before the tokens leave the manager.
func (m *Manager) establishSession(ctx context.Context, acct *principal.Account, remember bool, client ClientContext) (*TokenPair, *session.Session, bool, error) {
	now := m.now().UTC()
	fp := credentials.Fingerprint(client.UserAgent, client.SourceAddr, client.Device)

	newDevice := false
	if live, err := m.sessions.LiveForPrincipal(ctx, acct.ID, m.role); err == nil && len(live) > 0 {
		newDevice = true
		for i := range live {
			if live[i].Fingerprint == fp {
				newDevice = false
				break
			}
		}
	}

	sessionTTL, accessTTL := m.policy.SessionTTL, m.policy.AccessTTL
	if remember {
		sessionTTL, accessTTL = m.policy.SessionTTLRemember, m.policy.AccessTTLRemember
	}

	sess := &session.Session{
		ID:          uuid.New(),
		PrincipalID: acct.ID,
		Role:        m.role,
		Fingerprint: fp,
		Device:      client.Device,
		UserAgent:   client.UserAgent,
		SourceAddr:  client.SourceAddr,
		Remember:    remember,
		CreatedAt:   now,
		LastUsedAt:  now,
		ExpiresAt:   now.Add(sessionTTL),
	}

	refresh, _, err := m.tokens.MintRefresh(credentials.RefreshInput{
		PrincipalID: acct.ID.String(),
		Role:        string(m.role),
		SessionID:   sess.ID.String(),
		Fingerprint: fp,
	}, sessionTTL)
	if err != nil {
		return nil, nil, false, apperror.Internal(err)
	}
	sess.RefreshDigest = credentials.Digest(refresh)

	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, nil, false, apperror.Internal(err)
	}

	access, err := m.tokens.MintAccess(credentials.AccessInput{
		PrincipalID:   acct.ID.String(),
		Role:          string(m.role),
		Email:         acct.Email,
		EmailVerified: acct.EmailVerified,
		PhoneVerified: acct.PhoneVerified,
		SessionID:     sess.ID.String(),
		Fingerprint:   fp,
	}, accessTTL)
	if err != nil {
		return nil, nil, false, apperror.Internal(err)
	}

	pair := &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTTL.Seconds()),
		Principal:    summaryOf(acct),
	}
	return pair, sess, newDevice, nil
}

// Refresh rotates a session's credential in place. Replaying a
// superseded token fails without touching the session and leaves a
// high-risk event behind.
func (m *Manager) Refresh(ctx context.Context, req RefreshRequest, client ClientContext) (*TokenPair, error) {
	claims, err := m.tokens.VerifyRefresh(req.RefreshToken)
	if err != nil {
		return nil, invalidRefresh()
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil || claims.Role != string(m.role) {
		return nil, invalidRefresh()
	}

	sess, err := m.sessions.ByID(ctx, sessionID)
	if err != nil {
		return nil, invalidRefresh()
	}
	now := m.now().UTC()
	if !sess.Live(now) {
		return nil, invalidRefresh()
	}

	digest := credentials.Digest(req.RefreshToken)
	if sess.RefreshDigest != digest {
		// A superseded token replayed against a live session: either a
		// stolen credential or a badly broken client. The session itself
		// stays valid for its rightful holder.
		ev := security.NewEvent(security.EventRefreshReuse, m.role, security.RiskContext{})
		ev.PrincipalID = &sess.PrincipalID
		ev.Fingerprint = sess.Fingerprint
		m.record(ctx, ev, client)
		return nil, invalidRefresh()
	}

	acct, err := m.directory.FindByID(ctx, sess.PrincipalID)
	if err != nil {
		return nil, apperror.E(apperror.KindUnauthorized, "principal_not_found", "account no longer exists")
	}
	if !acct.Active {
		return nil, apperror.Deactivated()
	}

	if req.Device != "" {
		if fp := credentials.Fingerprint(client.UserAgent, client.SourceAddr, req.Device); fp != sess.Fingerprint {
			ev := security.NewEvent(security.EventFingerprintChanged, m.role, security.RiskContext{})
			ev.PrincipalID = &sess.PrincipalID
			ev.Fingerprint = sess.Fingerprint
			m.record(ctx, ev, client)
		}
	}

	accessTTL := m.policy.AccessTTL
	if sess.Remember {
		accessTTL = m.policy.AccessTTLRemember
	}

	// The session's expiry never extends on rotation; the new refresh
	// token inherits the remaining life.
	newRefresh, _, err := m.tokens.MintRefresh(credentials.RefreshInput{
		PrincipalID: sess.PrincipalID.String(),
		Role:        string(m.role),
		SessionID:   sess.ID.String(),
		Fingerprint: sess.Fingerprint,
	}, sess.ExpiresAt.Sub(now))
	if err != nil {
		return nil, apperror.Internal(err)
	}

	if err := m.sessions.Rotate(ctx, sess.ID, digest, credentials.Digest(newRefresh), now); err != nil {
		if errors.Is(err, session.ErrRotateConflict) {
			// Lost a concurrent rotation race; the winner's token stands.
			return nil, invalidRefresh()
		}
		return nil, apperror.Internal(err)
	}

	access, err := m.tokens.MintAccess(credentials.AccessInput{
		PrincipalID:   acct.ID.String(),
		Role:          string(m.role),
		Email:         acct.Email,
		EmailVerified: acct.EmailVerified,
		PhoneVerified: acct.PhoneVerified,
		SessionID:     sess.ID.String(),
		Fingerprint:   sess.Fingerprint,
	}, accessTTL)
	if err != nil {
		return nil, apperror.Internal(err)
	}

	ev := security.NewEvent(security.EventRefreshUsed, m.role, security.RiskContext{})
	ev.PrincipalID = &sess.PrincipalID
	ev.Fingerprint = sess.Fingerprint
	m.record(ctx, ev, client)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: newRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessTTL.Seconds()),
		Principal:    summaryOf(acct),
	}, nil
}

// Logout revokes the session a refresh token belongs to. Revoking an
// already-revoked or vanished session succeeds; only an unverifiable
// token is refused.
func (m *Manager) Logout(ctx context.Context, req LogoutRequest, client ClientContext) error {
	claims, err := m.tokens.VerifyRefresh(req.RefreshToken)
	if err != nil {
		return invalidRefresh()
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return invalidRefresh()
	}

	err = m.sessions.Revoke(ctx, sessionID, session.ReasonLogout)
	switch {
	case err == nil:
		if pid, perr := uuid.Parse(claims.Subject); perr == nil {
			ev := security.NewEvent(security.EventLogout, m.role, security.RiskContext{})
			ev.PrincipalID = &pid
			m.record(ctx, ev, client)
		}
	case errors.Is(err, session.ErrAlreadyRevoked), errors.Is(err, session.ErrNotFound):
		// Idempotent: logging out twice is fine.
	default:
		return apperror.Internal(err)
	}
	return nil
}

// LogoutAll revokes every live session after re-verifying the password.
func (m *Manager) LogoutAll(ctx context.Context, p principal.Principal, password string, client ClientContext) (int64, error) {
	acct, err := m.directory.FindByID(ctx, p.ID)
	if err != nil {
		return 0, apperror.Unauthorized("authentication required")
	}
	ok, err := credentials.VerifyPassword(acct.PasswordHash, password)
	if err != nil || !ok {
		return 0, apperror.InvalidCredentials()
	}

	revoked, err := m.sessions.RevokeAllForPrincipal(ctx, p.ID, m.role, session.ReasonLogoutAll)
	if err != nil {
		return 0, apperror.Internal(err)
	}

	ev := security.NewEvent(security.EventLogout, m.role, security.RiskContext{})
	ev.PrincipalID = &acct.ID
	ev.Details = detailsJSON(map[string]any{"scope": "all", "revoked": revoked})
	m.record(ctx, ev, client)

	return revoked, nil
}

// Sessions lists the caller's live sessions, most recently used first,
// with the current one flagged.
func (m *Manager) Sessions(ctx context.Context, p principal.Principal) ([]SessionView, error) {
	live, err := m.sessions.LiveForPrincipal(ctx, p.ID, m.role)
	if err != nil {
		return nil, apperror.Internal(err)
	}
	views := make([]SessionView, 0, len(live))
	for i := range live {
		views = append(views, viewOf(&live[i], p.SessionID))
	}
	return views, nil
}

// RevokeSession retires one of the caller's own sessions. Foreign and
// unknown ids are indistinguishable.
func (m *Manager) RevokeSession(ctx context.Context, p principal.Principal, sessionID uuid.UUID, client ClientContext) error {
	err := m.sessions.RevokeOwned(ctx, sessionID, p.ID, m.role, session.ReasonUserRevoked)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return apperror.NotFound("session")
		}
		return apperror.Internal(err)
	}

	ev := security.NewEvent(security.EventSessionRevoked, m.role, security.RiskContext{})
	ev.PrincipalID = &p.ID
	ev.Details = detailsJSON(map[string]any{"session_id": sessionID.String()})
	m.record(ctx, ev, client)
	return nil
}

// record appends a security event; failures log and never surface into
// the business path.
func (m *Manager) record(ctx context.Context, ev *security.Event, client ClientContext) {
	ev.SourceAddr = client.SourceAddr
	ev.UserAgent = client.UserAgent
	if err := m.events.Record(ctx, ev); err != nil {
		m.logger.Error("security event dropped", "kind", string(ev.Kind), "error", err)
	}
}

func detailsJSON(kv map[string]any) json.RawMessage {
	if len(kv) == 0 {
		return nil
	}
	raw, err := json.Marshal(kv)
	if err != nil {
		return nil
	}
	return raw
}
