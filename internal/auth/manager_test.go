package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/carebook/carebook-backend/internal/apperror"
	"github.com/carebook/carebook-backend/internal/credentials"
	"github.com/carebook/carebook-backend/internal/guard"
	"github.com/carebook/carebook-backend/internal/principal"
	"github.com/carebook/carebook-backend/internal/security"
	"github.com/carebook/carebook-backend/internal/session"
)

var testNow = time.Date(2029, time.November, 5, 9, 0, 0, 0, time.UTC)

// fastParams keeps argon2 cheap here; production parameters are covered
// by the credentials package's own tests.
var fastParams = credentials.Argon2Params{
	Memory:      8 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

var testClient = ClientContext{
	SourceAddr: "203.0.113.7",
	UserAgent:  "integration-suite/1.0",
	Device:     "pixel-8",
}

type memoryDirectory struct {
	role     principal.Role
	accounts map[uuid.UUID]*principal.Account
}

func newMemoryDirectory(role principal.Role) *memoryDirectory {
	return &memoryDirectory{role: role, accounts: map[uuid.UUID]*principal.Account{}}
}

func (d *memoryDirectory) Role() principal.Role { return d.role }

func (d *memoryDirectory) FindByIdentifier(ctx context.Context, identifier string) (*principal.Account, error) {
	for _, acct := range d.accounts {
		if strings.EqualFold(acct.Email, identifier) || acct.Phone == identifier {
			return acct, nil
		}
	}
	return nil, apperror.NotFound(string(d.role))
}

func (d *memoryDirectory) FindByID(ctx context.Context, id uuid.UUID) (*principal.Account, error) {
	acct, ok := d.accounts[id]
	if !ok {
		return nil, apperror.NotFound(string(d.role))
	}
	return acct, nil
}

func (d *memoryDirectory) RecordLoginFailure(ctx context.Context, id uuid.UUID, failedLogins int, lockedUntil *time.Time) error {
	if acct, ok := d.accounts[id]; ok {
		acct.FailedLogins = failedLogins
		acct.LockedUntil = lockedUntil
	}
	return nil
}

func (d *memoryDirectory) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	if acct, ok := d.accounts[id]; ok {
		acct.FailedLogins = 0
		acct.LockedUntil = nil
		t := at
		acct.LastLoginAt = &t
	}
	return nil
}

// memorySessions mirrors the store's conditional updates; the SQL itself
// is covered by the session package's tests.
type memorySessions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*session.Session
	now  func() time.Time
}

func (m *memorySessions) Create(ctx context.Context, sess *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.RefreshDigest == sess.RefreshDigest {
			return session.ErrDigestCollision
		}
	}
	cp := *sess
	m.rows[sess.ID] = &cp
	return nil
}

func (m *memorySessions) ByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memorySessions) Rotate(ctx context.Context, id uuid.UUID, oldDigest, newDigest string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.RevokedAt != nil || !row.ExpiresAt.After(at) || row.RefreshDigest != oldDigest {
		return session.ErrRotateConflict
	}
	row.RefreshDigest = newDigest
	row.LastUsedAt = at
	return nil
}

func (m *memorySessions) Revoke(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return session.ErrNotFound
	}
	if row.RevokedAt != nil {
		return session.ErrAlreadyRevoked
	}
	now := m.now()
	row.RevokedAt = &now
	row.RevokeReason = reason
	return nil
}

func (m *memorySessions) RevokeOwned(ctx context.Context, id, principalID uuid.UUID, role principal.Role, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.PrincipalID != principalID || row.Role != role || row.RevokedAt != nil {
		return session.ErrNotFound
	}
	now := m.now()
	row.RevokedAt = &now
	row.RevokeReason = reason
	return nil
}

func (m *memorySessions) RevokeAllForPrincipal(ctx context.Context, principalID uuid.UUID, role principal.Role, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	now := m.now()
	for _, row := range m.rows {
		if row.PrincipalID == principalID && row.Role == role && row.RevokedAt == nil {
			row.RevokedAt = &now
			row.RevokeReason = reason
			count++
		}
	}
	return count, nil
}

func (m *memorySessions) LiveForPrincipal(ctx context.Context, principalID uuid.UUID, role principal.Role) ([]session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(principalID, role), nil
}

func (m *memorySessions) liveLocked(principalID uuid.UUID, role principal.Role) []session.Session {
	now := m.now()
	var live []session.Session
	for _, row := range m.rows {
		if row.PrincipalID == principalID && row.Role == role &&
			row.RevokedAt == nil && row.ExpiresAt.After(now) {
			live = append(live, *row)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].LastUsedAt.After(live[j].LastUsedAt)
	})
	return live
}

func (m *memorySessions) EnforceCap(ctx context.Context, principalID uuid.UUID, role principal.Role, cap int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := m.liveLocked(principalID, role)
	if len(live) <= cap {
		return 0, nil
	}
	now := m.now()
	var evicted int64
	for _, victim := range live[cap:] {
		row := m.rows[victim.ID]
		row.RevokedAt = &now
		row.RevokeReason = session.ReasonDeviceCap
		evicted++
	}
	return evicted, nil
}

func (m *memorySessions) expire(id uuid.UUID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		row.ExpiresAt = at
	}
}

type memoryEvents struct {
	mu     sync.Mutex
	events []security.Event
}

func (r *memoryEvents) Record(ctx context.Context, ev *security.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return nil
}

func (r *memoryEvents) ofKind(kind security.EventKind) []security.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []security.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *memoryEvents) lastOf(kind security.EventKind) *security.Event {
	matches := r.ofKind(kind)
	if len(matches) == 0 {
		return nil
	}
	return &matches[len(matches)-1]
}

type fixture struct {
	t        *testing.T
	mgr      *Manager
	dir      *memoryDirectory
	sessions *memorySessions
	events   *memoryEvents
	guard    *guard.Guard
	issuer   *credentials.TokenIssuer
	redis    *miniredis.Miniredis
	current  time.Time
}

func newFixture(t *testing.T, role principal.Role) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	fx := &fixture{
		t:       t,
		dir:     newMemoryDirectory(role),
		events:  &memoryEvents{},
		guard:   guard.New(client, guard.DefaultConfig(), nil),
		redis:   mr,
		current: testNow,
	}
	clock := func() time.Time { return fx.current }
	fx.sessions = &memorySessions{rows: map[uuid.UUID]*session.Session{}, now: clock}
	fx.issuer = credentials.NewTokenIssuer("access-secret", "refresh-secret").WithClock(clock)
	fx.mgr = NewManager(Config{
		Directory: fx.dir,
		Policy:    PolicyFor(role),
		Sessions:  fx.sessions,
		Tokens:    fx.issuer,
		Guard:     fx.guard,
		Events:    fx.events,
	}).WithClock(clock)
	return fx
}

func (fx *fixture) advance(d time.Duration) { fx.current = fx.current.Add(d) }

func (fx *fixture) seedAccount(email, phone, password string) *principal.Account {
	fx.t.Helper()
	hash, err := credentials.HashPassword(password, fastParams)
	if err != nil {
		fx.t.Fatalf("hashing seed password: %v", err)
	}
	acct := &principal.Account{
		ID:            uuid.New(),
		Role:          fx.dir.role,
		Email:         email,
		Phone:         phone,
		DisplayName:   "Avery Quinn",
		PasswordHash:  hash,
		EmailVerified: true,
		Active:        true,
	}
	fx.dir.accounts[acct.ID] = acct
	return acct
}

func (fx *fixture) login(identifier, password string) (*TokenPair, error) {
	fx.t.Helper()
	return fx.mgr.Login(context.Background(), LoginRequest{
		Identifier: identifier,
		Password:   password,
	}, testClient)
}

// mustLogin fails the test on any login error and returns the pair with
// its session id.
func (fx *fixture) mustLogin(identifier, password, device string) (*TokenPair, uuid.UUID) {
	fx.t.Helper()
	pair, err := fx.mgr.Login(context.Background(), LoginRequest{
		Identifier: identifier,
		Password:   password,
		Device:     device,
	}, ClientContext{SourceAddr: testClient.SourceAddr, UserAgent: testClient.UserAgent, Device: device})
	if err != nil {
		fx.t.Fatalf("login: %v", err)
	}
	claims, err := fx.issuer.VerifyAccess(pair.AccessToken)
	if err != nil {
		fx.t.Fatalf("verifying minted access token: %v", err)
	}
	return pair, uuid.MustParse(claims.SessionID)
}

func TestLoginIssuesTokenPair(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "+13125550147", "Bright!Meadow42")
	ctx := context.Background()

	// A stale failure from before must be cleared by the success.
	fx.guard.RecordLoginFailure(ctx, testClient.SourceAddr)

	pair, err := fx.login("nora@example.com", "Bright!Meadow42")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.TokenType != "Bearer" {
		t.Errorf("token type = %q, want Bearer", pair.TokenType)
	}
	if pair.ExpiresIn != 1800 {
		t.Errorf("expires_in = %d, want 1800", pair.ExpiresIn)
	}
	if pair.Principal.ID != acct.ID || pair.Principal.Email != "nora@example.com" {
		t.Errorf("principal summary = %+v", pair.Principal)
	}

	claims, err := fx.issuer.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if claims.Role != "patient" || claims.Subject != acct.ID.String() || !claims.EmailVerified {
		t.Errorf("access claims = %+v", claims)
	}

	live, err := fx.sessions.LiveForPrincipal(ctx, acct.ID, principal.RolePatient)
	if err != nil || len(live) != 1 {
		t.Fatalf("live sessions = %d (err %v), want 1", len(live), err)
	}
	sess := live[0]
	if claims.SessionID != sess.ID.String() {
		t.Errorf("access sid = %s, session id = %s", claims.SessionID, sess.ID)
	}
	if sess.RefreshDigest != credentials.Digest(pair.RefreshToken) {
		t.Error("stored digest does not match the issued refresh token")
	}
	if !sess.ExpiresAt.Equal(testNow.Add(7 * 24 * time.Hour)) {
		t.Errorf("session expiry = %v, want login + 7d", sess.ExpiresAt)
	}
	wantFP := credentials.Fingerprint(testClient.UserAgent, testClient.SourceAddr, testClient.Device)
	if sess.Fingerprint != wantFP {
		t.Error("session fingerprint not derived from client context")
	}

	if acct.LastLoginAt == nil || !acct.LastLoginAt.Equal(testNow) {
		t.Errorf("last login = %v, want %v", acct.LastLoginAt, testNow)
	}
	if fx.redis.Exists("guard:login_fail:" + testClient.SourceAddr) {
		t.Error("failure window not reset after successful login")
	}

	successes := fx.events.ofKind(security.EventLoginSuccess)
	if len(successes) != 1 {
		t.Fatalf("login_success events = %d, want 1", len(successes))
	}
	ev := successes[0]
	if ev.PrincipalID == nil || *ev.PrincipalID != acct.ID {
		t.Error("event missing principal id")
	}
	if ev.Identifier != "no**@example.com" {
		t.Errorf("event identifier = %q, want redacted form", ev.Identifier)
	}
	if ev.SourceAddr != testClient.SourceAddr || ev.Fingerprint != wantFP {
		t.Errorf("event context = %q / %q", ev.SourceAddr, ev.Fingerprint)
	}
}

func TestLoginRememberExtendsLifetimes(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "", "Bright!Meadow42")

	pair, err := fx.mgr.Login(context.Background(), LoginRequest{
		Identifier: "nora@example.com",
		Password:   "Bright!Meadow42",
		Remember:   true,
	}, testClient)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", pair.ExpiresIn)
	}

	live, _ := fx.sessions.LiveForPrincipal(context.Background(), acct.ID, principal.RolePatient)
	if len(live) != 1 {
		t.Fatalf("live sessions = %d, want 1", len(live))
	}
	if !live[0].Remember {
		t.Error("session not marked remembered")
	}
	if !live[0].ExpiresAt.Equal(testNow.Add(30 * 24 * time.Hour)) {
		t.Errorf("session expiry = %v, want login + 30d", live[0].ExpiresAt)
	}
}

func TestLoginValidation(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)

	_, err := fx.login("  ", "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	ae := apperror.From(err)
	if ae.Code != "validation_failed" {
		t.Fatalf("code = %q", ae.Code)
	}
	if len(ae.Fields["identifier"]) == 0 || len(ae.Fields["password"]) == 0 {
		t.Errorf("fields = %v, want identifier and password", ae.Fields)
	}
	if len(fx.events.events) != 0 {
		t.Error("validation failures must not reach the security trail")
	}
}

func TestLoginUnknownIdentifier(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	fx.seedAccount("nora@example.com", "", "Bright!Meadow42")

	_, err := fx.login("ghost@example.com", "whatever1!")
	if apperror.KindOf(err) != apperror.KindInvalidCredentials {
		t.Fatalf("kind = %v, want invalid credentials", apperror.KindOf(err))
	}
	if got := apperror.From(err).Message; got != "invalid email/phone or password" {
		t.Errorf("message = %q", got)
	}

	ev := fx.events.lastOf(security.EventLoginFailed)
	if ev == nil {
		t.Fatal("no login_failed event")
	}
	if ev.PrincipalID != nil {
		t.Error("unknown identifier must not resolve to a principal id")
	}
	if ev.Identifier != "gh***@example.com" {
		t.Errorf("identifier = %q, want redacted form", ev.Identifier)
	}

	if got, err := fx.redis.Get("guard:login_fail:" + testClient.SourceAddr); err != nil || got != "1" {
		t.Errorf("failure counter = %q (err %v), want 1", got, err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "+13125550147", "Bright!Meadow42")

	// Phone numbers work as identifiers too.
	_, err := fx.login("+13125550147", "wrong-pass-9")
	if apperror.KindOf(err) != apperror.KindInvalidCredentials {
		t.Fatalf("kind = %v, want invalid credentials", apperror.KindOf(err))
	}
	if acct.FailedLogins != 1 {
		t.Errorf("failed logins = %d, want 1", acct.FailedLogins)
	}
	if acct.LockedUntil != nil {
		t.Error("no lockout expected after one failure")
	}

	ev := fx.events.lastOf(security.EventLoginFailed)
	if ev == nil {
		t.Fatal("no login_failed event")
	}
	if ev.PrincipalID == nil || *ev.PrincipalID != acct.ID {
		t.Error("event should carry the principal id")
	}
	if ev.Identifier != "****0147" {
		t.Errorf("identifier = %q, want masked phone", ev.Identifier)
	}
}

func TestLoginLockoutLifecycle(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "", "Bright!Meadow42")

	for i := 0; i < 2; i++ {
		if _, err := fx.login("nora@example.com", "wrong-pass-9"); apperror.KindOf(err) != apperror.KindInvalidCredentials {
			t.Fatalf("attempt %d: kind = %v", i+1, apperror.KindOf(err))
		}
	}
	if acct.LockedUntil != nil {
		t.Fatal("locked before the threshold")
	}

	// The third failure arms the lockout but still answers like any other
	// credential failure.
	_, err := fx.login("nora@example.com", "wrong-pass-9")
	if apperror.KindOf(err) != apperror.KindInvalidCredentials {
		t.Fatalf("threshold attempt: kind = %v, want invalid credentials", apperror.KindOf(err))
	}
	if acct.FailedLogins != 3 {
		t.Errorf("failed logins = %d, want 3", acct.FailedLogins)
	}
	if acct.LockedUntil == nil || !acct.LockedUntil.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("locked until = %v, want now + 1h", acct.LockedUntil)
	}

	locked := fx.events.lastOf(security.EventAccountLocked)
	if locked == nil {
		t.Fatal("no account_locked event")
	}
	if locked.Severity != security.SeverityCritical || !locked.Suspicious {
		t.Errorf("lockout severity = %q suspicious = %v", locked.Severity, locked.Suspicious)
	}
	if !strings.Contains(string(locked.Details), "locked_until") {
		t.Errorf("lockout details = %s", locked.Details)
	}

	// The right password cannot pass while the lock holds.
	_, err = fx.login("nora@example.com", "Bright!Meadow42")
	if apperror.KindOf(err) != apperror.KindAccountLocked {
		t.Fatalf("locked attempt: kind = %v, want account locked", apperror.KindOf(err))
	}
	wantUntil := testNow.Add(time.Hour).Format(time.RFC3339)
	if got := apperror.From(err).Meta["locked_until"]; got != wantUntil {
		t.Errorf("locked_until meta = %v, want %s", got, wantUntil)
	}

	// Once the lock lapses, a correct login works and clears the counter.
	fx.advance(61 * time.Minute)
	if _, err := fx.login("nora@example.com", "Bright!Meadow42"); err != nil {
		t.Fatalf("post-lock login: %v", err)
	}
	if acct.FailedLogins != 0 || acct.LockedUntil != nil {
		t.Errorf("failure state not cleared: %d / %v", acct.FailedLogins, acct.LockedUntil)
	}
}

func TestLoginDeactivatedAccount(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "", "Bright!Meadow42")
	acct.Active = false

	_, err := fx.login("nora@example.com", "Bright!Meadow42")
	if apperror.KindOf(err) != apperror.KindAccountDeactivated {
		t.Fatalf("kind = %v, want deactivated", apperror.KindOf(err))
	}
	ev := fx.events.lastOf(security.EventLoginFailed)
	if ev == nil || !strings.Contains(string(ev.Details), "deactivated") {
		t.Errorf("expected a login_failed event naming the gate, got %+v", ev)
	}
}

func TestLoginPatientNeedsVerifiedEmail(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "", "Bright!Meadow42")
	acct.EmailVerified = false

	_, err := fx.login("nora@example.com", "Bright!Meadow42")
	if apperror.KindOf(err) != apperror.KindEmailNotVerified {
		t.Fatalf("kind = %v, want email not verified", apperror.KindOf(err))
	}
	if got := apperror.From(err).Meta["verification_required"]; got != true {
		t.Errorf("verification_required meta = %v", got)
	}
}

func TestProviderLoginSkipsVerificationGate(t *testing.T) {
	fx := newFixture(t, principal.RoleProvider)
	acct := fx.seedAccount("dr.alvarez@clinic.example", "", "Bright!Meadow42")
	acct.EmailVerified = false

	pair, err := fx.login("dr.alvarez@clinic.example", "Bright!Meadow42")
	if err != nil {
		t.Fatalf("provider login: %v", err)
	}
	if pair.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", pair.ExpiresIn)
	}
	if pair.Principal.Role != principal.RoleProvider {
		t.Errorf("principal role = %q", pair.Principal.Role)
	}
}

func TestLoginRateLimitedBySourceAddr(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	fx.seedAccount("nora@example.com", "", "Bright!Meadow42")

	for i := 0; i < 5; i++ {
		if _, err := fx.login("ghost@example.com", "whatever1!"); apperror.KindOf(err) != apperror.KindInvalidCredentials {
			t.Fatalf("warmup attempt %d: %v", i+1, err)
		}
	}

	// The window is exhausted; even correct credentials are refused.
	_, err := fx.login("nora@example.com", "Bright!Meadow42")
	if apperror.KindOf(err) != apperror.KindRateLimited {
		t.Fatalf("kind = %v, want rate limited", apperror.KindOf(err))
	}
	retry, ok := apperror.From(err).Meta["retry_after"].(int)
	if !ok || retry < 1 {
		t.Errorf("retry_after meta = %v", apperror.From(err).Meta["retry_after"])
	}
	if len(fx.events.ofKind(security.EventRateLimited)) != 1 {
		t.Error("expected one rate_limited event")
	}
	if len(fx.sessions.rows) != 0 {
		t.Error("no session may be created while throttled")
	}
}

func TestLoginSessionCapEvictsOldest(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "", "Bright!Meadow42")
	ctx := context.Background()

	var sids []uuid.UUID
	for _, device := range []string{"laptop", "tablet", "phone", "kiosk"} {
		_, sid := fx.mustLogin("nora@example.com", "Bright!Meadow42", device)
		sids = append(sids, sid)
		fx.advance(time.Minute)
	}

	live, err := fx.sessions.LiveForPrincipal(ctx, acct.ID, principal.RolePatient)
	if err != nil {
		t.Fatalf("listing sessions: %v", err)
	}
	if len(live) != 3 {
		t.Fatalf("live sessions = %d, want cap of 3", len(live))
	}
	for _, sess := range live {
		if sess.ID == sids[0] {
			t.Fatal("oldest session survived the cap")
		}
	}
	if reason := fx.sessions.rows[sids[0]].RevokeReason; reason != session.ReasonDeviceCap {
		t.Errorf("evicted session reason = %q, want %q", reason, session.ReasonDeviceCap)
	}

	evictions := fx.events.ofKind(security.EventSessionCapEvicted)
	if len(evictions) != 1 {
		t.Fatalf("cap_evicted events = %d, want 1", len(evictions))
	}
	if !strings.Contains(string(evictions[0].Details), `"evicted":1`) {
		t.Errorf("eviction details = %s", evictions[0].Details)
	}
}

func TestRefreshRotatesInPlace(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "", "Bright!Meadow42")
	ctx := context.Background()

	first, sid := fx.mustLogin("nora@example.com", "Bright!Meadow42", "pixel-8")
	fx.advance(10 * time.Minute)

	second, err := fx.mgr.Refresh(ctx, RefreshRequest{RefreshToken: first.RefreshToken}, testClient)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token not rotated")
	}
	if second.ExpiresIn != 1800 {
		t.Errorf("expires_in = %d, want 1800", second.ExpiresIn)
	}

	live, _ := fx.sessions.LiveForPrincipal(ctx, acct.ID, principal.RolePatient)
	if len(live) != 1 || live[0].ID != sid {
		t.Fatalf("expected the same single session, got %d", len(live))
	}
	if live[0].RefreshDigest != credentials.Digest(second.RefreshToken) {
		t.Error("stored digest does not match the rotated token")
	}
	if !live[0].LastUsedAt.Equal(testNow.Add(10 * time.Minute)) {
		t.Errorf("last used = %v, want refresh time", live[0].LastUsedAt)
	}
	if !live[0].ExpiresAt.Equal(testNow.Add(7 * 24 * time.Hour)) {
		t.Errorf("session expiry moved to %v; rotation must not extend it", live[0].ExpiresAt)
	}

	// The new refresh token inherits the remaining session life.
	claims, err := fx.issuer.VerifyRefresh(second.RefreshToken)
	if err != nil {
		t.Fatalf("rotated token does not verify: %v", err)
	}
	if !claims.ExpiresAt.Time.Equal(testNow.Add(7 * 24 * time.Hour)) {
		t.Errorf("rotated token expiry = %v, want original session expiry", claims.ExpiresAt.Time)
	}

	if len(fx.events.ofKind(security.EventRefreshUsed)) != 1 {
		t.Error("expected one refresh_used event")
	}
}

func TestRefreshReplayBlocked(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "", "Bright!Meadow42")
	ctx := context.Background()

	first, _ := fx.mustLogin("nora@example.com", "Bright!Meadow42", "pixel-8")
	second, err := fx.mgr.Refresh(ctx, RefreshRequest{RefreshToken: first.RefreshToken}, testClient)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Replaying the superseded token must fail without killing the session.
	_, err = fx.mgr.Refresh(ctx, RefreshRequest{RefreshToken: first.RefreshToken}, testClient)
	if apperror.KindOf(err) != apperror.KindUnauthorized {
		t.Fatalf("replay kind = %v, want unauthorized", apperror.KindOf(err))
	}
	if apperror.From(err).Code != "invalid_refresh_token" {
		t.Errorf("replay code = %q", apperror.From(err).Code)
	}

	reuse := fx.events.ofKind(security.EventRefreshReuse)
	if len(reuse) != 1 {
		t.Fatalf("refresh_reuse events = %d, want 1", len(reuse))
	}
	if reuse[0].Severity != security.SeverityCritical || !reuse[0].Suspicious {
		t.Errorf("reuse severity = %q suspicious = %v", reuse[0].Severity, reuse[0].Suspicious)
	}

	live, _ := fx.sessions.LiveForPrincipal(ctx, acct.ID, principal.RolePatient)
	if len(live) != 1 {
		t.Fatalf("session should survive a blocked replay, live = %d", len(live))
	}

	// The current token still rotates normally afterward.
	if _, err := fx.mgr.Refresh(ctx, RefreshRequest{RefreshToken: second.RefreshToken}, testClient); err != nil {
		t.Fatalf("legitimate refresh after replay: %v", err)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)

	_, err := fx.mgr.Refresh(context.Background(), RefreshRequest{RefreshToken: "not-a-jwt"}, testClient)
	if apperror.From(err).Code != "invalid_refresh_token" {
		t.Fatalf("code = %q, want invalid_refresh_token", apperror.From(err).Code)
	}
	if len(fx.events.events) != 0 {
		t.Error("unverifiable tokens must not reach the security trail")
	}
}

func TestRefreshRejectsRevokedSession(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	fx.seedAccount("nora@example.com", "", "Bright!Meadow42")
	ctx := context.Background()

	pair, _ := fx.mustLogin("nora@example.com", "Bright!Meadow42", "pixel-8")
	if err := fx.mgr.Logout(ctx, LogoutRequest{RefreshToken: pair.RefreshToken}, testClient); err != nil {
		t.Fatalf("logout: %v", err)
	}

	_, err := fx.mgr.Refresh(ctx, RefreshRequest{RefreshToken: pair.RefreshToken}, testClient)
	if apperror.From(err).Code != "invalid_refresh_token" {
		t.Fatalf("code = %q, want invalid_refresh_token", apperror.From(err).Code)
	}
}

func TestRefreshRejectsExpiredSession(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	fx.seedAccount("nora@example.com", "", "Bright!Meadow42")

	pair, sid := fx.mustLogin("nora@example.com", "Bright!Meadow42", "pixel-8")
	// Kill the session server-side while the token itself is still valid.
	fx.sessions.expire(sid, fx.current.Add(-time.Second))

	_, err := fx.mgr.Refresh(context.Background(), RefreshRequest{RefreshToken: pair.RefreshToken}, testClient)
	if apperror.From(err).Code != "invalid_refresh_token" {
		t.Fatalf("code = %q, want invalid_refresh_token", apperror.From(err).Code)
	}
}

func TestRefreshRejectsForeignRole(t *testing.T) {
	patients := newFixture(t, principal.RolePatient)
	providers := newFixture(t, principal.RoleProvider)
	patients.seedAccount("nora@example.com", "", "Bright!Meadow42")

	pair, _ := patients.mustLogin("nora@example.com", "Bright!Meadow42", "pixel-8")

	// Both fixtures share signing secrets, so only the role claim stands
	// between a patient token and the provider manager.
	_, err := providers.mgr.Refresh(context.Background(), RefreshRequest{RefreshToken: pair.RefreshToken}, testClient)
	if apperror.From(err).Code != "invalid_refresh_token" {
		t.Fatalf("code = %q, want invalid_refresh_token", apperror.From(err).Code)
	}
}

func TestRefreshFlagsDeviceMismatch(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	fx.seedAccount("nora@example.com", "", "Bright!Meadow42")

	pair, _ := fx.mustLogin("nora@example.com", "Bright!Meadow42", "pixel-8")

	_, err := fx.mgr.Refresh(context.Background(), RefreshRequest{
		RefreshToken: pair.RefreshToken,
		Device:       "android-tab",
	}, ClientContext{SourceAddr: testClient.SourceAddr, UserAgent: testClient.UserAgent})
	if err != nil {
		t.Fatalf("mismatch is flag-only, refresh should succeed: %v", err)
	}

	flagged := fx.events.ofKind(security.EventFingerprintChanged)
	if len(flagged) != 1 {
		t.Fatalf("fingerprint_mismatch events = %d, want 1", len(flagged))
	}
	if !flagged[0].Suspicious {
		t.Error("fingerprint mismatch should be flagged suspicious")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "", "Bright!Meadow42")
	ctx := context.Background()

	pair, sid := fx.mustLogin("nora@example.com", "Bright!Meadow42", "pixel-8")

	if err := fx.mgr.Logout(ctx, LogoutRequest{RefreshToken: pair.RefreshToken}, testClient); err != nil {
		t.Fatalf("logout: %v", err)
	}
	live, _ := fx.sessions.LiveForPrincipal(ctx, acct.ID, principal.RolePatient)
	if len(live) != 0 {
		t.Fatalf("live sessions after logout = %d", len(live))
	}
	if reason := fx.sessions.rows[sid].RevokeReason; reason != session.ReasonLogout {
		t.Errorf("revoke reason = %q", reason)
	}

	// Same token again: already revoked, still a success.
	if err := fx.mgr.Logout(ctx, LogoutRequest{RefreshToken: pair.RefreshToken}, testClient); err != nil {
		t.Fatalf("repeat logout: %v", err)
	}
	if len(fx.events.ofKind(security.EventLogout)) != 1 {
		t.Error("repeat logout must not add events")
	}

	if err := fx.mgr.Logout(ctx, LogoutRequest{RefreshToken: "garbage"}, testClient); apperror.From(err).Code != "invalid_refresh_token" {
		t.Errorf("garbage token: %v", err)
	}
}

func TestLogoutAllRequiresPassword(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "", "Bright!Meadow42")
	ctx := context.Background()

	_, _ = fx.mustLogin("nora@example.com", "Bright!Meadow42", "laptop")
	fx.advance(time.Minute)
	_, currentSID := fx.mustLogin("nora@example.com", "Bright!Meadow42", "tablet")

	caller := principal.Principal{ID: acct.ID, Role: principal.RolePatient, SessionID: currentSID}

	_, err := fx.mgr.LogoutAll(ctx, caller, "wrong-pass-9", testClient)
	if apperror.KindOf(err) != apperror.KindInvalidCredentials {
		t.Fatalf("kind = %v, want invalid credentials", apperror.KindOf(err))
	}
	if live, _ := fx.sessions.LiveForPrincipal(ctx, acct.ID, principal.RolePatient); len(live) != 2 {
		t.Fatalf("sessions must survive a failed re-verification, live = %d", len(live))
	}

	revoked, err := fx.mgr.LogoutAll(ctx, caller, "Bright!Meadow42", testClient)
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if revoked != 2 {
		t.Errorf("revoked = %d, want 2", revoked)
	}
	if live, _ := fx.sessions.LiveForPrincipal(ctx, acct.ID, principal.RolePatient); len(live) != 0 {
		t.Errorf("live sessions = %d, want 0", len(live))
	}
	ev := fx.events.lastOf(security.EventLogout)
	if ev == nil || !strings.Contains(string(ev.Details), `"scope":"all"`) {
		t.Errorf("logout event details = %+v", ev)
	}
}

func TestSessionsListMarksCurrent(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	acct := fx.seedAccount("nora@example.com", "", "Bright!Meadow42")

	_, _ = fx.mustLogin("nora@example.com", "Bright!Meadow42", "laptop")
	fx.advance(time.Minute)
	_, currentSID := fx.mustLogin("nora@example.com", "Bright!Meadow42", "tablet")

	views, err := fx.mgr.Sessions(context.Background(), principal.Principal{
		ID:        acct.ID,
		Role:      principal.RolePatient,
		SessionID: currentSID,
	})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("views = %d, want 2", len(views))
	}
	if views[0].Device != "tablet" || !views[0].Current {
		t.Errorf("first view = %+v, want current tablet session", views[0])
	}
	if views[1].Device != "laptop" || views[1].Current {
		t.Errorf("second view = %+v, want older laptop session", views[1])
	}
	if len(views[0].Fingerprint) != 8 {
		t.Errorf("fingerprint length = %d, want 8-char prefix", len(views[0].Fingerprint))
	}
}

func TestRevokeSessionHonorsOwnership(t *testing.T) {
	fx := newFixture(t, principal.RolePatient)
	alice := fx.seedAccount("alice@example.com", "", "Bright!Meadow42")
	bob := fx.seedAccount("bob@example.com", "+16465550199", "Sturdy!Harbor77")
	ctx := context.Background()

	_, aliceSID := fx.mustLogin("alice@example.com", "Bright!Meadow42", "laptop")
	_, bobSID := fx.mustLogin("bob@example.com", "Sturdy!Harbor77", "phone")

	asAlice := principal.Principal{ID: alice.ID, Role: principal.RolePatient, SessionID: aliceSID}

	err := fx.mgr.RevokeSession(ctx, asAlice, bobSID, testClient)
	if apperror.KindOf(err) != apperror.KindNotFound {
		t.Fatalf("foreign revoke kind = %v, want not found", apperror.KindOf(err))
	}
	if apperror.From(err).Code != "session_not_found" {
		t.Errorf("foreign revoke code = %q", apperror.From(err).Code)
	}
	if live, _ := fx.sessions.LiveForPrincipal(ctx, bob.ID, principal.RolePatient); len(live) != 1 {
		t.Fatal("bob's session must survive alice's attempt")
	}

	if err := fx.mgr.RevokeSession(ctx, asAlice, aliceSID, testClient); err != nil {
		t.Fatalf("own revoke: %v", err)
	}
	if reason := fx.sessions.rows[aliceSID].RevokeReason; reason != session.ReasonUserRevoked {
		t.Errorf("revoke reason = %q", reason)
	}
	if len(fx.events.ofKind(security.EventSessionRevoked)) != 1 {
		t.Error("expected one session_revoked event")
	}
}
