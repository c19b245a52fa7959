package tfa

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

type fakeDirectory struct {
	mu         sync.RWMutex
	byUsername map[string]string
	byEmail    map[string]string
	users      map[string]*UserIdentity
	states     map[string]*SecondFactorState
	resolveErr error
	stateErr   error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		users:      make(map[string]*UserIdentity),
		states:     make(map[string]*SecondFactorState),
	}
}

func (d *fakeDirectory) put(u *UserIdentity, username, email string) {
	d.users[u.ID] = u
	if username != "" {
		d.byUsername[username] = u.ID
	}
	if email != "" {
		d.byEmail[email] = u.ID
	}
}

func (d *fakeDirectory) ResolveByUsername(_ context.Context, username string) (*UserIdentity, error) {
	if d.resolveErr != nil {
		return nil, d.resolveErr
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id, ok := d.byUsername[username]; ok {
		return d.users[id], nil
	}
	return nil, ErrIdentityNotFound
}

func (d *fakeDirectory) ResolveByEmail(_ context.Context, email string) (*UserIdentity, error) {
	if d.resolveErr != nil {
		return nil, d.resolveErr
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id, ok := d.byEmail[email]; ok {
		return d.users[id], nil
	}
	return nil, ErrIdentityNotFound
}

func (d *fakeDirectory) ResolveByID(_ context.Context, userID string) (*UserIdentity, error) {
	if d.resolveErr != nil {
		return nil, d.resolveErr
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if u, ok := d.users[userID]; ok {
		return u, nil
	}
	return nil, ErrIdentityNotFound
}

func (d *fakeDirectory) SecondFactorState(_ context.Context, userID string) (*SecondFactorState, error) {
	if d.stateErr != nil {
		return nil, d.stateErr
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.states[userID], nil
}

func (d *fakeDirectory) SaveSecondFactorSecret(_ context.Context, userID string, secret []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.states[userID]
	if state == nil {
		state = &SecondFactorState{}
		d.states[userID] = state
	}
	state.Secret = secret
	return nil
}

func (d *fakeDirectory) SetSecondFactorEnabled(_ context.Context, userID string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.states[userID]
	if state == nil {
		state = &SecondFactorState{}
		d.states[userID] = state
	}
	state.Enabled = enabled
	return nil
}

type fakePolicyStore struct {
	flags map[string]bool
	ints  map[string]int
	err   error
}

func newFakePolicyStore() *fakePolicyStore {
	return &fakePolicyStore{
		flags: make(map[string]bool),
		ints:  make(map[string]int),
	}
}

func (s *fakePolicyStore) GetFlag(_ context.Context, key string) (bool, bool, error) {
	if s.err != nil {
		return false, false, s.err
	}
	v, ok := s.flags[key]
	return v, ok, nil
}

func (s *fakePolicyStore) GetInt(_ context.Context, key string) (int, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	v, ok := s.ints[key]
	return v, ok, nil
}

type fakeProvider struct {
	code        string
	provisioned []byte
	provisions  int
}

func (p *fakeProvider) Verify(secret []byte, code string, _ time.Time) (bool, error) {
	if len(secret) == 0 {
		return false, errors.New("empty secret")
	}
	return code == p.code, nil
}

func (p *fakeProvider) Generate([]byte, time.Time) (string, error) {
	return p.code, nil
}

func (p *fakeProvider) ProvisionSecret(context.Context, string) ([]byte, error) {
	p.provisions++
	return p.provisioned, nil
}

type memTrustStore struct {
	mu      sync.Mutex
	devices map[string][]TrustedDevice
	saves   int
	loadErr error
	saveErr error
}

func newMemTrustStore() *memTrustStore {
	return &memTrustStore{devices: make(map[string][]TrustedDevice)}
}

func (s *memTrustStore) Load(_ context.Context, userID string) ([]TrustedDevice, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrustedDevice, len(s.devices[userID]))
	copy(out, s.devices[userID])
	return out, nil
}

func (s *memTrustStore) Save(_ context.Context, userID string, devices []TrustedDevice) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	stored := make([]TrustedDevice, len(devices))
	copy(stored, devices)
	s.devices[userID] = stored
	return nil
}

type decideFixture struct {
	directory *fakeDirectory
	policies  *fakePolicyStore
	provider  *fakeProvider
	trust     *memTrustStore
	hooks     OverrideHooks
	config    func(*Config)
}

func newDecideEngine(t *testing.T, fx *decideFixture) *Engine {
	t.Helper()

	cfg := DefaultConfig()
	if fx.config != nil {
		fx.config(&cfg)
	}
	if fx.provider == nil {
		fx.provider = &fakeProvider{code: "123456", provisioned: []byte("healed-secret")}
	}
	if fx.trust == nil {
		fx.trust = newMemTrustStore()
	}

	engine, err := New().
		WithConfig(cfg).
		WithUserDirectory(fx.directory).
		WithPolicyStore(fx.policies).
		WithTrustStore(fx.trust).
		WithSecondFactorProvider(fx.provider).
		WithOverrideHooks(fx.hooks).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedMember(d *fakeDirectory, enabled bool, secret []byte) {
	d.put(&UserIdentity{
		ID:           "u1",
		Roles:        []string{"member"},
		RegisteredAt: testNow.Add(-90 * 24 * time.Hour),
	}, "alice", "alice@example.com")
	d.states["u1"] = &SecondFactorState{Enabled: enabled, Secret: secret}
}

func TestDecideUnknownLoginDenied(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "ghost", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyUserNotFound {
		t.Fatalf("expected user_not_found denial, got %+v", verdict)
	}
}

func TestDecideNotActivatedForRolesAllowed(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("secret"))
	engine := newDecideEngine(t, fx)

	// No activation flag set for "member": unset defaults to false.
	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || verdict.CodeVerified {
		t.Fatalf("expected passive allow for non-activated role, got %+v", verdict)
	}
}

func TestDecideActivationExplicitFalseWins(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("secret"))
	fx.policies.flags["tfa_member"] = false
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || verdict.CodeVerified {
		t.Fatalf("expected allow when activation is explicitly off, got %+v", verdict)
	}
}

func TestDecideAnyActivatedRoleWins(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	fx.directory.put(&UserIdentity{
		ID:           "u2",
		Roles:        []string{"member", "editor"},
		RegisteredAt: testNow.Add(-90 * 24 * time.Hour),
	}, "bob", "")
	fx.directory.states["u2"] = &SecondFactorState{Enabled: true, Secret: []byte("secret")}
	fx.policies.flags["tfa_member"] = false
	fx.policies.flags["tfa_editor"] = true
	fx.provider = &fakeProvider{code: "654321"}
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "bob", Code: "654321", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || !verdict.CodeVerified {
		t.Fatalf("expected code-verified allow via activated editor role, got %+v", verdict)
	}
}

func TestDecideSuperAdminDefaultsActivated(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	fx.directory.put(&UserIdentity{
		ID:           "sa",
		Roles:        []string{"member"},
		SuperAdmin:   true,
		RegisteredAt: testNow.Add(-90 * 24 * time.Hour),
	}, "root", "")
	fx.directory.states["sa"] = &SecondFactorState{Enabled: true, Secret: []byte("secret")}
	engine := newDecideEngine(t, fx)

	// No flags at all: super-admin activation defaults true, so a wrong code
	// must be a denial, not a passive allow.
	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "root", Code: "000000", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyCodeIncorrect {
		t.Fatalf("expected code_incorrect denial for super admin, got %+v", verdict)
	}
}

func TestDecideSuperAdminLookupIsExclusive(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	fx.directory.put(&UserIdentity{
		ID:           "sa",
		Roles:        []string{"member"},
		SuperAdmin:   true,
		RegisteredAt: testNow.Add(-90 * 24 * time.Hour),
	}, "root", "")
	fx.directory.states["sa"] = &SecondFactorState{Enabled: true, Secret: []byte("secret")}
	// Ordinary role flag is on, but the super-admin flag is explicitly off
	// and must be terminal.
	fx.policies.flags["tfa_member"] = true
	fx.policies.flags["tfa__super_admin"] = false
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "root", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || verdict.CodeVerified {
		t.Fatalf("expected passive allow when super-admin flag is off, got %+v", verdict)
	}
}

func TestDecideEmailFirstThenUsernameRetry(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	// The identifier parses as an email but only exists as a username.
	fx.directory.put(&UserIdentity{
		ID:           "u3",
		Roles:        []string{"member"},
		RegisteredAt: testNow.Add(-90 * 24 * time.Hour),
	}, "carol@example.com", "")
	fx.directory.states["u3"] = &SecondFactorState{}
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "carol@example.com", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected username retry to resolve the user, got %+v", verdict)
	}
}

func TestDecideLoginIsUsernameSkipsEmailLookup(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	// Same string registered to two different users depending on the lookup.
	fx.directory.put(&UserIdentity{ID: "mail-user", Roles: []string{"member"}, RegisteredAt: testNow}, "", "dave@example.com")
	fx.directory.put(&UserIdentity{ID: "name-user", Roles: []string{"member"}, RegisteredAt: testNow}, "dave@example.com", "")
	fx.directory.states["name-user"] = &SecondFactorState{Enabled: true, Secret: []byte("secret")}
	fx.policies.flags["tfa_member"] = true
	fx.provider = &fakeProvider{code: "222222"}
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{
		Login:           "dave@example.com",
		LoginIsUsername: true,
		Code:            "222222",
		Now:             testNow,
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || !verdict.CodeVerified {
		t.Fatalf("expected the username-owning user to be verified, got %+v", verdict)
	}
}

func TestDecideXMLRPCBypassWhenGateUnset(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	engine := newDecideEngine(t, fx)

	// Unknown login and no code, but the protocol gate is unset: allowed.
	verdict, err := engine.Decide(context.Background(), DecideRequest{
		Login:    "anyone",
		Protocol: ProtocolXMLRPC,
		Now:      testNow,
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || verdict.CodeVerified {
		t.Fatalf("expected protocol bypass, got %+v", verdict)
	}
}

func TestDecideXMLRPCEnforcedWhenGateOn(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("secret"))
	fx.policies.flags["tfa_member"] = true
	fx.policies.flags["tfa_xmlrpc_on"] = true
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{
		Login:    "alice",
		Code:     "wrong",
		Protocol: ProtocolXMLRPC,
		Now:      testNow,
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if verdict.Allowed {
		t.Fatalf("expected enforcement over XML-RPC when gate is on, got %+v", verdict)
	}
}

func TestDecideNotEnabledNotRequiredAllowed(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, false, nil)
	fx.policies.flags["tfa_member"] = true
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || verdict.CodeVerified {
		t.Fatalf("expected allow for opted-out non-required user, got %+v", verdict)
	}
}

func TestDecideRequiredWithinGraceAllowed(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	fx.directory.put(&UserIdentity{
		ID:           "young",
		Roles:        []string{"member"},
		RegisteredAt: testNow.Add(-20 * 24 * time.Hour),
	}, "young", "")
	fx.directory.states["young"] = &SecondFactorState{}
	fx.policies.flags["tfa_member"] = true
	fx.policies.flags["tfa_required_member"] = true
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "young", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected grace-period allow for a 20-day-old account, got %+v", verdict)
	}
}

func TestDecideRequiredPastGraceDenied(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	fx.directory.put(&UserIdentity{
		ID:           "old",
		Roles:        []string{"member"},
		RegisteredAt: testNow.Add(-40 * 24 * time.Hour),
	}, "old", "")
	fx.directory.states["old"] = &SecondFactorState{}
	fx.policies.flags["tfa_member"] = true
	fx.policies.flags["tfa_required_member"] = true
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "old", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyRequiredNotEnabled {
		t.Fatalf("expected required_not_enabled denial past grace, got %+v", verdict)
	}
}

func TestDecideGraceBoundaryInclusive(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	fx.directory.put(&UserIdentity{
		ID:           "edge",
		Roles:        []string{"member"},
		RegisteredAt: testNow.Add(-30 * 24 * time.Hour),
	}, "edge", "")
	fx.directory.states["edge"] = &SecondFactorState{}
	fx.policies.flags["tfa_member"] = true
	fx.policies.flags["tfa_required_member"] = true
	engine := newDecideEngine(t, fx)

	// Account age exactly equals the grace period: still inside it.
	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "edge", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected allow at exact grace boundary, got %+v", verdict)
	}
}

func TestDecideGracePolicyKeyOverridesDefault(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	fx.directory.put(&UserIdentity{
		ID:           "u5",
		Roles:        []string{"member"},
		RegisteredAt: testNow.Add(-40 * 24 * time.Hour),
	}, "erin", "")
	fx.directory.states["u5"] = &SecondFactorState{}
	fx.policies.flags["tfa_member"] = true
	fx.policies.flags["tfa_required_member"] = true
	fx.policies.ints["tfa_requireafter"] = 60
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "erin", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected allow under 60-day policy grace, got %+v", verdict)
	}
}

func TestDecideGraceWaivedByHook(t *testing.T) {
	fx := &decideFixture{
		directory: newFakeDirectory(),
		policies:  newFakePolicyStore(),
		hooks: OverrideHooks{
			EnforceGracePeriod: func(context.Context, *UserIdentity, time.Duration, time.Duration) bool {
				return false
			},
		},
	}
	fx.directory.put(&UserIdentity{
		ID:           "old",
		Roles:        []string{"member"},
		RegisteredAt: testNow.Add(-400 * 24 * time.Hour),
	}, "old", "")
	fx.directory.states["old"] = &SecondFactorState{}
	fx.policies.flags["tfa_member"] = true
	fx.policies.flags["tfa_required_member"] = true
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "old", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected hook to waive the grace denial, got %+v", verdict)
	}
}

func TestDecideTrustTokenBypassesCode(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("secret"))
	fx.policies.flags["tfa_member"] = true
	fx.trust = newMemTrustStore()
	fx.trust.devices["u1"] = []TrustedDevice{{
		ID:        "dev-1",
		Token:     "0123456789012345678901234567890123456789",
		ExpiresAt: testNow.Add(24 * time.Hour),
		CreatedAt: testNow.Add(-24 * time.Hour),
	}}
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{
		Login:      "alice",
		TrustToken: "0123456789012345678901234567890123456789",
		Now:        testNow,
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || verdict.CodeVerified {
		t.Fatalf("expected trust bypass without code verification, got %+v", verdict)
	}
}

func TestDecideExpiredTrustTokenFallsThrough(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("secret"))
	fx.policies.flags["tfa_member"] = true
	fx.trust = newMemTrustStore()
	fx.trust.devices["u1"] = []TrustedDevice{{
		ID:        "dev-1",
		Token:     "0123456789012345678901234567890123456789",
		ExpiresAt: testNow.Add(-time.Second),
		CreatedAt: testNow.Add(-24 * time.Hour),
	}}
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{
		Login:      "alice",
		TrustToken: "0123456789012345678901234567890123456789",
		Code:       "wrong",
		Now:        testNow,
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyCodeIncorrect {
		t.Fatalf("expected expired token to fall through to code check, got %+v", verdict)
	}
}

func TestDecideCorrectCodeVerified(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("secret"))
	fx.policies.flags["tfa_member"] = true
	fx.provider = &fakeProvider{code: "123456"}
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Code: "123456", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || !verdict.CodeVerified {
		t.Fatalf("expected code-verified allow, got %+v", verdict)
	}
}

func TestDecideCodeWhitespaceStripped(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("secret"))
	fx.policies.flags["tfa_member"] = true
	fx.provider = &fakeProvider{code: "123456"}
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Code: " 123 456 ", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || !verdict.CodeVerified {
		t.Fatalf("expected whitespace-tolerant verification, got %+v", verdict)
	}
}

func TestDecideWrongCodeDenied(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("secret"))
	fx.policies.flags["tfa_member"] = true
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Code: "999999", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyCodeIncorrect {
		t.Fatalf("expected code_incorrect denial, got %+v", verdict)
	}
}

func TestDecideSecretSelfHealed(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, nil)
	fx.policies.flags["tfa_member"] = true
	fx.provider = &fakeProvider{code: "123456", provisioned: []byte("fresh")}
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Code: "123456", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || !verdict.CodeVerified {
		t.Fatalf("expected verification against a freshly provisioned secret, got %+v", verdict)
	}
	if fx.provider.provisions != 1 {
		t.Fatalf("expected exactly one provisioning call, got %d", fx.provider.provisions)
	}
}

func TestDecideDelegatedUnsecuredDenied(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("secret"))
	fx.directory.put(&UserIdentity{
		ID:           "helper",
		Roles:        []string{"member"},
		RegisteredAt: testNow.Add(-90 * 24 * time.Hour),
	}, "helper", "")
	fx.directory.states["helper"] = &SecondFactorState{Enabled: false}
	fx.policies.flags["tfa_member"] = true
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{
		Login:           "alice",
		DelegatedUserID: "helper",
		Code:            "123456",
		Now:             testNow,
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyDelegatedUserNotSecured {
		t.Fatalf("expected delegated_user_not_secured denial, got %+v", verdict)
	}
}

func TestDecideDelegatedSecuredVerifiesAgainstDelegate(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("target-secret"))
	fx.directory.put(&UserIdentity{
		ID:           "helper",
		Roles:        []string{"member"},
		RegisteredAt: testNow.Add(-90 * 24 * time.Hour),
	}, "helper", "")
	fx.directory.states["helper"] = &SecondFactorState{Enabled: true, Secret: []byte("helper-secret")}
	fx.policies.flags["tfa_member"] = true
	fx.provider = &fakeProvider{code: "123456"}
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{
		Login:           "alice",
		DelegatedUserID: "helper",
		Code:            "123456",
		Now:             testNow,
	})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !verdict.Allowed || !verdict.CodeVerified {
		t.Fatalf("expected delegated verification to pass, got %+v", verdict)
	}
}

func TestDecideRequiredHookOverrides(t *testing.T) {
	fx := &decideFixture{
		directory: newFakeDirectory(),
		policies:  newFakePolicyStore(),
		hooks: OverrideHooks{
			RequiredForUser: func(_ context.Context, _ *UserIdentity, _ bool) bool {
				return true
			},
		},
	}
	fx.directory.put(&UserIdentity{
		ID:           "old",
		Roles:        []string{"member"},
		RegisteredAt: testNow.Add(-400 * 24 * time.Hour),
	}, "old", "")
	fx.directory.states["old"] = &SecondFactorState{}
	fx.policies.flags["tfa_member"] = true
	// No required_ flag set; the hook alone makes it mandatory.
	engine := newDecideEngine(t, fx)

	verdict, err := engine.Decide(context.Background(), DecideRequest{Login: "old", Now: testNow})
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if verdict.Allowed || verdict.Reason != DenyRequiredNotEnabled {
		t.Fatalf("expected hook-imposed requirement denial, got %+v", verdict)
	}
}

func TestDecidePolicyOutagePropagates(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	seedMember(fx.directory, true, []byte("secret"))
	fx.policies.err = errors.New("redis down")
	engine := newDecideEngine(t, fx)

	_, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Now: testNow})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestDecideDirectoryOutagePropagates(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore()}
	fx.directory.resolveErr = errors.New("ldap down")
	engine := newDecideEngine(t, fx)

	_, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Now: testNow})
	if !errors.Is(err, ErrDirectoryUnavailable) {
		t.Fatalf("expected ErrDirectoryUnavailable, got %v", err)
	}
}

func TestDecideMetricsCounters(t *testing.T) {
	fx := &decideFixture{directory: newFakeDirectory(), policies: newFakePolicyStore(), config: func(c *Config) {
		c.Metrics.Enabled = true
	}}
	seedMember(fx.directory, true, []byte("secret"))
	fx.policies.flags["tfa_member"] = true
	fx.provider = &fakeProvider{code: "123456"}
	engine := newDecideEngine(t, fx)

	if _, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Code: "123456", Now: testNow}); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if _, err := engine.Decide(context.Background(), DecideRequest{Login: "alice", Code: "000000", Now: testNow}); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricDecideAllowed] != 1 {
		t.Fatalf("expected 1 allow, got %d", snap.Counters[MetricDecideAllowed])
	}
	if snap.Counters[MetricDecideDenied] != 1 {
		t.Fatalf("expected 1 denial, got %d", snap.Counters[MetricDecideDenied])
	}
	if snap.Counters[MetricCodeVerified] != 1 || snap.Counters[MetricCodeIncorrect] != 1 {
		t.Fatalf("expected one verified and one incorrect code, got %+v", snap.Counters)
	}
}
