package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, store IdentityStore, clock *testClock) *IdentitySyncEngine {
	t.Helper()
	engine, err := NewIdentitySyncEngine(store, WithClock(clock.Now), WithLogger(newCaptureLogger()))
	if err != nil {
		t.Fatalf("new sync engine: %v", err)
	}
	return engine
}

func membershipNames(t *testing.T, store IdentityStore, userID string) []string {
	t.Helper()
	groups, err := store.Memberships().ListGroups(context.Background(), userID)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	return groupNames(groups)
}

func TestReconcile_CreatesUserAndMemberships(t *testing.T) {
	store := NewMemoryIdentityStore()
	clock := newTestClock()
	engine := newTestEngine(t, store, clock)

	user, err := engine.Reconcile(context.Background(), ReconcileInput{
		Identity:     aliceIdentity("oncall", "eng", "eng", " "),
		SessionToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if user.ID == "" || user.CrowdKey != "K1" || user.Username != "alice" {
		t.Fatalf("unexpected user %+v", user)
	}
	if user.SSOToken != "tok-1" {
		t.Fatalf("expected sso token tok-1, got %q", user.SSOToken)
	}
	if !user.UpdatedAt.Equal(clock.Now()) {
		t.Fatalf("expected updated_at %s, got %s", clock.Now(), user.UpdatedAt)
	}
	if got := membershipNames(t, store, user.ID); !reflect.DeepEqual(got, []string{"eng", "oncall"}) {
		t.Fatalf("expected memberships [eng oncall], got %v", got)
	}
	if !reflect.DeepEqual(user.Groups, []string{"eng", "oncall"}) {
		t.Fatalf("expected returned groups [eng oncall], got %v", user.Groups)
	}
}

func TestReconcile_ShrinksMembershipsAndKeepsGroups(t *testing.T) {
	store := NewMemoryIdentityStore()
	clock := newTestClock()
	engine := newTestEngine(t, store, clock)
	ctx := context.Background()

	first, err := engine.Reconcile(ctx, ReconcileInput{Identity: aliceIdentity("eng", "oncall"), SessionToken: "tok-1"})
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	clock.Advance(time.Minute)
	second, err := engine.Reconcile(ctx, ReconcileInput{Identity: aliceIdentity("eng")})
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same local id, got %q and %q", first.ID, second.ID)
	}
	if got := membershipNames(t, store, second.ID); !reflect.DeepEqual(got, []string{"eng"}) {
		t.Fatalf("expected memberships [eng], got %v", got)
	}
	if _, found, err := store.Groups().GetByName(ctx, "oncall"); err != nil || !found {
		t.Fatalf("expected oncall group to survive, found=%v err=%v", found, err)
	}
	if second.SSOToken != "tok-1" {
		t.Fatalf("expected empty token to keep stored token, got %q", second.SSOToken)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("expected updated_at to advance")
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store := NewMemoryIdentityStore()
	clock := newTestClock()
	engine := newTestEngine(t, store, clock)
	ctx := context.Background()
	input := ReconcileInput{Identity: aliceIdentity("eng", "oncall"), SessionToken: "tok-1"}

	first, err := engine.Reconcile(ctx, input)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	second, err := engine.Reconcile(ctx, input)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical state\nfirst:  %+v\nsecond: %+v", first, second)
	}
	stored, _, err := store.Users().GetByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if !stored.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("expected created_at to be preserved")
	}
}

func TestReconcile_UsernameReuseDoesNotMerge(t *testing.T) {
	store := NewMemoryIdentityStore()
	clock := newTestClock()
	engine := newTestEngine(t, store, clock)
	ctx := context.Background()

	original, err := engine.Reconcile(ctx, ReconcileInput{Identity: aliceIdentity("eng")})
	if err != nil {
		t.Fatalf("reconcile original: %v", err)
	}
	reused := aliceIdentity("sales")
	reused.Key = "K2"
	reused.Email = "alice2@example.com"
	successor, err := engine.Reconcile(ctx, ReconcileInput{Identity: reused})
	if err != nil {
		t.Fatalf("reconcile successor: %v", err)
	}
	if successor.ID == original.ID {
		t.Fatalf("expected a distinct record for crowd key K2")
	}

	displaced, found, err := store.Users().GetByCrowdKey(ctx, "K1")
	if err != nil || !found {
		t.Fatalf("expected K1 row to remain, found=%v err=%v", found, err)
	}
	if displaced.Username != DisplacedUsername("alice", "K1") {
		t.Fatalf("expected displaced username, got %q", displaced.Username)
	}
	if got := membershipNames(t, store, original.ID); !reflect.DeepEqual(got, []string{"eng"}) {
		t.Fatalf("expected K1 memberships untouched, got %v", got)
	}
	holder, _, err := store.Users().GetByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if holder.CrowdKey != "K2" {
		t.Fatalf("expected alice to belong to K2, got %q", holder.CrowdKey)
	}
}

func TestReconcile_FollowsDirectoryRename(t *testing.T) {
	store := NewMemoryIdentityStore()
	engine := newTestEngine(t, store, newTestClock())
	ctx := context.Background()

	first, err := engine.Reconcile(ctx, ReconcileInput{Identity: aliceIdentity()})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	renamed := aliceIdentity()
	renamed.Username = "alice.liddell"
	second, err := engine.Reconcile(ctx, ReconcileInput{Identity: renamed})
	if err != nil {
		t.Fatalf("reconcile rename: %v", err)
	}
	if second.ID != first.ID || second.Username != "alice.liddell" {
		t.Fatalf("expected rename on the same row, got %+v", second)
	}
}

func TestReconcile_RollsBackOnMidSyncFailure(t *testing.T) {
	memory := NewMemoryIdentityStore()
	clock := newTestClock()
	ctx := context.Background()

	seed := newTestEngine(t, memory, clock)
	before, err := seed.Reconcile(ctx, ReconcileInput{Identity: aliceIdentity("eng"), SessionToken: "tok-1"})
	if err != nil {
		t.Fatalf("seed reconcile: %v", err)
	}

	clock.Advance(10 * time.Minute)
	store := &failingStore{MemoryIdentityStore: memory, failStep: "group:oncall"}
	engine := newTestEngine(t, store, clock)
	changed := aliceIdentity("eng", "oncall", "zeta")
	changed.DisplayName = "Changed"
	_, err = engine.Reconcile(ctx, ReconcileInput{Identity: changed, SessionToken: "tok-2"})
	if err == nil {
		t.Fatalf("expected reconcile failure")
	}
	var reconcileErr *ReconciliationError
	if !errors.As(err, &reconcileErr) || reconcileErr.Step != "resolve_groups" {
		t.Fatalf("expected resolve_groups reconciliation error, got %v", err)
	}
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected cause, got %v", err)
	}

	after, _, err := memory.Users().GetByID(ctx, before.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if after.DisplayName != before.DisplayName || after.SSOToken != "tok-1" || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("expected user unchanged after rollback, got %+v", after)
	}
	if _, found, _ := memory.Groups().GetByName(ctx, "oncall"); found {
		t.Fatalf("expected no partial group creation")
	}
	if got := membershipNames(t, memory, before.ID); !reflect.DeepEqual(got, []string{"eng"}) {
		t.Fatalf("expected memberships unchanged, got %v", got)
	}
}

func TestReconcile_MembershipFailureRollsBackNewUser(t *testing.T) {
	memory := NewMemoryIdentityStore()
	store := &failingStore{MemoryIdentityStore: memory, failStep: "memberships"}
	engine := newTestEngine(t, store, newTestClock())

	_, err := engine.Reconcile(context.Background(), ReconcileInput{Identity: aliceIdentity("eng")})
	var reconcileErr *ReconciliationError
	if !errors.As(err, &reconcileErr) || reconcileErr.Step != "replace_memberships" {
		t.Fatalf("expected replace_memberships error, got %v", err)
	}
	if _, found, _ := memory.Users().GetByCrowdKey(context.Background(), "K1"); found {
		t.Fatalf("expected user insert to be rolled back")
	}
}

func TestReconcile_RejectsInvalidIdentity(t *testing.T) {
	engine := newTestEngine(t, NewMemoryIdentityStore(), newTestClock())

	_, err := engine.Reconcile(context.Background(), ReconcileInput{Identity: RemoteIdentity{Username: "alice"}})
	if !errors.Is(err, ErrIdentityKeyRequired) {
		t.Fatalf("expected key required, got %v", err)
	}
	_, err = engine.Reconcile(context.Background(), ReconcileInput{Identity: RemoteIdentity{Key: "K1"}})
	if !errors.Is(err, ErrIdentityUsernameRequired) {
		t.Fatalf("expected username required, got %v", err)
	}
}

func TestNewIdentitySyncEngine_RequiresStore(t *testing.T) {
	if _, err := NewIdentitySyncEngine(nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
}
