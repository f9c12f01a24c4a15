package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type fakeDirectory struct {
	mu         sync.Mutex
	passwords  map[string]string
	identities map[string]RemoteIdentity
	sessions   map[SessionToken]string
	faults     map[string]error
	calls      map[string]int
	nextToken  int
	// sessionOwner overrides the username echoed by FetchSession.
	sessionOwner string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		passwords:  map[string]string{},
		identities: map[string]RemoteIdentity{},
		sessions:   map[SessionToken]string{},
		faults:     map[string]error{},
		calls:      map[string]int{},
	}
}

func (d *fakeDirectory) addUser(identity RemoteIdentity, password string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities[identity.Username] = identity
	d.passwords[identity.Username] = password
}

func (d *fakeDirectory) setGroups(username string, groups ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	identity := d.identities[username]
	identity.Groups = append([]string(nil), groups...)
	d.identities[username] = identity
}

func (d *fakeDirectory) removeUser(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.identities, username)
	delete(d.passwords, username)
}

func (d *fakeDirectory) fail(method string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[method] = err
}

func (d *fakeDirectory) count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

func (d *fakeDirectory) totalCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	total := 0
	for _, count := range d.calls {
		total += count
	}
	return total
}

func (d *fakeDirectory) enter(method string) error {
	d.calls[method]++
	return d.faults[method]
}

func (d *fakeDirectory) Authenticate(_ context.Context, creds Credentials, sourceIP string) (SessionToken, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("Authenticate"); err != nil {
		return "", false, err
	}
	password, ok := d.passwords[creds.Username]
	if !ok || password != creds.Password {
		return "", false, nil
	}
	d.nextToken++
	token := SessionToken(fmt.Sprintf("tok-%d-%s", d.nextToken, sourceIP))
	d.sessions[token] = creds.Username
	return token, true, nil
}

func (d *fakeDirectory) FetchSession(_ context.Context, token SessionToken) (Session, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("FetchSession"); err != nil {
		return Session{}, false, err
	}
	username, ok := d.sessions[token]
	if !ok {
		return Session{}, false, nil
	}
	if d.sessionOwner != "" {
		username = d.sessionOwner
	}
	return Session{Username: username, Token: token}, true, nil
}

func (d *fakeDirectory) RefreshSession(_ context.Context, token SessionToken, sourceIP string) (SessionToken, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("RefreshSession"); err != nil {
		return "", false, err
	}
	username, ok := d.sessions[token]
	if !ok {
		return "", false, nil
	}
	delete(d.sessions, token)
	d.nextToken++
	next := SessionToken(fmt.Sprintf("tok-%d-%s", d.nextToken, sourceIP))
	d.sessions[next] = username
	return next, true, nil
}

func (d *fakeDirectory) InvalidateSession(_ context.Context, token SessionToken) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("InvalidateSession"); err != nil {
		return false, err
	}
	if _, ok := d.sessions[token]; !ok {
		return false, nil
	}
	delete(d.sessions, token)
	return true, nil
}

func (d *fakeDirectory) UserExists(_ context.Context, username string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("UserExists"); err != nil {
		return false, err
	}
	_, ok := d.identities[username]
	return ok, nil
}

func (d *fakeDirectory) FetchIdentity(_ context.Context, username string) (RemoteIdentity, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("FetchIdentity"); err != nil {
		return RemoteIdentity{}, false, err
	}
	identity, ok := d.identities[username]
	if !ok {
		return RemoteIdentity{}, false, nil
	}
	identity.Groups = append([]string(nil), identity.Groups...)
	return identity, true, nil
}

func (d *fakeDirectory) FetchGroups(_ context.Context, username string) ([]string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter("FetchGroups"); err != nil {
		return nil, false, err
	}
	identity, ok := d.identities[username]
	if !ok {
		return nil, false, nil
	}
	return append([]string(nil), identity.Groups...), true, nil
}

// failingStore wraps a memory store and fails the named repository step.
type failingStore struct {
	*MemoryIdentityStore
	failStep string
}

var errInjected = errors.New("injected store failure")

func (s *failingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Repositories) error) error {
	return s.MemoryIdentityStore.RunInTx(ctx, func(ctx context.Context, tx Repositories) error {
		return fn(ctx, failingRepositories{Repositories: tx, failStep: s.failStep})
	})
}

type failingRepositories struct {
	Repositories
	failStep string
}

func (r failingRepositories) Groups() GroupRepository {
	return failingGroups{GroupRepository: r.Repositories.Groups(), failStep: r.failStep}
}

func (r failingRepositories) Memberships() MembershipRepository {
	return failingMemberships{MembershipRepository: r.Repositories.Memberships(), failStep: r.failStep}
}

type failingGroups struct {
	GroupRepository
	failStep string
}

func (g failingGroups) GetOrCreate(ctx context.Context, name string) (LocalGroup, error) {
	if g.failStep == "group:"+name {
		return LocalGroup{}, errInjected
	}
	return g.GroupRepository.GetOrCreate(ctx, name)
}

type failingMemberships struct {
	MembershipRepository
	failStep string
}

func (m failingMemberships) ReplaceMemberships(ctx context.Context, userID string, groupIDs []string) error {
	if m.failStep == "memberships" {
		return errInjected
	}
	return m.MembershipRepository.ReplaceMemberships(ctx, userID, groupIDs)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu       sync.Mutex
	counters []capturedCounter
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (m *captureMetricsRecorder) hasCounter(name string, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, counter := range m.counters {
		if counter.name == name && counter.tags["status"] == status {
			return true
		}
	}
	return false
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu      *sync.Mutex
	records *[]capturedLog
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return l
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := map[string]any{}
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) find(msg string) (capturedLog, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range *l.records {
		if record.msg == msg {
			return record, true
		}
	}
	return capturedLog{}, false
}

type stubLoggerProvider struct {
	logger Logger
}

func (p stubLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

func aliceIdentity(groups ...string) RemoteIdentity {
	return RemoteIdentity{
		Key:         "K1",
		Username:    "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice Liddell",
		FirstName:   "Alice",
		LastName:    "Liddell",
		Groups:      groups,
	}
}

func newTestValidator(directory DirectoryClient, store IdentityStore, clock *testClock, opts ...Option) (*SessionValidator, error) {
	base := []Option{WithClock(clock.Now), WithLogger(newCaptureLogger())}
	return NewSessionValidator(DefaultConfig(), directory, store, append(base, opts...)...)
}
