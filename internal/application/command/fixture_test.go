package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/fluency"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/identity"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/domain/shared"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/infrastructure/persistence/kvstore"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/pkg/timeutil"
)

var (
	t0      = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	teacher = identity.Caller{UserID: "t1", Email: "tess@school.nl", Role: identity.RoleTeacher}
	student = identity.Caller{UserID: "s1", Email: "sam@school.nl", Role: identity.RoleStudent}
	errDisk = errors.New("disk full")
)

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count(t shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

// faultyStore fails Set for keys under failPrefix once armed.
type faultyStore struct {
	*kvstore.MemoryStore
	mu         sync.Mutex
	failPrefix string
}

func (s *faultyStore) failSetsUnder(prefix string) {
	s.mu.Lock()
	s.failPrefix = prefix
	s.mu.Unlock()
}

func (s *faultyStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	prefix := s.failPrefix
	s.mu.Unlock()
	if prefix != "" && strings.HasPrefix(key, prefix) {
		return errDisk
	}
	return s.MemoryStore.Set(ctx, key, value)
}

type fixture struct {
	store    *faultyStore
	profiles *kvstore.ProfileRepository
	history  *kvstore.HistoryRepository
	certs    *kvstore.CertificateRepository
	clock    *timeutil.StepClock
	events   *recorder

	initialize *InitializeFluencyHandler
	issue      *IssueCertificateHandler
	setLevel   *SetFluencyLevelHandler
	bulk       *BulkMigrateHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &faultyStore{MemoryStore: kvstore.NewMemoryStore()}
	f := &fixture{
		store:    store,
		profiles: kvstore.NewProfileRepository(store, nil),
		history:  kvstore.NewHistoryRepository(store, nil),
		certs:    kvstore.NewCertificateRepository(store, nil),
		clock:    timeutil.NewStepClock(t0, time.Second),
		events:   &recorder{},
	}
	lock := kvstore.NewUserLock(kvstore.NewLocalLocker(), time.Second)

	f.initialize = NewInitializeFluencyHandler(f.profiles, f.history, lock, f.clock, f.events, nil)
	f.issue = NewIssueCertificateHandler(f.certs, kvstore.NewCounterAllocator(store), f.clock, f.events, nil)
	f.setLevel = NewSetFluencyLevelHandler(f.profiles, f.history, lock, f.issue, f.clock, f.events, nil)
	f.bulk = NewBulkMigrateHandler(f.profiles, f.initialize, f.clock, f.events, nil)

	f.seed(t, "t1", "Mevrouw de Vries", identity.RoleTeacher, fluency.C1)
	return f
}

// seed stores a profile; an empty level leaves it unmigrated.
func (f *fixture) seed(t *testing.T, id, name string, role identity.Role, level fluency.Level) *fluency.Profile {
	t.Helper()
	p := fluency.NewProfile(id, name, id+"@school.nl", role, t0.Add(-time.Hour))
	if level != "" {
		p.ApplyLevel(level, t0.Add(-time.Hour), shared.SystemActorID)
	}
	require.NoError(t, f.profiles.Save(context.Background(), p))
	return p
}

func (f *fixture) level(t *testing.T, id string) fluency.Level {
	t.Helper()
	p, err := f.profiles.Get(context.Background(), id)
	require.NoError(t, err)
	return p.FluencyLevel
}

func (f *fixture) move(t *testing.T, id string, to fluency.Level) *SetFluencyLevelResult {
	t.Helper()
	res, err := f.setLevel.Handle(context.Background(), SetFluencyLevelCommand{Caller: teacher, UserID: id, Level: to.String()})
	require.NoError(t, err)
	return res
}
