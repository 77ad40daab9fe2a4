package fleet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/source"
	"github.com/HerbHall/printwatch/internal/store"
	"github.com/HerbHall/printwatch/internal/testutil"
	"github.com/HerbHall/printwatch/pkg/plugin"
)

func newTargetRepo(t *testing.T) *SQLiteTargetRepository {
	t.Helper()
	db := testutil.NewStore(t)
	if err := db.Migrate(context.Background(), "fleet", migrations()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewSQLiteTargetRepository(db.DB())
}

func TestSQLiteTargetRepository_SaveAndList(t *testing.T) {
	repo := newTargetRepo(t)
	ctx := context.Background()

	a := source.Target{ID: "a", Driver: source.DriverSNMP, Address: "10.0.0.5", Community: "secret"}
	b := source.Target{ID: "b", Driver: source.DriverHTTP, Address: "http://printer", APIKey: "k", Interval: time.Minute}
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, repo.Save(ctx, b))

	a.Location = "Lobby"
	require.NoError(t, repo.Save(ctx, a))

	got, err := repo.List(ctx)
	require.NoError(t, err)
	if len(got) != 2 {
		t.Fatalf("len(List) = %d, want 2", len(got))
	}
	if got[0].ID != "a" || got[0].Location != "Lobby" {
		t.Errorf("got[0] = %+v, want updated a", got[0])
	}
	if got[0].Community != "secret" {
		t.Errorf("Community = %q, want %q", got[0].Community, "secret")
	}
	if got[1].APIKey != "k" || got[1].Interval != time.Minute {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestSQLiteTargetRepository_Delete(t *testing.T) {
	repo := newTargetRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, source.Target{ID: "a", Driver: source.DriverSimulated}))
	require.NoError(t, repo.Delete(ctx, "a"))
	if err := repo.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
	got, err := repo.List(ctx)
	require.NoError(t, err)
	if len(got) != 0 {
		t.Errorf("List after delete = %v", got)
	}
}

func TestSQLiteTargetRepository_Settings(t *testing.T) {
	repo := newTargetRepo(t)
	ctx := context.Background()

	if _, err := repo.Setting(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Setting(missing) = %v, want ErrNotFound", err)
	}
	require.NoError(t, repo.SetSetting(ctx, settingPollInterval, "1m0s"))
	require.NoError(t, repo.SetSetting(ctx, settingPollInterval, "2m0s"))
	v, err := repo.Setting(ctx, settingPollInterval)
	require.NoError(t, err)
	if v != "2m0s" {
		t.Errorf("Setting = %q, want %q", v, "2m0s")
	}
}

// initWithStore initializes a module over an existing store, the way a
// restarted process would.
func initWithStore(t *testing.T, db *store.SQLiteStore) *Module {
	t.Helper()
	d := staticDriver{testutil.NewStaticFetcher(testutil.NewStatus("p1"), testutil.NewStatus("p2"), testutil.NewStatus("p9"))}
	m := New(
		WithRegisterer(prometheus.NewRegistry()),
		WithDrivers(map[string]source.Driver{source.DriverSimulated: d, source.DriverSNMP: d}),
	)
	m.cfg = testFleetConfig()
	err := m.Init(context.Background(), plugin.Dependencies{
		Logger: zap.NewNop(),
		Bus:    testutil.NewMockBus(),
		Store:  db,
	})
	require.NoError(t, err)
	return m
}

func TestModule_RestoresRuntimeState(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewStore(t)

	first := initWithStore(t, db)
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.startDevice(ctx, source.Target{ID: "p9", Driver: source.DriverSNMP, Address: "10.0.0.9"}))
	require.NoError(t, first.setPollInterval(ctx, 2*time.Hour))
	require.NoError(t, first.Stop(ctx))

	second := initWithStore(t, db)
	t.Cleanup(func() { _ = second.Stop(ctx) })

	if _, ok := second.router.Target("p9"); !ok {
		t.Error("runtime device p9 not restored")
	}
	if got := second.monitor.Config().DefaultPollInterval; got != 2*time.Hour {
		t.Errorf("DefaultPollInterval = %v, want 2h", got)
	}
	if got := len(second.router.Targets()); got != 3 {
		t.Errorf("targets = %d, want 3", got)
	}
}

func TestModule_StopDeviceForgetsSavedTarget(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewStore(t)

	first := initWithStore(t, db)
	require.NoError(t, first.startDevice(ctx, source.Target{ID: "p9", Driver: source.DriverSNMP, Address: "10.0.0.9"}))
	require.NoError(t, first.stopDevice(ctx, "p9"))
	require.NoError(t, first.Stop(ctx))

	saved, err := NewSQLiteTargetRepository(db.DB()).List(ctx)
	require.NoError(t, err)
	if len(saved) != 0 {
		t.Errorf("saved targets = %v, want none", saved)
	}
}
