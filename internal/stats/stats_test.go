package stats

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/printwatch/internal/testutil"
	"github.com/HerbHall/printwatch/pkg/models"
)

type fakeSource struct {
	statuses []models.DeviceStatus
	calls    int
}

func (f *fakeSource) GetAllStatuses() []models.DeviceStatus {
	f.calls++
	return f.statuses
}

func fleet() *fakeSource {
	return &fakeSource{statuses: []models.DeviceStatus{
		testutil.NewStatus("p1"),
		testutil.NewStatus("p2", testutil.WithError("jam"), testutil.WithSupply("Black", 3)),
		testutil.NewStatus("p3", testutil.WithState(models.StateMaintenance), func(s *models.DeviceStatus) { s.Location = "Annex" }),
		testutil.NewStatus("p4", func(s *models.DeviceStatus) {
			s.State = models.StateOffline
			s.Stale = true
		}),
	}}
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisKV) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisKV(client)
}

func TestService_Compute(t *testing.T) {
	svc := New(fleet(), NewMemoryKV(), 0, 20, zap.NewNop())

	fs, err := svc.Get(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 4, fs.DeviceCount)
	require.Equal(t, 1, fs.Online)
	require.Equal(t, 1, fs.Error)
	require.Equal(t, 1, fs.Maintenance)
	require.Equal(t, 1, fs.Offline)
	require.Equal(t, 1, fs.Stale)
	require.Equal(t, 1, fs.LowSupplies)
	require.Equal(t, int64(4800), fs.PagesTotal)

	annex, err := svc.Get(context.Background(), "Annex")
	require.NoError(t, err)
	require.Equal(t, 1, annex.DeviceCount)
	require.Equal(t, "Annex", annex.Scope)
}

func TestService_CachesInRedis(t *testing.T) {
	mr, kv := setupRedis(t)
	src := fleet()
	svc := New(src, kv, time.Minute, 20, zap.NewNop())
	ctx := context.Background()

	first, err := svc.Get(ctx, "")
	require.NoError(t, err)
	require.True(t, mr.Exists(keyPrefix))
	require.Equal(t, time.Minute, mr.TTL(keyPrefix))

	src.statuses = src.statuses[:1]
	cached, err := svc.Get(ctx, "")
	require.NoError(t, err)
	require.Equal(t, first.DeviceCount, cached.DeviceCount)
	require.Equal(t, 1, src.calls)

	mr.FastForward(time.Minute + time.Second)
	fresh, err := svc.Get(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 1, fresh.DeviceCount)
	require.Equal(t, 2, src.calls)
}

func TestService_Invalidate(t *testing.T) {
	_, kv := setupRedis(t)
	src := fleet()
	svc := New(src, kv, time.Hour, 20, nil)
	ctx := context.Background()

	_, err := svc.Get(ctx, "")
	require.NoError(t, err)
	require.NoError(t, svc.Invalidate(ctx, "", "Annex"))
	_, err = svc.Get(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)
}

func TestService_RedisDownFallsBack(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	kv := NewRedisKV(client)
	mr.Close()
	svc := New(fleet(), kv, time.Minute, 20, zap.NewNop())

	fs, err := svc.Get(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 4, fs.DeviceCount)
}

func TestMemoryKV_Expiry(t *testing.T) {
	clock := testutil.NewClock()
	kv := NewMemoryKV()
	kv.now = clock.Now
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", got)

	clock.Advance(time.Minute)
	_, err = kv.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, kv.Set(ctx, "forever", "v", 0))
	clock.Advance(24 * time.Hour)
	_, err = kv.Get(ctx, "forever")
	require.NoError(t, err)

	require.NoError(t, kv.Del(ctx, "forever"))
	_, err = kv.Get(ctx, "forever")
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisKV_Miss(t *testing.T) {
	_, kv := setupRedis(t)
	_, err := kv.Get(context.Background(), "absent")
	require.ErrorIs(t, err, ErrCacheMiss)
	require.NoError(t, kv.Del(context.Background()))
}
