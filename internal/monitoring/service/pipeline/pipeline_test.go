package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/qiniu/logmon/internal/monitoring/model"
	"github.com/qiniu/logmon/internal/monitoring/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures the order of side effects across the fakes.
type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.steps = append(r.steps, s)
	r.mu.Unlock()
}

type fakeStore struct {
	rec     *recorder
	err     error
	records [][]byte
}

func (s *fakeStore) PushFront(ctx context.Context, record []byte) error {
	s.rec.add("store")
	if s.err != nil {
		return s.err
	}
	s.records = append([][]byte{record}, s.records...)
	return nil
}

type fakeObservers struct {
	rec   *recorder
	count int
	msgs  [][]byte
}

func (o *fakeObservers) Count() int { return o.count }

func (o *fakeObservers) Broadcast(ctx context.Context, msg []byte) int {
	o.rec.add("broadcast")
	o.msgs = append(o.msgs, msg)
	return o.count
}

type fakeNotifier struct {
	rec   *recorder
	err   error
	calls []model.Alert
}

func (n *fakeNotifier) Notify(ctx context.Context, a model.Alert) error {
	n.rec.add("notify")
	n.calls = append(n.calls, a)
	return n.err
}

func newFakes(observers int) (*recorder, *fakeStore, *fakeObservers, *fakeNotifier) {
	rec := &recorder{}
	return rec, &fakeStore{rec: rec}, &fakeObservers{rec: rec, count: observers}, &fakeNotifier{rec: rec}
}

var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func critical() model.Alert {
	return model.NewAlert(at, model.SeverityCritical, model.SourceSystem, "Error log spike detected: 25 errors", "production", model.CategoryErrorSpike)
}

func warning() model.Alert {
	return model.NewAlert(at, model.SeverityWarning, model.SourcePerformance, "Response time degradation: 6 requests", "production", model.CategoryPerformance)
}

func TestEmit_OrderPersistBroadcastNotify(t *testing.T) {
	rec, st, obs, n := newFakes(2)
	p := New(st, obs, n)

	require.NoError(t, p.Emit(context.Background(), critical()))

	assert.Equal(t, []string{"store", "broadcast", "notify"}, rec.steps)
	require.Len(t, st.records, 1)
	require.Len(t, obs.msgs, 1)

	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(obs.msgs[0], &env))
	assert.Equal(t, "alert", env.Type)
	assert.JSONEq(t, string(st.records[0]), string(env.Data))
}

func TestEmit_WarningIsNotForwarded(t *testing.T) {
	rec, st, obs, n := newFakes(1)
	p := New(st, obs, n)

	require.NoError(t, p.Emit(context.Background(), warning()))

	assert.Equal(t, []string{"store", "broadcast"}, rec.steps)
	assert.Empty(t, n.calls)
}

func TestEmit_NoObserversSkipsBroadcast(t *testing.T) {
	rec, st, obs, n := newFakes(0)
	p := New(st, obs, n)

	require.NoError(t, p.Emit(context.Background(), critical()))

	assert.Equal(t, []string{"store", "notify"}, rec.steps)
	assert.Empty(t, obs.msgs)
}

func TestEmit_NotifierFailureIsSwallowed(t *testing.T) {
	_, st, obs, n := newFakes(1)
	n.err = &model.UpstreamError{Upstream: "slack", Op: "notify", Err: errors.New("HTTP 500")}
	p := New(st, obs, n)

	assert.NoError(t, p.Emit(context.Background(), critical()))
	assert.Len(t, st.records, 1)
	assert.Len(t, obs.msgs, 1)
	assert.Len(t, n.calls, 1)
}

func TestEmit_StoreFailureStillBroadcasts(t *testing.T) {
	rec, st, obs, n := newFakes(1)
	st.err = &model.UpstreamError{Upstream: "redis", Op: "push", Err: errors.New("connection refused")}
	p := New(st, obs, n)

	err := p.Emit(context.Background(), critical())
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
	assert.Equal(t, []string{"store", "broadcast", "notify"}, rec.steps)
}

func TestEmit_StoreAtCapacity(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rs := store.NewRedisStore(rdb, "alerts", store.DefaultCapacity)
	for i := 0; i < store.DefaultCapacity; i++ {
		require.NoError(t, rs.PushFront(ctx, []byte(fmt.Sprintf(`{"n":%d}`, i))))
	}

	_, _, obs, n := newFakes(0)
	p := New(rs, obs, n)
	a := warning()
	require.NoError(t, p.Emit(ctx, a))

	size, err := rs.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, store.DefaultCapacity, size)

	list, err := mr.List("alerts")
	require.NoError(t, err)
	got, err := model.ParseRecord([]byte(list[0]))
	require.NoError(t, err)
	assert.Equal(t, a.Message, got.Message)
	assert.True(t, a.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, `{"n":1}`, list[len(list)-1])
}

func TestNew_DefaultNotifier(t *testing.T) {
	_, st, obs, _ := newFakes(0)
	p := New(st, obs, nil)
	assert.NoError(t, p.Emit(context.Background(), critical()))
}
