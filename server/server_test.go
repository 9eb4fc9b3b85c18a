package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pingDB answers the readiness query and nothing else
type pingDB struct {
	err error
}

type pingRow struct {
	err error
}

func (r pingRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if p, ok := dest[0].(*int); ok {
		*p = 1
	}
	return nil
}

func (d *pingDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return pingRow{err: d.err}
}

func (d *pingDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (d *pingDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}

func (d *pingDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}

type staticFilter struct {
	ready atomic.Bool
}

func (f *staticFilter) Ready() bool { return f.ready.Load() }

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestReadyState(t *testing.T) {
	filter := &staticFilter{}
	readyState := NewReadyState(&pingDB{}, nil, filter)

	t.Run("Initial state should be not ready", func(t *testing.T) {
		assert.False(t, readyState.IsFullyReady())
		assert.False(t, readyState.IsDatabaseReady())
		assert.False(t, readyState.IsRedisReady())
		assert.False(t, readyState.IsFilterReady())
	})

	t.Run("Mark components ready individually", func(t *testing.T) {
		readyState.MarkDatabaseReady()
		assert.True(t, readyState.IsDatabaseReady())
		assert.False(t, readyState.IsFullyReady())

		readyState.MarkRedisReady()
		assert.True(t, readyState.IsRedisReady())
		assert.False(t, readyState.IsFullyReady())

		filter.ready.Store(true)
		assert.True(t, readyState.IsFilterReady())
		assert.True(t, readyState.IsFullyReady())
	})

	t.Run("Nil filter is never ready", func(t *testing.T) {
		assert.False(t, NewReadyState(nil, nil, nil).IsFilterReady())
	})
}

func TestReadyStateProbe(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	component, err := NewReadyState(&pingDB{}, rdb, nil).Probe(ctx)
	require.NoError(t, err)
	assert.Empty(t, component)

	component, err = NewReadyState(&pingDB{err: errors.New("connection refused")}, rdb, nil).Probe(ctx)
	require.Error(t, err)
	assert.Equal(t, "database", component)

	component, err = NewReadyState(nil, rdb, nil).Probe(ctx)
	require.Error(t, err)
	assert.Equal(t, "database", component)

	mr.SetError("LOADING")
	component, err = NewReadyState(&pingDB{}, rdb, nil).Probe(ctx)
	require.Error(t, err)
	assert.Equal(t, "redis", component)
}

func TestCreateFiberApp(t *testing.T) {
	_, rdb := newRedis(t)
	filter := &staticFilter{}
	readyState := NewReadyState(&pingDB{}, rdb, filter)

	app := CreateFiberApp(time.Now(), readyState)
	require.NotNil(t, app)

	t.Run("Health endpoint", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "ok", decodeBody(t, resp)["status"])
	})

	t.Run("Health live endpoint should work", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health/live", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	})

	t.Run("Ready reports components while initializing", func(t *testing.T) {
		readyState.MarkDatabaseReady()

		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health/ready", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, 503, resp.StatusCode)

		body := decodeBody(t, resp)
		assert.Equal(t, "initializing", body["status"])
		assert.Equal(t, true, body["database_ready"])
		assert.Equal(t, false, body["redis_ready"])
		assert.Equal(t, false, body["filter_ready"])
	})

	t.Run("Ready once every component is up", func(t *testing.T) {
		readyState.MarkRedisReady()
		filter.ready.Store(true)

		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health/ready", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "ready", decodeBody(t, resp)["status"])
	})

	t.Run("Unknown routes use the JSON error handler", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/nope", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, 404, resp.StatusCode)
		assert.Contains(t, decodeBody(t, resp), "error")
	})
}

func TestCreateFiberAppHidesInternalErrors(t *testing.T) {
	app := CreateFiberApp(time.Now(), NewReadyState(nil, nil, nil))
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("pq: password authentication failed")
	})
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("unexpected")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "Internal Server Error", decodeBody(t, resp)["error"])

	resp, err = app.Test(httptest.NewRequest("GET", "/panic", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
}

func TestFiberResponseWriter(t *testing.T) {
	app := fiber.New()

	t.Run("WriteHeader sets status code", func(t *testing.T) {
		app.Get("/status", func(c *fiber.Ctx) error {
			writer := NewFiberResponseWriter(c)
			writer.WriteHeader(201)
			_, err := writer.Write([]byte("created"))
			return err
		})

		resp, err := app.Test(httptest.NewRequest("GET", "/status", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, 201, resp.StatusCode)
	})

	t.Run("Header modification works", func(t *testing.T) {
		app.Get("/headers", func(c *fiber.Ctx) error {
			writer := NewFiberResponseWriter(c)
			writer.Header().Set("X-Custom-Header", "test-value")
			_, err := writer.Write([]byte("ok"))
			return err
		})

		resp, err := app.Test(httptest.NewRequest("GET", "/headers", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, "test-value", resp.Header.Get("X-Custom-Header"))
	})
}

func TestHTTPHandler(t *testing.T) {
	app := fiber.New()
	app.Get("/std", HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, r.URL.Query().Get("q")+" "+r.Header.Get("X-Echo"))
	})))
	app.Get("/empty", HTTPHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest("GET", "/std?q=hello", nil)
	req.Header.Set("X-Echo", "world")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello world", string(body))

	resp, err = app.Test(httptest.NewRequest("GET", "/empty", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestMetricsHandler(t *testing.T) {
	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func BenchmarkReadyStateCheck(b *testing.B) {
	filter := &staticFilter{}
	filter.ready.Store(true)
	readyState := NewReadyState(nil, nil, filter)
	readyState.MarkDatabaseReady()
	readyState.MarkRedisReady()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = readyState.IsFullyReady()
	}
}
