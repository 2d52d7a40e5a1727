package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arbi/kvengine/internal/product"
	"github.com/arbi/kvengine/internal/ws"
	"github.com/arbi/kvengine/pkg/kv"
	"github.com/arbi/kvengine/pkg/kv/memory"
)

type testServer struct {
	store  *memory.Store
	router http.Handler
}

func newTestServer(t *testing.T, rateLimitRPM int) *testServer {
	t.Helper()
	logger := zap.NewNop().Sugar()
	store := memory.New(0)
	t.Cleanup(func() { store.Close() })

	products := product.NewService(product.NewRepository(store, logger), store, time.Minute, nil, logger)
	handler := NewHandler(store, products, ws.NewHub(store, logger, nil, nil), ws.NewSSEHandler(store, logger), logger)
	router := handler.Routes(NewMiddleware(logger, nil), []string{"http://localhost:3000"}, rateLimitRPM, nil)
	return &testServer{store: store, router: router}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody[ReadyDTO](t, rec).Status)
}

func TestStringKeyLifecycle(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPut, "/v1/keys/greeting?ttl=1m", "hello")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/keys/greeting", "")
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeBody[KeyDTO](t, rec)
	assert.Equal(t, kv.KindString, dto.Type)
	assert.Equal(t, "hello", dto.Value)
	assert.Greater(t, dto.TTLMs, int64(0))
	assert.LessOrEqual(t, dto.TTLMs, time.Minute.Milliseconds())

	rec = s.do(t, http.MethodPut, "/v1/keys/plain", "x")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/keys/plain", "")
	assert.Equal(t, int64(-1), decodeBody[KeyDTO](t, rec).TTLMs)

	rec = s.do(t, http.MethodDelete, "/v1/keys/greeting", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decodeBody[DeletedDTO](t, rec).Deleted)

	rec = s.do(t, http.MethodGet, "/v1/keys/greeting", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "KEY_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodDelete, "/v1/keys/greeting", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutKeyRejectsBadTTL(t *testing.T) {
	s := newTestServer(t, 0)

	for _, ttl := range []string{"soon", "-1s", "0s"} {
		rec := s.do(t, http.MethodPut, "/v1/keys/k?ttl="+ttl, "v")
		assert.Equal(t, http.StatusBadRequest, rec.Code, ttl)
	}
}

func TestGetKeyRendersEachKind(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, 0)

	require.NoError(t, s.store.HMSet(ctx, "h", map[string][]byte{"a": []byte("1")}))
	_, err := s.store.RPush(ctx, "l", []byte("x"), []byte("y"))
	require.NoError(t, err)
	_, err = s.store.ZAdd(ctx, "z", kv.Z{Member: "m", Score: 2})
	require.NoError(t, err)
	_, err = s.store.PFAdd(ctx, "hll", "a", "b", "c")
	require.NoError(t, err)

	tests := []struct {
		key  string
		kind kv.Kind
		want string
	}{
		{"h", kv.KindHash, `{"a":"1"}`},
		{"l", kv.KindList, `["x","y"]`},
		{"z", kv.KindZSet, `[{"member":"m","score":2}]`},
		{"hll", kv.KindHyperLogLog, `3`},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/v1/keys/"+tt.key, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var dto struct {
				Type  kv.Kind         `json:"type"`
				Value json.RawMessage `json:"value"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
			assert.Equal(t, tt.kind, dto.Type)
			assert.JSONEq(t, tt.want, string(dto.Value))
		})
	}
}

func TestListKeys(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, 0)
	for _, k := range []string{"user:1", "user:2", "order:1"} {
		require.NoError(t, s.store.SetString(ctx, k, "v"))
	}

	rec := s.do(t, http.MethodGet, "/v1/keys?pattern=user:*", "")
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeBody[KeysDTO](t, rec)
	assert.Equal(t, []string{"user:1", "user:2"}, dto.Keys)
	assert.Equal(t, 2, dto.Count)

	rec = s.do(t, http.MethodGet, "/v1/keys?pattern=none:*", "")
	assert.Equal(t, []string{}, decodeBody[KeysDTO](t, rec).Keys)
}

func TestWrongTypeIsConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, 0)
	require.NoError(t, s.store.SetString(ctx, "s", "v"))

	rec := s.do(t, http.MethodPost, "/v1/streams/s", `{"fields":[{"name":"a","value":"1"}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "WRONG_TYPE", decodeBody[ErrorResponse](t, rec).Code)
}

func TestStreamConsumerGroupFlow(t *testing.T) {
	s := newTestServer(t, 0)

	for _, amount := range []string{"100", "200", "300"} {
		rec := s.do(t, http.MethodPost, "/v1/streams/orders", `{"fields":[{"name":"id","value":"o"},{"name":"amount","value":"`+amount+`"}]}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.NotEmpty(t, decodeBody[StreamIDDTO](t, rec).ID)
	}

	rec := s.do(t, http.MethodGet, "/v1/streams/orders/groups/g?consumer=c1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NO_GROUP", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/v1/streams/orders/groups/g", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "0", decodeBody[GroupDTO](t, rec).Start)

	rec = s.do(t, http.MethodPost, "/v1/streams/orders/groups/g", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/streams/orders/groups/g?consumer=c1&count=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeBody[StreamRecordsDTO](t, rec)
	require.Len(t, first.Records, 2)
	assert.Equal(t, []kv.Field{{Name: "id", Value: "o"}, {Name: "amount", Value: "100"}}, first.Records[0].Fields)

	rec = s.do(t, http.MethodGet, "/v1/streams/orders/groups/g?consumer=c2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody[StreamRecordsDTO](t, rec)
	require.Len(t, second.Records, 1)
	v, _ := kv.StreamRecord{Fields: second.Records[0].Fields}.Value("amount")
	assert.Equal(t, "300", v)

	rec = s.do(t, http.MethodGet, "/v1/streams/orders/groups/g?consumer=c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[StreamRecordsDTO](t, rec).Records)

	rec = s.do(t, http.MethodGet, "/v1/streams/orders?count=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[StreamRecordsDTO](t, rec).Records, 3)

	rec = s.do(t, http.MethodGet, "/v1/streams/orders/groups/g?consumer=c1&count=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/streams/orders/groups/g", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppendStreamValidation(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/v1/streams/x", `{"fields":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodPost, "/v1/streams/x", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPost, "/v1/pubsub/news", "nobody")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[PublishDTO](t, rec).Receivers)

	sub, err := s.store.Subscribe(ctx, "news")
	require.NoError(t, err)
	defer sub.Close()

	rec = s.do(t, http.MethodPost, "/v1/pubsub/news", "hello")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decodeBody[PublishDTO](t, rec).Receivers)

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "hello", string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestProductEndpoints(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/v1/products/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PRODUCT_NOT_FOUND", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPut, "/v1/products/1", `{"name":"Kopi","price":"20000"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ProductDTO{ID: "1", Name: "Kopi", Price: "20000"}, decodeBody[ProductDTO](t, rec))

	rec = s.do(t, http.MethodGet, "/v1/products/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Kopi", decodeBody[ProductDTO](t, rec).Name)

	rec = s.do(t, http.MethodGet, "/v1/keys/products::1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/v1/products/1/cache", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/keys/products::1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// eviction keeps the stored product
	rec = s.do(t, http.MethodGet, "/v1/products/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/v1/products/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/products/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodDelete, "/v1/products/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutProductValidation(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPut, "/v1/products/1", `{"name":"x","price":"cheap"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PRICE", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPut, "/v1/products/1", `{"name":"x","price":"-5"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PRODUCT", decodeBody[ErrorResponse](t, rec).Code)
}

func TestEscapedKeys(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodPut, "/v1/keys/a%20b", "v")
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := s.store.GetString(context.Background(), "a b")
	assert.NoError(t, err)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, 6) // burst of one

	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, 0)

	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "abc")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(requestIDHeader))
}

func TestRecovererReturns500(t *testing.T) {
	m := NewMiddleware(zap.NewNop().Sugar(), nil)
	h := m.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStoreErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{kv.ErrNotFound, http.StatusNotFound},
		{kv.ErrWrongType, http.StatusConflict},
		{kv.ErrInvalidID, http.StatusBadRequest},
		{kv.ErrBackendUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := storeErrorStatus(tt.err)
		assert.Equal(t, tt.want, status, tt.err.Error())
	}
}
