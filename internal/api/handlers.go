package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arbi/kvengine/internal/product"
	"github.com/arbi/kvengine/internal/ws"
	"github.com/arbi/kvengine/pkg/kv"
)

const (
	maxBodyBytes     = 1 << 20
	defaultReadCount = 100
	readyTimeout     = 2 * time.Second
)

// activeBackend is implemented by the failover store
type activeBackend interface {
	GetActiveBackend() string
}

type Handler struct {
	store      kv.Store
	products   *product.Service
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	logger     *zap.SugaredLogger
}

func NewHandler(
	store kv.Store,
	products *product.Service,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	logger *zap.SugaredLogger,
) *Handler {
	return &Handler{
		store:      store,
		products:   products,
		wsHub:      wsHub,
		sseHandler: sseHandler,
		logger:     logger,
	}
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	dto := ReadyDTO{Status: "ready"}
	if ab, ok := h.store.(activeBackend); ok {
		dto.Backend = ab.GetActiveBackend()
	}
	if err := h.store.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, dto)
}

// Keys

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	keys, err := h.store.Keys(r.Context(), pattern)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	h.writeJSON(w, http.StatusOK, KeysDTO{Pattern: pattern, Keys: keys, Count: len(keys)})
}

func (h *Handler) GetKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := pathParam(r, "key")

	kind, err := h.store.Type(ctx, key)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if kind == kv.KindNone {
		h.writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "key "+key+" does not exist")
		return
	}

	value, err := h.readValue(ctx, key, kind)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	ttl, err := h.store.TTL(ctx, key)
	if err != nil {
		// expired between the reads
		h.writeStoreError(w, err)
		return
	}
	ttlMs := int64(-1)
	if ttl >= 0 {
		ttlMs = ttl.Milliseconds()
	}

	h.writeJSON(w, http.StatusOK, KeyDTO{Key: key, Type: kind, TTLMs: ttlMs, Value: value})
}

func (h *Handler) readValue(ctx context.Context, key string, kind kv.Kind) (any, error) {
	switch kind {
	case kv.KindString:
		return h.store.GetString(ctx, key)
	case kv.KindHash:
		fields, err := h.store.HGetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		out := make(map[string]string, len(fields))
		for f, v := range fields {
			out[f] = string(v)
		}
		return out, nil
	case kv.KindSet:
		members, err := h.store.SMembers(ctx, key)
		if err != nil {
			return nil, err
		}
		return stringsOf(members), nil
	case kv.KindList:
		values, err := h.store.LRange(ctx, key, 0, -1)
		if err != nil {
			return nil, err
		}
		return stringsOf(values), nil
	case kv.KindZSet:
		return h.store.ZRange(ctx, key, 0, -1)
	case kv.KindStream:
		records, err := h.store.XRange(ctx, key, "-", "+", defaultReadCount)
		if err != nil {
			return nil, err
		}
		return toRecordDTOs(records), nil
	case kv.KindHyperLogLog:
		return h.store.PFCount(ctx, key)
	}
	return nil, kv.ErrWrongType
}

// pathParam returns the unescaped route parameter so keys may carry
// reserved characters
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func stringsOf(values [][]byte) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}

// PutKey stores the request body as a string value. The optional ttl query
// parameter is a Go duration.
func (h *Handler) PutKey(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")

	var ttl []time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			h.writeError(w, http.StatusBadRequest, "INVALID_TTL", "ttl must be a positive duration such as 30s")
			return
		}
		ttl = append(ttl, d)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := h.store.Set(r.Context(), key, body, ttl...); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")
	n, err := h.store.Del(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if n == 0 {
		h.writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "key "+key+" does not exist")
		return
	}
	h.writeJSON(w, http.StatusOK, DeletedDTO{Deleted: n})
}

// Streams

func (h *Handler) AppendStream(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")

	var req StreamAppendRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if len(req.Fields) == 0 {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", "at least one field is required")
		return
	}

	id, err := h.store.XAdd(r.Context(), key, req.Fields)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, StreamIDDTO{ID: id.String()})
}

func (h *Handler) RangeStream(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")
	q := r.URL.Query()

	start, end := q.Get("start"), q.Get("end")
	if start == "" {
		start = "-"
	}
	if end == "" {
		end = "+"
	}
	count, ok := h.parseCount(w, q.Get("count"))
	if !ok {
		return
	}

	records, err := h.store.XRange(r.Context(), key, start, end, count)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StreamRecordsDTO{Stream: key, Records: toRecordDTOs(records)})
}

// CreateGroup creates a consumer group. start defaults to "0" so the group
// sees the whole stream; "$" only sees records appended afterwards.
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")
	group := pathParam(r, "group")
	start := r.URL.Query().Get("start")
	if start == "" {
		start = "0"
	}

	if err := h.store.XGroupCreate(r.Context(), key, group, start); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, GroupDTO{Stream: key, Group: group, Start: start})
}

func (h *Handler) ReadGroup(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "key")
	q := r.URL.Query()

	consumer := q.Get("consumer")
	if consumer == "" {
		h.writeError(w, http.StatusBadRequest, "MISSING_CONSUMER", "consumer query parameter is required")
		return
	}
	from := q.Get("from")
	if from == "" {
		from = kv.LastConsumed
	}
	count, ok := h.parseCount(w, q.Get("count"))
	if !ok {
		return
	}

	records, err := h.store.XReadGroup(r.Context(), kv.XReadGroupArgs{
		Stream:   key,
		Group:    pathParam(r, "group"),
		Consumer: consumer,
		From:     from,
		Count:    count,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, StreamRecordsDTO{Stream: key, Records: toRecordDTOs(records)})
}

func (h *Handler) parseCount(w http.ResponseWriter, raw string) (int64, bool) {
	if raw == "" {
		return defaultReadCount, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		h.writeError(w, http.StatusBadRequest, "INVALID_COUNT", "count must be a positive integer")
		return 0, false
	}
	return n, true
}

// Pub/Sub

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	channel := pathParam(r, "channel")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	n, err := h.store.Publish(r.Context(), channel, body)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, PublishDTO{Channel: channel, Receivers: n})
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// SSE endpoint
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseHandler.HandleSSE(w, r)
}

// Products

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetProduct(r.Context(), pathParam(r, "id"))
	if err != nil {
		h.writeProductError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toProductDTO(p))
}

func (h *Handler) PutProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "INVALID_PRICE", "price must be a decimal string")
		return
	}

	p, err := h.products.Save(r.Context(), product.Product{
		ID:    pathParam(r, "id"),
		Name:  req.Name,
		Price: price,
		TTL:   time.Duration(req.TTLSec) * time.Second,
	})
	if err != nil {
		h.writeProductError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toProductDTO(p))
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.products.Delete(r.Context(), pathParam(r, "id")); err != nil {
		h.writeProductError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EvictProduct drops the cached copy only
func (h *Handler) EvictProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.products.Remove(r.Context(), pathParam(r, "id")); err != nil {
		h.writeProductError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeProductError(w http.ResponseWriter, err error) {
	switch {
	case product.IsNotFound(err):
		h.writeError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", err.Error())
	case errors.Is(err, product.ErrInvalid):
		h.writeError(w, http.StatusBadRequest, "INVALID_PRODUCT", err.Error())
	default:
		h.writeStoreError(w, err)
	}
}

// Utility methods

// storeErrorStatus maps engine errors onto HTTP statuses
func storeErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, kv.ErrNoGroup):
		return http.StatusNotFound, "NO_GROUP"
	case errors.Is(err, kv.ErrWrongType):
		return http.StatusConflict, "WRONG_TYPE"
	case errors.Is(err, kv.ErrGroupExists):
		return http.StatusConflict, "GROUP_EXISTS"
	case errors.Is(err, kv.ErrConflict):
		return http.StatusConflict, "TX_CONFLICT"
	case errors.Is(err, kv.ErrSyntax), errors.Is(err, kv.ErrInvalidID), errors.Is(err, kv.ErrNotInteger):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, kv.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	status, code := storeErrorStatus(err)
	h.writeError(w, status, code, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}

	h.writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
