package api

import (
	"time"

	"github.com/arbi/kvengine/internal/product"
	"github.com/arbi/kvengine/pkg/kv"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type ReadyDTO struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
}

type KeysDTO struct {
	Pattern string   `json:"pattern"`
	Keys    []string `json:"keys"`
	Count   int      `json:"count"`
}

// KeyDTO renders a key by kind. TTLMs is -1 for keys without expiry.
type KeyDTO struct {
	Key   string  `json:"key"`
	Type  kv.Kind `json:"type"`
	TTLMs int64   `json:"ttlMs"`
	Value any     `json:"value"`
}

type DeletedDTO struct {
	Deleted int64 `json:"deleted"`
}

type StreamAppendRequest struct {
	Fields []kv.Field `json:"fields"`
}

type StreamIDDTO struct {
	ID string `json:"id"`
}

type StreamRecordDTO struct {
	ID     string     `json:"id"`
	Fields []kv.Field `json:"fields"`
}

type StreamRecordsDTO struct {
	Stream  string            `json:"stream"`
	Records []StreamRecordDTO `json:"records"`
}

type GroupDTO struct {
	Stream string `json:"stream"`
	Group  string `json:"group"`
	Start  string `json:"start"`
}

type PublishDTO struct {
	Channel   string `json:"channel"`
	Receivers int64  `json:"receivers"`
}

type ProductDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Price  string `json:"price"`
	TTLSec int64  `json:"ttlSec,omitempty"`
}

type ProductRequest struct {
	Name   string `json:"name"`
	Price  string `json:"price"`
	TTLSec int64  `json:"ttlSec"`
}

func toRecordDTOs(records []kv.StreamRecord) []StreamRecordDTO {
	out := make([]StreamRecordDTO, 0, len(records))
	for _, r := range records {
		out = append(out, StreamRecordDTO{ID: r.ID.String(), Fields: r.Fields})
	}
	return out
}

func toProductDTO(p product.Product) ProductDTO {
	return ProductDTO{
		ID:     p.ID,
		Name:   p.Name,
		Price:  p.Price.String(),
		TTLSec: int64(p.TTL / time.Second),
	}
}
