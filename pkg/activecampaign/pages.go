package activecampaign

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/activecampaign-client/pkg/client"
	"github.com/Sternrassler/activecampaign-client/pkg/pagination"
)

// collectionPage is one decoded page of a collection endpoint.
type collectionPage[T any] struct {
	elements []T
	total    int
}

func (p collectionPage[T]) Total() int { return p.total }
func (p collectionPage[T]) Elements() []T { return p.elements }

type pageMeta struct {
	Total FlexInt `json:"total"`
}

// decodePage reads {"<key>": [...], "meta": {"total": "N"}}. A missing
// key is an empty page.
func decodePage[T any](body []byte, key string) (collectionPage[T], error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return collectionPage[T]{}, fmt.Errorf("decode %s page: %w", key, err)
	}

	var page collectionPage[T]
	if data, ok := raw[key]; ok {
		if err := json.Unmarshal(data, &page.elements); err != nil {
			return collectionPage[T]{}, fmt.Errorf("decode %s: %w", key, err)
		}
	}
	if data, ok := raw["meta"]; ok {
		var meta pageMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return collectionPage[T]{}, fmt.Errorf("decode %s meta: %w", key, err)
		}
		page.total = meta.Total.Int()
	}
	return page, nil
}

// collectionSource serves pages of the collection at path. The JSON key
// holding the elements equals the resource name.
func collectionSource[T any](api *client.Client, path, key string) pagination.PageFetcherFunc[T] {
	return func(ctx context.Context, req pagination.PageRequest) (pagination.Page[T], error) {
		target := fmt.Sprintf("%s?limit=%d&offset=%d%s", path, req.Limit, req.Offset, req.Filter)
		resp, err := api.Get(ctx, target)
		if err != nil {
			return nil, err
		}
		page, err := decodePage[T](resp.Body, key)
		if err != nil {
			return nil, err
		}
		return page, nil
	}
}
