// Package paging walks page-numbered list endpoints.
package paging

import (
	"context"
	"encoding/json"
	"iter"
	"maps"
	"strconv"
	"strings"
)

// FetchFunc fetches one page with the given parameters.
type FetchFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// Options controls how pages are requested.
type Options struct {
	PageParam string
	SizeParam string
	StartPage int
	MaxPages  int
}

// DefaultOptions matches the tour-data API's parameter names.
func DefaultOptions() Options {
	return Options{
		PageParam: "page_no",
		SizeParam: "num_of_rows",
		StartPage: 1,
		MaxPages:  5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PageParam == "" {
		o.PageParam = d.PageParam
	}
	if o.SizeParam == "" {
		o.SizeParam = d.SizeParam
	}
	if o.StartPage < 1 {
		o.StartPage = d.StartPage
	}
	if o.MaxPages < 1 {
		o.MaxPages = d.MaxPages
	}
	return o
}

// Pages returns a sequence of raw page responses. It stops after MaxPages,
// when the counters in response.body say the last page was reached, or
// when those counters are missing. A fetch error is yielded once and ends
// the sequence.
func Pages(ctx context.Context, fetch FetchFunc, base map[string]any, opts Options) iter.Seq2[map[string]any, error] {
	opts = opts.withDefaults()
	return func(yield func(map[string]any, error) bool) {
		params := maps.Clone(base)
		if params == nil {
			params = map[string]any{}
		}
		page := opts.StartPage
		if v, ok := asInt(params[opts.PageParam]); ok && v > 0 {
			page = v
		}

		for i := 0; i < opts.MaxPages; i++ {
			if ctx.Err() != nil {
				return
			}
			params[opts.PageParam] = page

			resp, err := fetch(ctx, maps.Clone(params))
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(resp, nil) {
				return
			}

			total, pageNo, size, ok := counters(resp)
			if !ok || size <= 0 || pageNo*size >= total {
				return
			}
			page++
		}
	}
}

// counters reads response.body.{totalCount,pageNo,numOfRows}.
func counters(resp map[string]any) (total, pageNo, size int, ok bool) {
	body := Body(resp)
	if body == nil {
		return 0, 0, 0, false
	}
	var okTotal, okPage, okSize bool
	total, okTotal = asInt(body["totalCount"])
	pageNo, okPage = asInt(body["pageNo"])
	size, okSize = asInt(body["numOfRows"])
	return total, pageNo, size, okTotal && okPage && okSize
}

// Body returns response.body, or nil when the envelope is not as expected.
func Body(resp map[string]any) map[string]any {
	r, _ := resp["response"].(map[string]any)
	if r == nil {
		return nil
	}
	b, _ := r["body"].(map[string]any)
	return b
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}
