package connector

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"backoffice-sync/internal/mapping"
)

const (
	defaultPageSize   = 100
	defaultMaxRecords = 10000
)

// Paginator fetches every page of a mapped entity source. The three
// strategies (offset, cursor, page-number) share one contract: repeatedly
// execute the request, map each page's records, and stop on the mapping's
// stop condition. Any empty page also stops the loop, so a misbehaving
// vendor can never cause an infinite one.
type Paginator struct {
	exec   *Executor
	engine *mapping.Engine
	logger *zap.SugaredLogger
}

func NewPaginator(exec *Executor, engine *mapping.Engine, logger *zap.SugaredLogger) *Paginator {
	return &Paginator{exec: exec, engine: engine, logger: logger}
}

// Executor exposes the underlying retry executor for unpaginated calls.
func (p *Paginator) Executor() *Executor { return p.exec }

// FetchAll walks every page of em's source and returns the mapped records,
// capped at the configured maximum. A nil pagination config fetches exactly
// one page.
func (p *Paginator) FetchAll(ctx context.Context, base *RequestDescriptor, em *mapping.EntityMapping, build mapping.RecordFunc) ([]interface{}, error) {
	cfg := em.Pagination
	if cfg == nil {
		resp, err := p.exec.Do(ctx, base)
		if err != nil {
			return nil, err
		}
		return p.engine.MapTree(resp.Data, em, build), nil
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	maxRecords := cfg.MaxRecords
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}

	var results []interface{}
	offset := 0
	page := 1
	cursor := ""
	rawCount := 0

	for {
		req := cloneDescriptor(base)
		switch cfg.Type {
		case mapping.PaginationOffset:
			req.Query[paramName(cfg.OffsetParam, "offset")] = strconv.Itoa(offset)
			req.Query[paramName(cfg.LimitParam, "limit")] = strconv.Itoa(pageSize)
		case mapping.PaginationPage:
			req.Query[paramName(cfg.PageParam, "page")] = strconv.Itoa(page)
			req.Query[paramName(cfg.LimitParam, "limit")] = strconv.Itoa(pageSize)
		case mapping.PaginationCursor:
			req.Query[paramName(cfg.LimitParam, "limit")] = strconv.Itoa(pageSize)
			if cursor != "" {
				req.Query[paramName(cfg.CursorParam, "cursor")] = cursor
			}
		default:
			return nil, fmt.Errorf("unknown pagination type %q", cfg.Type)
		}

		resp, err := p.exec.Do(ctx, req)
		if err != nil {
			return nil, err
		}

		items := p.engine.Locate(resp.Data, em)
		got := len(items)
		if got == 0 {
			break
		}

		if rawCount+got > maxRecords {
			items = items[:maxRecords-rawCount]
		}
		results = append(results, p.engine.MapItems(items, em, build, rawCount)...)
		rawCount += got

		if rawCount >= maxRecords {
			p.logger.Warnf("Pagination for %s truncated at %d records", em.Source, maxRecords)
			break
		}

		switch cfg.Type {
		case mapping.PaginationOffset, mapping.PaginationPage:
			if got < pageSize {
				return results, nil
			}
			if !hasMore(resp.Data, cfg.HasMorePath) {
				return results, nil
			}
			offset += got
			page++
		case mapping.PaginationCursor:
			cursor = nextCursor(resp.Data, cfg.NextCursorPath)
			if cursor == "" {
				return results, nil
			}
		}
	}

	return results, nil
}

// hasMore evaluates the optional has-more indicator; an absent path or
// unresolvable value means "assume more" and rely on the page-size check.
func hasMore(tree interface{}, path string) bool {
	if path == "" {
		return true
	}
	value, ok := evalResponsePath(tree, path)
	if !ok {
		return true
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1" || v == "yes"
	case float64:
		return v != 0
	}
	return true
}

func nextCursor(tree interface{}, path string) string {
	if path == "" {
		return ""
	}
	value, ok := evalResponsePath(tree, path)
	if !ok {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// evalResponsePath walks a dotted path through the parsed response tree.
func evalResponsePath(tree interface{}, path string) (interface{}, bool) {
	return mapping.EvalPath(tree, path)
}

func cloneDescriptor(base *RequestDescriptor) *RequestDescriptor {
	clone := *base
	clone.Query = make(map[string]string, len(base.Query)+2)
	for name, value := range base.Query {
		clone.Query[name] = value
	}
	if clone.Headers != nil {
		headers := make(map[string]string, len(base.Headers))
		for name, value := range base.Headers {
			headers[name] = value
		}
		clone.Headers = headers
	}
	return &clone
}

func paramName(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
