package infinity

import (
	"context"
	"strconv"
	"time"

	"github.com/orneryd/boutinf/pkg/motor"
	"github.com/orneryd/boutinf/pkg/predicate"
)

// PageSize is the default number of ids per page.
const PageSize = 20

// Page is one slice of query results, newest first.
type Page struct {
	IDs []uint64 `json:"ids"`
	// Next is the since token of the following page, 0 when there is none.
	Next uint64 `json:"next"`
}

// checkEvery is how many ids are walked between context checks.
const checkEvery = 256

// Messages evaluates q and returns the ids older than since, up to limit.
// since 0 starts from the newest message. limit 0 means the configured page
// size; larger limits are capped.
//
// Positions in the query, as in (limit 5), count from the newest match, so
// a page never changes what earlier pages saw.
func (i *Infinity) Messages(ctx context.Context, q string, since uint64, limit int) (Page, error) {
	if i.closed.Load() {
		return Page{}, ErrClosed
	}
	limit = i.limit(limit)
	start := time.Now()

	page, err := i.messages(ctx, q, since, limit)

	elapsed := time.Since(start)
	i.metrics.queryLatency.WithLabelValues(status(err)).Observe(elapsed.Seconds())
	i.log.LogQuery(ctx, q, len(page.IDs), elapsed, err)
	return page, err
}

func (i *Infinity) messages(ctx context.Context, q string, since uint64, limit int) (Page, error) {
	p, err := i.builder.Build(q)
	if err != nil {
		return Page{}, err
	}
	ids := make([]uint64, 0, limit)
	walked := 0
	for len(ids) < limit && p.HasNext() {
		id, err := p.Next()
		if err != nil {
			return Page{}, err
		}
		if walked++; walked%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Page{}, err
			}
		}
		if since != 0 && id >= since {
			continue
		}
		ids = append(ids, id)
	}
	page := Page{IDs: ids}
	if len(ids) == limit && p.HasNext() {
		page.Next = ids[len(ids)-1]
	}
	return page, nil
}

// Bouts evaluates q and returns the distinct bouts of the matching messages,
// ordered by their newest match, up to limit.
func (i *Infinity) Bouts(ctx context.Context, q string, limit int) ([]uint64, error) {
	if i.closed.Load() {
		return nil, ErrClosed
	}
	limit = i.limit(limit)
	start := time.Now()

	bouts, err := i.bouts(ctx, q, limit)

	elapsed := time.Since(start)
	i.metrics.queryLatency.WithLabelValues(status(err)).Observe(elapsed.Seconds())
	i.log.LogQuery(ctx, q, len(bouts), elapsed, err)
	return bouts, err
}

func (i *Infinity) bouts(ctx context.Context, q string, limit int) ([]uint64, error) {
	p, err := i.builder.Build(q)
	if err != nil {
		return nil, err
	}
	name := predicate.AttributeOf(motor.VarBoutNumber)
	seen := make(map[uint64]struct{})
	var out []uint64
	walked := 0
	for len(out) < limit && p.HasNext() {
		id, err := p.Next()
		if err != nil {
			return nil, err
		}
		if walked++; walked%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		v, ok := i.ray.Attr(id, name)
		if !ok {
			continue
		}
		bout, err := strconv.ParseUint(v, 10, 64)
		if err != nil || bout == 0 {
			continue
		}
		if _, dup := seen[bout]; dup {
			continue
		}
		seen[bout] = struct{}{}
		out = append(out, bout)
	}
	return out, nil
}

func (i *Infinity) limit(n int) int {
	switch {
	case n <= 0:
		if i.cfg.Query.PageSize > 0 {
			return i.cfg.Query.PageSize
		}
		return PageSize
	case n > i.cfg.Query.MaxLimit:
		return i.cfg.Query.MaxLimit
	}
	return n
}
