package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"

	domain "github.com/rede-afiliados/api/internal/domain"
	pfirestore "github.com/rede-afiliados/api/internal/platform/firestore"
	"github.com/rede-afiliados/api/internal/platform/pagination"
	"github.com/rede-afiliados/api/internal/repositories"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// pageNewestFirst runs query ordered by createdAt desc with a (createdAt, id) cursor token.
func pageNewestFirst[T any](ctx context.Context, op string, query firestore.Query, pager domain.Pagination, decode func(*firestore.DocumentSnapshot) (T, time.Time, error)) (domain.CursorPage[T], error) {
	size := pager.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)

	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Limit(size + 1)
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		createdAt, id, err := decodeCursor(token)
		if err != nil {
			return domain.CursorPage[T]{}, fmt.Errorf("%s: invalid page token: %w", op, err)
		}
		query = query.StartAfter(createdAt, id)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	type row struct {
		item      T
		id        string
		createdAt time.Time
	}
	var rows []row
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[T]{}, pfirestore.WrapError(op, err)
		}
		item, createdAt, err := decode(snap)
		if err != nil {
			return domain.CursorPage[T]{}, fmt.Errorf("%s: decode %s: %w", op, snap.Ref.ID, err)
		}
		rows = append(rows, row{item: item, id: snap.Ref.ID, createdAt: createdAt})
	}

	page := domain.CursorPage[T]{Items: make([]T, 0, min(len(rows), size))}
	if len(rows) > size {
		last := rows[size-1]
		token, err := encodeCursor(last.createdAt, last.id)
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		page.NextPageToken = token
		rows = rows[:size]
	}
	for _, r := range rows {
		page.Items = append(page.Items, r.item)
	}
	return page, nil
}

func encodeCursor(createdAt time.Time, id string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), id},
	})
}

func decodeCursor(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	rawTime, okTime := cursor.StartAfter[0].(string)
	id, okID := cursor.StartAfter[1].(string)
	if !okTime || !okID {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", pagination.ErrInvalidPageToken
	}
	return createdAt, id, nil
}

// collect decodes every document the query returns.
func collect[T any](ctx context.Context, op string, query firestore.Query, decode func(*firestore.DocumentSnapshot) (T, error)) ([]T, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, pfirestore.WrapError(op, err)
		}
		item, err := decode(snap)
		if err != nil {
			return nil, fmt.Errorf("%s: decode %s: %w", op, snap.Ref.ID, err)
		}
		out = append(out, item)
	}
}

// count runs a server-side COUNT aggregation.
func count(ctx context.Context, op string, query firestore.Query) (int, error) {
	result, err := query.NewAggregationQuery().WithCount("total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError(op, err)
	}
	raw, ok := result["total"]
	if !ok {
		return 0, fmt.Errorf("%s: count missing from aggregation result", op)
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected count type %T", op, raw)
	}
	return int(value.GetIntegerValue()), nil
}

func sum(ctx context.Context, op string, query firestore.Query, field string) (int64, error) {
	result, err := query.NewAggregationQuery().WithSum(field, "total").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError(op, err)
	}
	value, ok := result["total"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("%s: unexpected sum type %T", op, result["total"])
	}
	// integer sums overflow into doubles
	if _, isDouble := value.GetValueType().(*firestorepb.Value_DoubleValue); isDouble {
		return int64(value.GetDoubleValue()), nil
	}
	return value.GetIntegerValue(), nil
}

// notFound converts Firestore NotFound into the shared repository error.
func notFound(err error, op, format string, args ...any) error {
	wrapped := pfirestore.WrapError(op, err)
	if repositories.IsNotFound(wrapped) {
		return repositories.NewNotFoundError(op, format, args...)
	}
	return wrapped
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
