package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-identity-transfer/core"
)

type RunHistoryReader interface {
	ListRuns(ctx context.Context, phase core.Phase, limit int) ([]core.RunReport, error)
}

type UserReader interface {
	Get(ctx context.Context, id string) (core.UserRecord, error)
}

type ListRunsQuery struct {
	reader RunHistoryReader
}

func NewListRunsQuery(reader RunHistoryReader) *ListRunsQuery {
	return &ListRunsQuery{reader: reader}
}

func (q *ListRunsQuery) Query(ctx context.Context, msg ListRunsMessage) ([]core.RunReport, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: run history reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListRuns(ctx, msg.Phase, msg.Limit)
}

type GetUserQuery struct {
	reader UserReader
}

func NewGetUserQuery(reader UserReader) *GetUserQuery {
	return &GetUserQuery{reader: reader}
}

func (q *GetUserQuery) Query(ctx context.Context, msg GetUserMessage) (core.UserRecord, error) {
	if q == nil || q.reader == nil {
		return core.UserRecord{}, queryDependencyError("query: user reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.UserRecord{}, err
	}
	return q.reader.Get(ctx, strings.TrimSpace(msg.ID))
}
