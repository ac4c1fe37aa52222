package tree

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// resultIterator is the part of neo4j.ResultWithContext the mirror reads.
type resultIterator interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// sessionRunner is the part of neo4j.SessionWithContext the mirror drives.
type sessionRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (resultIterator, error)
	Close(ctx context.Context) error
}

type sessionFactory func(ctx context.Context) sessionRunner

type boltSession struct {
	session neo4j.SessionWithContext
}

func (b *boltSession) Run(ctx context.Context, cypher string, params map[string]any) (resultIterator, error) {
	return b.session.Run(ctx, cypher, params)
}

func (b *boltSession) Close(ctx context.Context) error {
	return b.session.Close(ctx)
}

func newNeo4jSessionFactory(driver neo4j.DriverWithContext) sessionFactory {
	return func(ctx context.Context) sessionRunner {
		return &boltSession{session: driver.NewSession(ctx, neo4j.SessionConfig{})}
	}
}
