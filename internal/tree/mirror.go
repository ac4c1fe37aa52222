package tree

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/matijazezelj/arbor/pkg/models"
)

const mirrorBatchSize = 500

// Mirror projects forests into a Bolt-compatible graph database (Memgraph,
// Neo4j) as (:TreeNode)-[:CHILD_OF]->(:TreeNode). The relational store stays
// the source of truth; a mirror is rebuilt wholesale on every sync.
type Mirror struct {
	driver     neo4j.DriverWithContext
	newSession sessionFactory
	logger     *slog.Logger
}

// NewMirror connects to uri and verifies connectivity.
func NewMirror(uri, username, password string, logger *slog.Logger) (*Mirror, error) {
	auth := neo4j.NoAuth()
	if username != "" {
		auth = neo4j.BasicAuth(username, password, "")
	}

	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("creating graph driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("graph connectivity check failed: %w", err)
	}

	logger.Info("graph mirror connected", "uri", uri)
	return &Mirror{
		driver:     driver,
		newSession: newNeo4jSessionFactory(driver),
		logger:     logger,
	}, nil
}

// Close closes the driver connection.
func (m *Mirror) Close() error {
	return m.driver.Close(context.Background())
}

// Count returns the number of mirrored nodes of kind.
func (m *Mirror) Count(ctx context.Context, kind models.Kind) (int64, error) {
	session := m.newSession(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	result, err := session.Run(ctx, `MATCH (n:TreeNode {kind: $kind}) RETURN count(n) AS c`,
		map[string]any{"kind": string(kind)})
	if err != nil {
		return 0, fmt.Errorf("counting mirrored nodes: %w", err)
	}

	var count int64
	if result.Next(ctx) {
		if v, ok := result.Record().Get("c"); ok {
			count, _ = v.(int64)
		}
	}
	if err := result.Err(); err != nil {
		return 0, fmt.Errorf("reading count: %w", err)
	}
	return count, nil
}

// SyncForest replaces the mirrored nodes of kind with forest and returns
// the number of nodes written.
func SyncForest[N models.Noder](ctx context.Context, m *Mirror, kind models.Kind, forest []*models.Tree[N]) (int, error) {
	session := m.newSession(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	m.logger.Info("clearing mirrored tree", "kind", kind)
	if _, err := session.Run(ctx, `MATCH (n:TreeNode {kind: $kind}) DETACH DELETE n`,
		map[string]any{"kind": string(kind)}); err != nil {
		return 0, fmt.Errorf("clearing mirror: %w", err)
	}

	for _, cypher := range []string{
		"CREATE INDEX ON :TreeNode(id)",
		"CREATE INDEX ON :TreeNode(kind)",
	} {
		if _, err := session.Run(ctx, cypher, nil); err != nil {
			m.logger.Warn("creating index (may already exist)", "error", err)
		}
	}

	var nodes, edges []map[string]any
	Walk(forest, func(n N, parentID *int64) {
		nodes = append(nodes, nodeToParams(n, parentID))
		if parentID != nil {
			edges = append(edges, map[string]any{"child": n.Base().ID, "parent": *parentID})
		}
	})

	m.logger.Info("syncing nodes to mirror", "kind", kind, "count", len(nodes))
	for i := 0; i < len(nodes); i += mirrorBatchSize {
		end := min(i+mirrorBatchSize, len(nodes))
		cypher := `
			UNWIND $nodes AS n
			CREATE (:TreeNode {
				kind: $kind, id: n.id, name: n.name, description: n.description,
				level: n.level, disabled: n.disabled, deleted: n.deleted,
				locator: n.locator, parent_id: n.parentID,
				created_at: n.createdAt, updated_at: n.updatedAt
			})
		`
		if _, err := session.Run(ctx, cypher, map[string]any{"kind": string(kind), "nodes": nodes[i:end]}); err != nil {
			return 0, fmt.Errorf("syncing node batch %d-%d: %w", i, end, err)
		}
	}

	m.logger.Info("syncing edges to mirror", "kind", kind, "count", len(edges))
	for i := 0; i < len(edges); i += mirrorBatchSize {
		end := min(i+mirrorBatchSize, len(edges))
		cypher := `
			UNWIND $edges AS e
			MATCH (c:TreeNode {kind: $kind, id: e.child})
			MATCH (p:TreeNode {kind: $kind, id: e.parent})
			CREATE (c)-[:CHILD_OF]->(p)
		`
		if _, err := session.Run(ctx, cypher, map[string]any{"kind": string(kind), "edges": edges[i:end]}); err != nil {
			return 0, fmt.Errorf("syncing edge batch %d-%d: %w", i, end, err)
		}
	}

	m.logger.Info("mirror sync complete", "kind", kind, "nodes", len(nodes), "edges", len(edges))
	return len(nodes), nil
}

func nodeToParams(n models.Noder, parentID *int64) map[string]any {
	base := n.Base()
	var parent any
	if parentID != nil {
		parent = *parentID
	}
	return map[string]any{
		"id":          base.ID,
		"name":        base.Name,
		"description": base.Description,
		"level":       int64(base.Level),
		"disabled":    base.Disabled,
		"deleted":     base.Deleted,
		"locator":     Locator(n),
		"parentID":    parent,
		"createdAt":   base.CreatedAt.Format(time.RFC3339),
		"updatedAt":   base.UpdatedAt.Format(time.RFC3339),
	}
}
