package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Driver runs Cypher queries against a graph database.
type Driver interface {
	ExecuteQuery(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error)
	Close(ctx context.Context) error
}

// Neo4jDriver is a Driver backed by the official Neo4j driver. It also works
// against Bolt-compatible servers such as Memgraph.
type Neo4jDriver struct {
	driver neo4j.DriverWithContext
}

var _ Driver = (*Neo4jDriver)(nil)

// NewNeo4jDriver connects to uri and verifies connectivity.
func NewNeo4jDriver(ctx context.Context, uri, username, password string) (*Neo4jDriver, error) {
	d, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}
	if err := d.VerifyConnectivity(ctx); err != nil {
		_ = d.Close(ctx)
		return nil, fmt.Errorf("failed to connect to %s: %w", uri, err)
	}
	return &Neo4jDriver{driver: d}, nil
}

// ExecuteQuery runs query with an eager result transformer.
func (d *Neo4jDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (*neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.driver, query, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return result, nil
}

// Close releases the underlying driver.
func (d *Neo4jDriver) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}
