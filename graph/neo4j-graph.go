package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"zvello-project/microservices/taskgraph-service/models"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jDependencyGraph is the persistent DependencyGraph, one :Task node per
// task id and one :HAS_SUBTASK relation per parent->child edge.
//
// writeMu serializes edge inserts across the process. Neo4j transactions run
// at read-committed isolation, so the reachability check inside AddEdge takes
// no locks on intermediate nodes and two concurrent inserts with disjoint
// endpoints could each observe "no cycle yet" and jointly commit one.
type Neo4jDependencyGraph struct {
	Driver  neo4j.DriverWithContext
	writeMu sync.Mutex
}

func NewNeo4jDependencyGraph(driver neo4j.DriverWithContext) *Neo4jDependencyGraph {
	return &Neo4jDependencyGraph{Driver: driver}
}

func (g *Neo4jDependencyGraph) EnsureNode(ctx context.Context, taskID string) error {
	session := g.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `MERGE (t:Task {id: $id})`
		_, err := tx.Run(ctx, query, map[string]any{"id": taskID})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: failed to ensure task node: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

// AddEdge checks reachability and writes the relation under writeMu. The
// single transaction alone is not enough: read-committed isolation lets the
// EXISTS path read race a concurrent insert on other nodes, so the
// check-then-write pair must not interleave with another insert.
func (g *Neo4jDependencyGraph) AddEdge(ctx context.Context, parentID, childID string) error {
	if parentID == childID {
		return fmt.Errorf("%w: %s", models.ErrSelfReference, parentID)
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	session := g.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MERGE (p:Task {id: $parentId})
			MERGE (c:Task {id: $childId})
			RETURN EXISTS((c)-[:HAS_SUBTASK*1..]->(p)) AS wouldCycle
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"parentId": parentID,
			"childId":  childID,
		})
		if err != nil {
			return nil, err
		}
		if res.Next(ctx) {
			wouldCycle, ok := res.Record().Values[0].(bool)
			if !ok {
				return nil, fmt.Errorf("unexpected result type")
			}
			if wouldCycle {
				return nil, fmt.Errorf("%w: %s -> %s", models.ErrCycleDetected, parentID, childID)
			}
		}

		// MERGE keeps duplicate edge inserts idempotent.
		query = `
			MATCH (p:Task {id: $parentId}), (c:Task {id: $childId})
			MERGE (p)-[:HAS_SUBTASK]->(c)
		`
		_, err = tx.Run(ctx, query, map[string]any{
			"parentId": parentID,
			"childId":  childID,
		})
		return nil, err
	})
	if err != nil {
		if isDomainError(err) {
			return err
		}
		return fmt.Errorf("%w: failed to create dependency relation: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (g *Neo4jDependencyGraph) RemoveEdge(ctx context.Context, parentID, childID string) error {
	session := g.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (p:Task {id: $parentId})-[r:HAS_SUBTASK]->(c:Task {id: $childId})
			DELETE r
		`
		_, err := tx.Run(ctx, query, map[string]any{
			"parentId": parentID,
			"childId":  childID,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: failed to remove dependency relation: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (g *Neo4jDependencyGraph) RemoveNode(ctx context.Context, taskID string) error {
	session := g.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `MATCH (t:Task {id: $id}) DETACH DELETE t`
		_, err := tx.Run(ctx, query, map[string]any{"id": taskID})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("%w: failed to remove task node: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}

func (g *Neo4jDependencyGraph) Parents(ctx context.Context, taskID string) ([]string, error) {
	query := `
		MATCH (p:Task)-[:HAS_SUBTASK]->(c:Task {id: $id})
		RETURN p.id AS id
	`
	return g.readIDs(ctx, query, taskID)
}

func (g *Neo4jDependencyGraph) Children(ctx context.Context, taskID string) ([]string, error) {
	query := `
		MATCH (p:Task {id: $id})-[:HAS_SUBTASK]->(c:Task)
		RETURN c.id AS id
	`
	return g.readIDs(ctx, query, taskID)
}

func (g *Neo4jDependencyGraph) Ancestors(ctx context.Context, taskID string) ([]string, error) {
	query := `
		MATCH (a:Task)-[:HAS_SUBTASK*1..]->(c:Task {id: $id})
		RETURN DISTINCT a.id AS id
	`
	return g.readIDs(ctx, query, taskID)
}

func (g *Neo4jDependencyGraph) Descendants(ctx context.Context, taskID string) ([]string, error) {
	query := `
		MATCH (p:Task {id: $id})-[:HAS_SUBTASK*1..]->(d:Task)
		RETURN DISTINCT d.id AS id
	`
	return g.readIDs(ctx, query, taskID)
}

func (g *Neo4jDependencyGraph) HasChildren(ctx context.Context, taskID string) (bool, error) {
	session := g.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (t:Task {id: $id})
			RETURN EXISTS((t)-[:HAS_SUBTASK]->()) AS hasChildren
		`
		res, err := tx.Run(ctx, query, map[string]any{"id": taskID})
		if err != nil {
			return false, err
		}
		if res.Next(ctx) {
			return res.Record().Values[0].(bool), nil
		}
		return false, nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: failed to check children: %v", models.ErrStorageUnavailable, err)
	}
	return result.(bool), nil
}

func (g *Neo4jDependencyGraph) readIDs(ctx context.Context, query, taskID string) ([]string, error) {
	session := g.Driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{"id": taskID})
		if err != nil {
			return nil, err
		}

		var ids []string
		for res.Next(ctx) {
			id, _ := res.Record().Get("id")
			ids = append(ids, id.(string))
		}
		return ids, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read graph: %v", models.ErrStorageUnavailable, err)
	}
	return result.([]string), nil
}

func isDomainError(err error) bool {
	return errors.Is(err, models.ErrCycleDetected) || errors.Is(err, models.ErrSelfReference)
}
