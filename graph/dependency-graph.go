package graph

import (
	"context"
	"fmt"
	"sync"

	"zvello-project/microservices/taskgraph-service/models"
)

// DependencyGraph holds the parent->child edge set between tasks and keeps it
// acyclic. Implementations must serialize the reachability check and the edge
// write: two concurrent AddEdge calls may never jointly commit a cycle.
type DependencyGraph interface {
	// EnsureNode registers a task id as a vertex. A task with no edges is a
	// valid singleton node. Idempotent.
	EnsureNode(ctx context.Context, taskID string) error
	// AddEdge inserts parent->child. Fails with models.ErrSelfReference when
	// both ids are equal and models.ErrCycleDetected when the child already
	// reaches the parent. Inserting an existing edge is a no-op.
	AddEdge(ctx context.Context, parentID, childID string) error
	// RemoveEdge deletes parent->child if present. Idempotent.
	RemoveEdge(ctx context.Context, parentID, childID string) error
	// RemoveNode deletes the vertex and every edge touching it.
	RemoveNode(ctx context.Context, taskID string) error
	Parents(ctx context.Context, taskID string) ([]string, error)
	Children(ctx context.Context, taskID string) ([]string, error)
	// Ancestors returns every task reachable backward from taskID.
	Ancestors(ctx context.Context, taskID string) ([]string, error)
	// Descendants returns every task reachable forward from taskID.
	Descendants(ctx context.Context, taskID string) ([]string, error)
	HasChildren(ctx context.Context, taskID string) (bool, error)
}

// MemoryDependencyGraph keeps the edge set in adjacency maps guarded by a
// single mutex, so check-then-write is trivially serialized. Used in tests and
// as the fallback when no graph store is configured.
type MemoryDependencyGraph struct {
	mu       sync.RWMutex
	children map[string]map[string]struct{}
	parents  map[string]map[string]struct{}
}

func NewMemoryDependencyGraph() *MemoryDependencyGraph {
	return &MemoryDependencyGraph{
		children: make(map[string]map[string]struct{}),
		parents:  make(map[string]map[string]struct{}),
	}
}

func (g *MemoryDependencyGraph) EnsureNode(ctx context.Context, taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ensureLocked(taskID)
	return nil
}

func (g *MemoryDependencyGraph) ensureLocked(taskID string) {
	if _, ok := g.children[taskID]; !ok {
		g.children[taskID] = make(map[string]struct{})
	}
	if _, ok := g.parents[taskID]; !ok {
		g.parents[taskID] = make(map[string]struct{})
	}
}

func (g *MemoryDependencyGraph) AddEdge(ctx context.Context, parentID, childID string) error {
	if parentID == childID {
		return fmt.Errorf("%w: %s", models.ErrSelfReference, parentID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureLocked(parentID)
	g.ensureLocked(childID)

	if _, ok := g.children[parentID][childID]; ok {
		// Duplicate edges are a no-op.
		return nil
	}

	// The edge would close a cycle iff the child already reaches the parent
	// going forward through existing edges.
	if g.reachesLocked(childID, parentID) {
		return fmt.Errorf("%w: %s -> %s", models.ErrCycleDetected, parentID, childID)
	}

	g.children[parentID][childID] = struct{}{}
	g.parents[childID][parentID] = struct{}{}
	return nil
}

// reachesLocked is a breadth-first search from `from` forward through child
// edges looking for `to`. Caller holds the lock.
func (g *MemoryDependencyGraph) reachesLocked(from, to string) bool {
	visited := map[string]struct{}{from: {}}
	queue := []string{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for next := range g.children[current] {
			if next == to {
				return true
			}
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				queue = append(queue, next)
			}
		}
	}
	return false
}

func (g *MemoryDependencyGraph) RemoveEdge(ctx context.Context, parentID, childID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.children[parentID]; ok {
		delete(m, childID)
	}
	if m, ok := g.parents[childID]; ok {
		delete(m, parentID)
	}
	return nil
}

func (g *MemoryDependencyGraph) RemoveNode(ctx context.Context, taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for child := range g.children[taskID] {
		delete(g.parents[child], taskID)
	}
	for parent := range g.parents[taskID] {
		delete(g.children[parent], taskID)
	}
	delete(g.children, taskID)
	delete(g.parents, taskID)
	return nil
}

func (g *MemoryDependencyGraph) Parents(ctx context.Context, taskID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return keys(g.parents[taskID]), nil
}

func (g *MemoryDependencyGraph) Children(ctx context.Context, taskID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return keys(g.children[taskID]), nil
}

func (g *MemoryDependencyGraph) Ancestors(ctx context.Context, taskID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collectLocked(taskID, g.parents), nil
}

func (g *MemoryDependencyGraph) Descendants(ctx context.Context, taskID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collectLocked(taskID, g.children), nil
}

// collectLocked gathers every node reachable from start through the given
// adjacency map. Caller holds at least a read lock.
func (g *MemoryDependencyGraph) collectLocked(start string, adjacency map[string]map[string]struct{}) []string {
	visited := make(map[string]struct{})
	queue := []string{start}
	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for next := range adjacency[current] {
			if _, seen := visited[next]; !seen {
				visited[next] = struct{}{}
				result = append(result, next)
				queue = append(queue, next)
			}
		}
	}
	return result
}

func (g *MemoryDependencyGraph) HasChildren(ctx context.Context, taskID string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.children[taskID]) > 0, nil
}

func keys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
