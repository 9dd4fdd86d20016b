// Package hierarchy resolves organizational containers into two-level path labels.
package hierarchy

import (
	"context"
	"fmt"
	"sort"

	"github.com/stacklok/inventory-mirror/internal/collector"
	"github.com/stacklok/inventory-mirror/internal/retry"
)

const pathSeparator = " > "

// Node is an organizational container. An empty ParentID means the node hangs off the root.
type Node struct {
	ID       string
	Name     string
	ParentID string
}

// Lister provides the root container and a paginated listing of every other container
type Lister interface {
	Root(ctx context.Context) (Node, error)
	ListNodes(ctx context.Context, cursor string) ([]Node, string, error)
}

// Resolve computes the path label of every non-root node.
//
// A node whose parent is absent or is the root is labelled "root > name". A node
// whose parent is in nodes is labelled "parent > name". A node whose parent is
// not in nodes (for instance filtered out as inactive) gets its own name. The
// root itself never receives an entry.
func Resolve(rootID, rootName string, nodes []Node) map[string]string {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	paths := make(map[string]string, len(nodes))
	for _, n := range nodes {
		if n.ID == rootID {
			continue
		}
		paths[n.ID] = pathOf(rootID, rootName, n, byID)
	}
	return paths
}

func pathOf(rootID, rootName string, n Node, byID map[string]Node) string {
	if n.ParentID == "" || n.ParentID == rootID {
		return rootName + pathSeparator + n.Name
	}
	if parent, ok := byID[n.ParentID]; ok {
		return parent.Name + pathSeparator + n.Name
	}
	return n.Name
}

// Hierarchy is the resolved view of the containers for one run
type Hierarchy struct {
	rootID   string
	rootName string
	names    map[string]string
	paths    map[string]string
	ids      []string
}

// New builds a Hierarchy from the root and the supplied nodes
func New(root Node, nodes []Node) *Hierarchy {
	h := &Hierarchy{
		rootID:   root.ID,
		rootName: root.Name,
		names:    make(map[string]string, len(nodes)+1),
		paths:    Resolve(root.ID, root.Name, nodes),
	}

	h.names[root.ID] = root.Name
	for _, n := range nodes {
		if n.ID == root.ID {
			continue
		}
		h.names[n.ID] = n.Name
		h.ids = append(h.ids, n.ID)
	}
	sort.Strings(h.ids)

	return h
}

// Load fetches the root and all nodes from lister and resolves them. The
// listing must complete: a not-found on any page fails the load, since a
// truncated hierarchy hides compartments whose resources would then be swept.
func Load(ctx context.Context, policy *retry.Policy, lister Lister) (*Hierarchy, error) {
	root, err := retry.Do(ctx, policy, lister.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to get hierarchy root: %w", err)
	}

	nodes, err := collector.CollectStrict(ctx, policy, lister.ListNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to list hierarchy nodes: %w", err)
	}

	return New(root, nodes), nil
}

// RootID returns the root container id
func (h *Hierarchy) RootID() string {
	return h.rootID
}

// RootName returns the root container name
func (h *Hierarchy) RootName() string {
	return h.rootName
}

// Compartments returns every container id to iterate: the root first, then all
// other nodes in id order.
func (h *Hierarchy) Compartments() []string {
	ids := make([]string, 0, len(h.ids)+1)
	ids = append(ids, h.rootID)
	return append(ids, h.ids...)
}

// PathFor returns the path label for id. Resources owned directly by the root
// get the root name; unknown ids get the empty string.
func (h *Hierarchy) PathFor(id string) string {
	if id == h.rootID {
		return h.rootName
	}
	return h.paths[id]
}

// NameFor returns the container name for id, or the empty string when unknown
func (h *Hierarchy) NameFor(id string) string {
	return h.names[id]
}

// Len returns the number of non-root containers
func (h *Hierarchy) Len() int {
	return len(h.ids)
}
