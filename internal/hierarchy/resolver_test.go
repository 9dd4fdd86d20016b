package hierarchy

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/inventory-mirror/internal/retry"
	"github.com/stacklok/inventory-mirror/internal/upstream"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		rootID   string
		rootName string
		nodes    []Node
		want     map[string]string
	}{
		{
			name:     "parent null and parent present",
			rootID:   "root",
			rootName: "acme",
			nodes: []Node{
				{ID: "c1", Name: "teamA"},
				{ID: "c2", Name: "sub1", ParentID: "c1"},
			},
			want: map[string]string{
				"c1": "acme > teamA",
				"c2": "teamA > sub1",
			},
		},
		{
			name:     "parent equal to root",
			rootID:   "root",
			rootName: "acme",
			nodes: []Node{
				{ID: "c1", Name: "teamA", ParentID: "root"},
			},
			want: map[string]string{
				"c1": "acme > teamA",
			},
		},
		{
			name:     "grandparent is dropped",
			rootID:   "root",
			rootName: "acme",
			nodes: []Node{
				{ID: "c1", Name: "teamA", ParentID: "root"},
				{ID: "c2", Name: "sub1", ParentID: "c1"},
				{ID: "c3", Name: "deep", ParentID: "c2"},
			},
			want: map[string]string{
				"c1": "acme > teamA",
				"c2": "teamA > sub1",
				"c3": "sub1 > deep",
			},
		},
		{
			name:     "parent outside the set degrades to own name",
			rootID:   "root",
			rootName: "acme",
			nodes: []Node{
				{ID: "c2", Name: "orphan", ParentID: "deleted"},
			},
			want: map[string]string{
				"c2": "orphan",
			},
		},
		{
			name:     "root node gets no entry",
			rootID:   "root",
			rootName: "acme",
			nodes: []Node{
				{ID: "root", Name: "acme"},
				{ID: "c1", Name: "teamA"},
			},
			want: map[string]string{
				"c1": "acme > teamA",
			},
		},
		{
			name:     "duplicate names keep independent paths",
			rootID:   "root",
			rootName: "acme",
			nodes: []Node{
				{ID: "a", Name: "dev"},
				{ID: "b", Name: "dev"},
				{ID: "c", Name: "app", ParentID: "a"},
				{ID: "d", Name: "app", ParentID: "b"},
			},
			want: map[string]string{
				"a": "acme > dev",
				"b": "acme > dev",
				"c": "dev > app",
				"d": "dev > app",
			},
		},
		{
			name:     "no nodes",
			rootID:   "root",
			rootName: "acme",
			want:     map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Resolve(tt.rootID, tt.rootName, tt.nodes)
			assert.Equal(t, tt.want, got)

			// Resolution is deterministic regardless of input order
			reversed := make([]Node, len(tt.nodes))
			for i, n := range tt.nodes {
				reversed[len(tt.nodes)-1-i] = n
			}
			assert.Equal(t, got, Resolve(tt.rootID, tt.rootName, reversed))
		})
	}
}

func TestHierarchyLookups(t *testing.T) {
	t.Parallel()

	h := New(Node{ID: "root", Name: "acme"}, []Node{
		{ID: "c2", Name: "sub1", ParentID: "c1"},
		{ID: "c1", Name: "teamA"},
	})

	assert.Equal(t, "root", h.RootID())
	assert.Equal(t, "acme", h.RootName())
	assert.Equal(t, []string{"root", "c1", "c2"}, h.Compartments())
	assert.Equal(t, 2, h.Len())

	assert.Equal(t, "acme", h.PathFor("root"))
	assert.Equal(t, "acme > teamA", h.PathFor("c1"))
	assert.Equal(t, "teamA > sub1", h.PathFor("c2"))
	assert.Empty(t, h.PathFor("unknown"))

	assert.Equal(t, "acme", h.NameFor("root"))
	assert.Equal(t, "sub1", h.NameFor("c2"))
	assert.Empty(t, h.NameFor("unknown"))
}

type fakeLister struct {
	root      Node
	rootErr   error
	pages     map[string][]Node
	next      map[string]string
	pageErr   map[string][]error
	rootCalls int
}

func (f *fakeLister) Root(_ context.Context) (Node, error) {
	f.rootCalls++
	if f.rootErr != nil && f.rootCalls == 1 {
		return Node{}, f.rootErr
	}
	return f.root, nil
}

func (f *fakeLister) ListNodes(_ context.Context, cursor string) ([]Node, string, error) {
	if errs := f.pageErr[cursor]; len(errs) > 0 {
		f.pageErr[cursor] = errs[1:]
		return nil, "", errs[0]
	}
	return f.pages[cursor], f.next[cursor], nil
}

func TestLoad(t *testing.T) {
	t.Parallel()

	policy := retry.NewPolicy(
		retry.WithMaxAttempts(3),
		retry.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	throttled := upstream.NewError(upstream.ClassThrottled, 429, "ListCompartments", errors.New("slow down"))

	t.Run("loads paginated nodes through the retry policy", func(t *testing.T) {
		t.Parallel()

		lister := &fakeLister{
			root:    Node{ID: "root", Name: "acme"},
			rootErr: throttled,
			pages: map[string][]Node{
				"":   {{ID: "c1", Name: "teamA"}},
				"p2": {{ID: "c2", Name: "sub1", ParentID: "c1"}},
			},
			next:    map[string]string{"": "p2"},
			pageErr: map[string][]error{"p2": {throttled}},
		}

		h, err := Load(context.Background(), policy, lister)
		require.NoError(t, err)
		assert.Equal(t, 2, lister.rootCalls)
		assert.Equal(t, "teamA > sub1", h.PathFor("c2"))
		assert.Equal(t, []string{"root", "c1", "c2"}, h.Compartments())
	})

	t.Run("fails when the root cannot be read", func(t *testing.T) {
		t.Parallel()

		lister := &fakeLister{
			rootErr: upstream.NewError(upstream.ClassOther, 401, "GetTenancy", errors.New("denied")),
		}

		_, err := Load(context.Background(), policy, lister)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to get hierarchy root")
	})

	t.Run("fails when listing fails", func(t *testing.T) {
		t.Parallel()

		lister := &fakeLister{
			root:    Node{ID: "root", Name: "acme"},
			pageErr: map[string][]error{"": {upstream.NewError(upstream.ClassOther, 500, "ListCompartments", errors.New("outage"))}},
		}

		_, err := Load(context.Background(), policy, lister)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list hierarchy nodes")
	})

	t.Run("fails when a later page is not found", func(t *testing.T) {
		t.Parallel()

		lister := &fakeLister{
			root:    Node{ID: "root", Name: "acme"},
			pages:   map[string][]Node{"": {{ID: "c1", Name: "teamA"}}},
			next:    map[string]string{"": "p2"},
			pageErr: map[string][]error{"p2": {upstream.NewError(upstream.ClassNotFound, 404, "ListCompartments", errors.New("gone"))}},
		}

		h, err := Load(context.Background(), policy, lister)
		require.Error(t, err)
		assert.Nil(t, h)
		assert.True(t, upstream.IsNotFound(err))
		assert.Contains(t, err.Error(), "failed to list hierarchy nodes")
	})
}
