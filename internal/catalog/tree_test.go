package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexus-main/nexus-sub002/internal/nexuserrors"
)

type fakeResolver struct {
	children map[string][]Registration
	items    map[string]ItemRequest
	calls    int
}

func (f *fakeResolver) ListRegistrations(ctx context.Context, path string) ([]Registration, error) {
	f.calls++
	return f.children[path], nil
}

func (f *fakeResolver) Resolve(ctx context.Context, path string) (ItemRequest, error) {
	req, ok := f.items[path]
	if !ok {
		return ItemRequest{}, nexuserrors.New(nexuserrors.NotFound, "no item registered at "+path)
	}
	return req, nil
}

func TestTreeListChildrenFiltersByVisibility(t *testing.T) {
	resolver := &fakeResolver{
		children: map[string][]Registration{
			"/building": {
				{Path: "/building/east", Title: "East Wing", IsVisible: true},
				{Path: "/building/annex", Title: "Annex", IsVisible: false},
			},
		},
	}
	tree := NewTree(nil)
	tree.Swap([]MountPoint{{Path: "/building", Resolver: resolver}})

	regs, err := tree.ListChildren(context.Background(), "/building")
	require.NoError(t, err)
	require.Len(t, regs, 1)
	require.Equal(t, "/building/east", regs[0].Path)
}

func TestTreeListChildrenMemoizesStaticRegistrations(t *testing.T) {
	resolver := &fakeResolver{
		children: map[string][]Registration{
			"/building": {{Path: "/building/east", IsVisible: true}},
		},
	}
	tree := NewTree(nil)
	tree.Swap([]MountPoint{{Path: "/building", Resolver: resolver}})

	_, err := tree.ListChildren(context.Background(), "/building")
	require.NoError(t, err)
	_, err = tree.ListChildren(context.Background(), "/building")
	require.NoError(t, err)

	require.Equal(t, 1, resolver.calls)
}

func TestTreeListChildrenNeverMemoizesTransient(t *testing.T) {
	resolver := &fakeResolver{
		children: map[string][]Registration{
			"/live": {{Path: "/live/session1", IsVisible: true, IsTransient: true}},
		},
	}
	tree := NewTree(nil)
	tree.Swap([]MountPoint{{Path: "/live", Resolver: resolver}})

	_, err := tree.ListChildren(context.Background(), "/live")
	require.NoError(t, err)
	_, err = tree.ListChildren(context.Background(), "/live")
	require.NoError(t, err)

	require.Equal(t, 2, resolver.calls)
}

func TestTreeSwapInvalidatesCache(t *testing.T) {
	resolverA := &fakeResolver{children: map[string][]Registration{
		"/building": {{Path: "/building/east", IsVisible: true}},
	}}
	tree := NewTree(nil)
	tree.Swap([]MountPoint{{Path: "/building", Resolver: resolverA}})
	_, err := tree.ListChildren(context.Background(), "/building")
	require.NoError(t, err)
	require.Equal(t, 1, resolverA.calls)

	resolverB := &fakeResolver{children: map[string][]Registration{
		"/building": {{Path: "/building/west", IsVisible: true}},
	}}
	tree.Swap([]MountPoint{{Path: "/building", Resolver: resolverB}})
	regs, err := tree.ListChildren(context.Background(), "/building")
	require.NoError(t, err)
	require.Equal(t, 1, resolverB.calls)
	require.Equal(t, "/building/west", regs[0].Path)
}

func TestTreeMountTieBreakPrefersAdminSupplied(t *testing.T) {
	resolverFirst := &fakeResolver{children: map[string][]Registration{}}
	resolverAdmin := &fakeResolver{children: map[string][]Registration{}}
	tree := NewTree(nil)
	tree.Swap([]MountPoint{
		{Path: "/building", Resolver: resolverFirst, AdminSupplied: false},
		{Path: "/building", Resolver: resolverAdmin, AdminSupplied: true},
	})

	mp, ok := tree.findMount("/building")
	require.True(t, ok)
	require.Same(t, resolverAdmin, mp.Resolver.(*fakeResolver))
}

func TestTreeMountTieBreakPrefersFirstRegisteredWhenNeitherAdmin(t *testing.T) {
	resolverFirst := &fakeResolver{children: map[string][]Registration{}}
	resolverSecond := &fakeResolver{children: map[string][]Registration{}}
	tree := NewTree(nil)
	tree.Swap([]MountPoint{
		{Path: "/building", Resolver: resolverFirst},
		{Path: "/building", Resolver: resolverSecond},
	})

	mp, ok := tree.findMount("/building")
	require.True(t, ok)
	require.Same(t, resolverFirst, mp.Resolver.(*fakeResolver))
}

func TestTreeResolveFollowsSoftlink(t *testing.T) {
	resolver := &fakeResolver{
		children: map[string][]Registration{
			"/building": {{Path: "/building/alias", LinkTarget: "/building/real", IsVisible: true}},
		},
		items: map[string]ItemRequest{
			"/building/real/temp/1_s": {Container: "/building"},
		},
	}
	tree := NewTree(nil)
	tree.Swap([]MountPoint{{Path: "/building", Resolver: resolver}})

	req, err := tree.Resolve(context.Background(), "/building/alias/temp/1_s")
	require.NoError(t, err)
	require.Equal(t, "/building", req.Container)
}

func TestTreeResolveDoesNotFilterByVisibility(t *testing.T) {
	resolver := &fakeResolver{
		items: map[string]ItemRequest{
			"/building/hidden/temp/1_s": {Container: "/building"},
		},
	}
	tree := NewTree(nil)
	tree.Swap([]MountPoint{{Path: "/building", Resolver: resolver}})

	req, err := tree.Resolve(context.Background(), "/building/hidden/temp/1_s")
	require.NoError(t, err)
	require.Equal(t, "/building", req.Container)
}

func TestTreeListChildrenUnknownMountIsNotFound(t *testing.T) {
	tree := NewTree(nil)
	_, err := tree.ListChildren(context.Background(), "/nowhere")
	require.Error(t, err)
}
