package bookmarks

import (
	"testing"

	"github.com/clearcmos/nixnavd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRejectsDuplicateNameAndPath(t *testing.T) {
	r := New()
	_, err := r.Add("home", "/home/user", false)
	require.NoError(t, err)

	_, err = r.Add("home", "/other", false)
	assert.ErrorIs(t, err, ErrNameTaken)

	_, err = r.Add("other", "/home/user", false)
	assert.ErrorIs(t, err, ErrPathTaken)
}

func TestRemoveThenLookupMisses(t *testing.T) {
	r := New()
	b, err := r.Add("home", "/home/user", false)
	require.NoError(t, err)

	removed, ok := r.Remove(b.Id)
	require.True(t, ok)
	assert.Equal(t, b, removed)

	_, ok = r.ByName("home")
	assert.False(t, ok)
	_, ok = r.ByPath("/home/user")
	assert.False(t, ok)

	_, ok = r.Remove(b.Id)
	assert.False(t, ok, "removing twice should report not-found the second time")
}

func TestLoadPreservesPersistedIDAndAdvancesNextID(t *testing.T) {
	r := New()
	r.Load(types.Bookmark{Id: 7, Name: "nas", Path: "/mnt/nas", IsNetwork: true})

	got, ok := r.ByID(7)
	require.True(t, ok)
	assert.Equal(t, "nas", got.Name)

	next, err := r.Add("home", "/home/user", false)
	require.NoError(t, err)
	assert.Equal(t, types.BookmarkId(8), next.Id)
}

func TestRootForPicksLongestContainingBookmark(t *testing.T) {
	r := New()
	_, err := r.Add("home", "/home/user", false)
	require.NoError(t, err)
	_, err = r.Add("projects", "/home/user/projects", false)
	require.NoError(t, err)

	got, ok := r.RootFor("/home/user/projects/nixnavd/main.go")
	require.True(t, ok)
	assert.Equal(t, "projects", got.Name)

	got, ok = r.RootFor("/home/user/Documents/file.txt")
	require.True(t, ok)
	assert.Equal(t, "home", got.Name)

	_, ok = r.RootFor("/home/userx/file.txt")
	assert.False(t, ok, "must not match on a bare string prefix without a path separator")

	_, ok = r.RootFor("/etc/hosts")
	assert.False(t, ok)
}

func TestNetworkAndLocalBookmarksPartition(t *testing.T) {
	r := New()
	_, err := r.Add("home", "/home/user", false)
	require.NoError(t, err)
	_, err = r.Add("nas", "/mnt/nas", true)
	require.NoError(t, err)

	local := r.LocalBookmarks()
	network := r.NetworkBookmarks()
	require.Len(t, local, 1)
	require.Len(t, network, 1)
	assert.Equal(t, "home", local[0].Name)
	assert.Equal(t, "nas", network[0].Name)
}

func TestUpdateLastScan(t *testing.T) {
	r := New()
	b, err := r.Add("home", "/home/user", false)
	require.NoError(t, err)
	assert.Nil(t, b.LastScan)

	r.UpdateLastScan(b.Id, 1700000000)
	got, ok := r.ByID(b.Id)
	require.True(t, ok)
	require.NotNil(t, got.LastScan)
	assert.Equal(t, int64(1700000000), *got.LastScan)
}
