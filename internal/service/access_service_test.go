package service

import (
	"testing"

	"datavault-go/internal/model"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

func TestAccess_UserRoot(t *testing.T) {
	f := newFixture(t, Hooks{})
	access := NewAccessService(f.mem.Roots(), f.mem.Folders(), f.mem.Items())
	bob, err := f.hierarchy.CreateUser(f.ctx, "bob", false)
	require.NoError(t, err)
	admin, err := f.hierarchy.CreateUser(f.ctx, "root", true)
	require.NoError(t, err)

	file := f.uploadBytes(t, f.folder.ID, "a", "abc")

	require.NoError(t, access.CheckFile(f.ctx, f.user, file, AccessWrite))
	require.NoError(t, access.CheckFile(f.ctx, admin, file, AccessWrite))
	require.True(t, errors.Is(access.CheckFile(f.ctx, bob, file, AccessRead), errors.Forbidden))
	require.True(t, errors.Is(access.CheckFile(f.ctx, nil, file, AccessRead), errors.Unauthorized))

	public := f.newFolder(t, model.ResourceUser, f.user.ID, "shared")
	public.Public = true
	require.NoError(t, f.mem.Folders().Update(f.ctx, public))
	require.NoError(t, access.CheckFolder(f.ctx, nil, public, AccessRead))
	require.True(t, errors.Is(access.CheckFolder(f.ctx, bob, public, AccessWrite), errors.Forbidden))

	_, err = f.hierarchy.CreateUser(f.ctx, "bob", false)
	require.True(t, errors.Is(err, errors.AlreadyExists))
	found, err := access.UserByLogin(f.ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, bob.ID, found.ID)
}

func TestAccess_Collection(t *testing.T) {
	f := newFixture(t, Hooks{})
	access := NewAccessService(f.mem.Roots(), f.mem.Folders(), f.mem.Items())
	bob, err := f.hierarchy.CreateUser(f.ctx, "bob", false)
	require.NoError(t, err)

	open, err := f.hierarchy.CreateCollection(f.ctx, "open", "", true, &f.user.ID)
	require.NoError(t, err)
	closed, err := f.hierarchy.CreateCollection(f.ctx, "closed", "", false, &f.user.ID)
	require.NoError(t, err)

	ref := func(c *model.Collection) model.RootRef {
		return model.RootRef{Type: model.ResourceCollection, ID: c.ID}
	}
	require.NoError(t, access.CheckRoot(f.ctx, bob, ref(open), AccessRead))
	require.True(t, errors.Is(access.CheckRoot(f.ctx, bob, ref(open), AccessWrite), errors.Forbidden))
	require.True(t, errors.Is(access.CheckRoot(f.ctx, bob, ref(closed), AccessRead), errors.Forbidden))
	require.NoError(t, access.CheckRoot(f.ctx, f.user, ref(closed), AccessWrite))

	sub := f.newFolder(t, model.ResourceCollection, closed.ID, "sub")
	require.NoError(t, access.CheckParent(f.ctx, f.user, model.ResourceFolder, sub.ID, AccessWrite))
	require.True(t, errors.Is(access.CheckParent(f.ctx, bob, model.ResourceFolder, sub.ID, AccessRead), errors.Forbidden))
	require.True(t, errors.Is(access.CheckParent(f.ctx, bob, model.ResourceFolder, "missing", AccessRead), errors.NotFound))
}

func TestAccess_Upload(t *testing.T) {
	f := newFixture(t, Hooks{})
	access := NewAccessService(f.mem.Roots(), f.mem.Folders(), f.mem.Items())
	bob, err := f.hierarchy.CreateUser(f.ctx, "bob", false)
	require.NoError(t, err)

	owned := &model.Upload{ID: "u1", UserID: &f.user.ID}
	require.NoError(t, access.CheckUpload(f.user, owned))
	require.True(t, errors.Is(access.CheckUpload(bob, owned), errors.Forbidden))
	require.True(t, errors.Is(access.CheckUpload(nil, owned), errors.Unauthorized))
	require.NoError(t, access.CheckUpload(nil, &model.Upload{ID: "u2"}))
}
