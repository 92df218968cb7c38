package assetstore

import (
	"context"
	"io"
	"testing"
	"time"

	"datavault-go/internal/model"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	Adapter
	name string
}

func (s *stubAdapter) RequestOffset(ctx context.Context, upload *model.Upload) (int64, error) {
	return upload.Received, nil
}

func (s *stubAdapter) DownloadFile(ctx context.Context, file *model.File, offset, endByte int64) (io.ReadCloser, error) {
	return nil, errors.NotSupportedf("download")
}

func TestRegistry_ResolvesByKindAndCaches(t *testing.T) {
	built := 0
	r := NewRegistry(map[Kind]Factory{
		KindFilesystem: func(store *model.Assetstore) (Adapter, error) {
			built++
			return &stubAdapter{name: store.Name}, nil
		},
	})

	store := &model.Assetstore{ID: "a1", Name: "local", Type: "filesystem", UpdatedAt: time.Now()}
	a1, err := r.Adapter(store)
	require.NoError(t, err)
	a2, err := r.Adapter(store)
	require.NoError(t, err)
	require.Same(t, a1, a2)
	require.Equal(t, 1, built)

	store.UpdatedAt = store.UpdatedAt.Add(time.Second)
	_, err = r.Adapter(store)
	require.NoError(t, err)
	require.Equal(t, 2, built)

	r.Evict("a1")
	_, err = r.Adapter(store)
	require.NoError(t, err)
	require.Equal(t, 3, built)
}

func TestRegistry_UnknownAndUnregisteredKinds(t *testing.T) {
	r := NewRegistry(nil)

	_, err := r.Adapter(&model.Assetstore{ID: "x", Type: "gridfs"})
	require.True(t, errors.Is(err, errors.NotValid))

	_, err = r.Adapter(&model.Assetstore{ID: "x", Type: "s3"})
	require.True(t, errors.Is(err, errors.NotSupported))
}

func TestImportParams_Accept(t *testing.T) {
	p := ImportParams{}
	require.True(t, p.Accept("anything"))
	require.False(t, p.IsCanceled())
}

func TestErrorKinds(t *testing.T) {
	require.True(t, errors.Is(ErrNoCurrent, errors.NotFound))
	require.True(t, errors.Is(Unavailable(io.ErrUnexpectedEOF), ErrUnavailable))
	require.Nil(t, Unavailable(nil))
	require.True(t, errors.Is(ReceivedTooMuch(12, 11), errors.NotValid))
}
