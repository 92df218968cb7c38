package pipeline

import (
	"context"
	"io"
	"strings"
	"testing"

	"datavault-go/internal/model"
	"datavault-go/internal/service"
	"datavault-go/pkg/tasks"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

// fakeFiles 只实现 Processor 用到的方法，其余方法调用会 panic。
type fakeFiles struct {
	service.FileService
	content map[string]string
	mime    map[string]string
}

func (f *fakeFiles) Download(ctx context.Context, id string, offset, end int64) (*service.Download, error) {
	c, ok := f.content[id]
	if !ok {
		return nil, errors.NotFoundf("file %s", id)
	}
	if end > int64(len(c)) {
		end = int64(len(c))
	}
	return &service.Download{
		File:   &model.File{ID: id, MimeType: f.mime[id], Size: int64(len(c))},
		Body:   io.NopCloser(strings.NewReader(c[offset:end])),
		Offset: offset,
		End:    end,
	}, nil
}

func (f *fakeFiles) UpdateMimeType(ctx context.Context, id, mimeType string) error {
	f.mime[id] = mimeType
	return nil
}

func TestProcessor_SniffsGenericType(t *testing.T) {
	files := &fakeFiles{
		content: map[string]string{"png": "\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 32)},
		mime:    map[string]string{"png": "application/octet-stream"},
	}
	p := NewProcessor(files)

	err := p.Process(context.Background(), tasks.DataProcessTask{FileID: "png", MimeType: "application/octet-stream"})
	require.NoError(t, err)
	require.Equal(t, "image/png", files.mime["png"])
}

func TestProcessor_SkipsDeclaredAndDeleted(t *testing.T) {
	files := &fakeFiles{content: map[string]string{}, mime: map[string]string{}}
	p := NewProcessor(files)

	require.NoError(t, p.Process(context.Background(), tasks.DataProcessTask{FileID: "x", MimeType: "text/csv"}))
	require.NoError(t, p.Process(context.Background(), tasks.DataProcessTask{FileID: "gone"}))
	require.Empty(t, files.mime)
}
