package filesystem

import (
	"context"
	"os"
	"path/filepath"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/pkg/log"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

// ImportData 递归扫描 params.Path，目录映射为文件夹，文件登记为 imported 文件，
// 已被跟踪的路径会被跳过。
func (a *Adapter) ImportData(ctx context.Context, sink assetstore.ImportSink, params assetstore.ImportParams) error {
	root, err := filepath.Abs(params.Path)
	if err != nil {
		return errors.NotValidf("import path %q", params.Path)
	}
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundf("import path %q", params.Path)
		}
		return assetstore.Unavailable(err)
	}
	if !info.IsDir() {
		return errors.NotValidf("import path %q is not a directory", params.Path)
	}

	var count int64
	return a.importDir(ctx, sink, params, root, params.Parent, &count)
}

func (a *Adapter) importDir(ctx context.Context, sink assetstore.ImportSink, params assetstore.ImportParams, dir string, parent assetstore.Target, count *int64) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return assetstore.Unavailable(err)
	}
	for _, e := range entries {
		if params.IsCanceled() {
			return assetstore.ErrCanceled
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			folder, err := sink.ImportFolder(ctx, parent, e.Name())
			if err != nil {
				return errors.Annotatef(err, "import folder %s", path)
			}
			if err := a.importDir(ctx, sink, params, path, folder, count); err != nil {
				return err
			}
			continue
		}
		if !e.Type().IsRegular() || !params.Accept(e.Name()) {
			continue
		}

		exists, err := a.index.ExistsByPath(ctx, a.store.ID, path)
		if err != nil {
			return errors.Trace(err)
		}
		if exists {
			log.Debugf("[Filesystem.ImportData] 路径已被跟踪，跳过: %s", path)
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.Warnf("[Filesystem.ImportData] 读取文件信息失败, path: %s, error: %v", path, err)
			continue
		}

		file := &model.File{
			ID:           uuid.NewString(),
			Name:         e.Name(),
			Size:         info.Size(),
			AssetstoreID: &a.store.ID,
			Path:         path,
			Imported:     true,
		}
		if err := sink.ImportFile(ctx, parent, file); err != nil {
			return errors.Annotatef(err, "import file %s", path)
		}
		*count++
		params.Report(*count, 0, path)
	}
	return nil
}
