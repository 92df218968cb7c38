// Package filesystem 实现了基于本地目录、按 SHA-512 内容寻址的存储适配器。
package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/pkg/checksum"
	"datavault-go/pkg/log"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

const tempDir = "temp"

// Adapter 把文件按内容哈希存放在 <root>/<h[0:2]>/<h[2:4]>/<h> 下，相同内容只存一份。
type Adapter struct {
	store *model.Assetstore
	root  string
	index assetstore.FileIndex
}

var _ assetstore.Adapter = (*Adapter)(nil)

// New 创建文件系统适配器，必要时创建根目录和临时目录。
func New(store *model.Assetstore, index assetstore.FileIndex) (*Adapter, error) {
	if store.Root == "" {
		return nil, errors.NotValidf("filesystem assetstore %q without root", store.Name)
	}
	root, err := filepath.Abs(store.Root)
	if err != nil {
		return nil, errors.NotValidf("filesystem root %q", store.Root)
	}
	if err := os.MkdirAll(filepath.Join(root, tempDir), 0o755); err != nil {
		return nil, assetstore.Unavailable(err)
	}
	return &Adapter{store: store, root: root, index: index}, nil
}

// Root 返回存储根目录的绝对路径。
func (a *Adapter) Root() string {
	return a.root
}

func (a *Adapter) InitUpload(ctx context.Context, upload *model.Upload) error {
	tmp := filepath.Join(a.root, tempDir, uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return assetstore.Unavailable(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return assetstore.Unavailable(err)
	}
	upload.TempFile = tmp
	upload.ChecksumState = nil
	return nil
}

func (a *Adapter) UploadChunk(ctx context.Context, upload *model.Upload, chunk io.ReadCloser) error {
	defer chunk.Close()

	cs, err := checksum.Restore(upload.ChecksumState)
	if err != nil {
		return errors.Annotate(err, "restore checksum state")
	}

	f, err := os.OpenFile(upload.TempFile, os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFoundf("temp file of upload %s", upload.ID)
		}
		return assetstore.Unavailable(err)
	}
	defer f.Close()

	// 丢弃上一次失败写入残留的字节
	if err := f.Truncate(upload.Received); err != nil {
		return assetstore.Unavailable(err)
	}
	if _, err := f.Seek(upload.Received, io.SeekStart); err != nil {
		return assetstore.Unavailable(err)
	}

	n, err := io.Copy(io.MultiWriter(f, cs), chunk)
	if err == nil && upload.Received+n > upload.Size {
		err = assetstore.ReceivedTooMuch(upload.Received+n, upload.Size)
	} else if err != nil {
		err = assetstore.Unavailable(err)
	}
	if err != nil {
		if terr := f.Truncate(upload.Received); terr != nil {
			log.Warnf("[Filesystem.UploadChunk] 回滚临时文件失败, upload_id: %s, error: %v", upload.ID, terr)
		}
		return err
	}

	state, err := cs.State()
	if err != nil {
		return errors.Trace(err)
	}
	upload.ChecksumState = state
	upload.Received += n
	upload.ChunkCount++
	return nil
}

func (a *Adapter) RequestOffset(ctx context.Context, upload *model.Upload) (int64, error) {
	return upload.Received, nil
}

func (a *Adapter) FinalizeUpload(ctx context.Context, upload *model.Upload, file *model.File) error {
	cs, err := checksum.Restore(upload.ChecksumState)
	if err != nil {
		return errors.Annotate(err, "restore checksum state")
	}
	hash := cs.Hex()
	rel := blobPath(hash)
	abs := filepath.Join(a.root, rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return assetstore.Unavailable(err)
	}
	// 内容相同的数据已存在时也用临时文件原子覆盖，保证提交后数据一定在位
	if err := os.Rename(upload.TempFile, abs); err != nil {
		// 重试 finalize 时临时文件可能已被移走
		if _, statErr := os.Stat(abs); !os.IsNotExist(err) || statErr != nil {
			return assetstore.Unavailable(err)
		}
	}

	file.SHA512 = hash
	file.Path = rel
	file.Size = upload.Size
	file.AssetstoreID = &a.store.ID
	file.Imported = false
	return nil
}

func (a *Adapter) CancelUpload(ctx context.Context, upload *model.Upload) error {
	if upload.TempFile == "" {
		return nil
	}
	if err := os.Remove(upload.TempFile); err != nil && !os.IsNotExist(err) {
		return assetstore.Unavailable(err)
	}
	return nil
}

func (a *Adapter) DeleteFile(ctx context.Context, file *model.File) error {
	if file.Imported || file.Path == "" {
		return nil
	}
	if _, err := os.Stat(a.root); err != nil {
		return assetstore.Unavailable(err)
	}
	if file.SHA512 != "" && a.index != nil {
		n, err := a.index.CountByHash(ctx, a.store.ID, file.SHA512, file.ID)
		if err != nil {
			return errors.Annotate(err, "count blob references")
		}
		if n > 0 {
			return nil
		}
	}
	if err := os.Remove(filepath.Join(a.root, file.Path)); err != nil && !os.IsNotExist(err) {
		return assetstore.Unavailable(err)
	}
	return nil
}

func (a *Adapter) DownloadFile(ctx context.Context, file *model.File, offset, endByte int64) (io.ReadCloser, error) {
	path, err := a.LocalFilePath(file)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("data of file %s", file.ID)
		}
		return nil, assetstore.Unavailable(err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, assetstore.Unavailable(err)
		}
	}
	if endByte < 0 {
		return f, nil
	}
	return limitedReadCloser{Reader: io.LimitReader(f, endByte-offset), Closer: f}, nil
}

func (a *Adapter) CopyFile(ctx context.Context, src, dest *model.File) error {
	dest.SHA512 = src.SHA512
	dest.Path = src.Path
	dest.Size = src.Size
	dest.Imported = src.Imported
	dest.AssetstoreID = &a.store.ID
	return nil
}

func (a *Adapter) UntrackedUploads(ctx context.Context, known []*model.Upload, remove bool) ([]assetstore.UntrackedUpload, error) {
	dir := filepath.Join(a.root, tempDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, assetstore.Unavailable(err)
	}
	tracked := make(map[string]struct{}, len(known))
	for _, u := range known {
		if u.TempFile != "" {
			tracked[filepath.Clean(u.TempFile)] = struct{}{}
		}
	}

	var untracked []assetstore.UntrackedUpload
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if _, ok := tracked[path]; ok {
			continue
		}
		u := assetstore.UntrackedUpload{AssetstoreID: a.store.ID, Key: path}
		if info, err := e.Info(); err == nil {
			u.Size = info.Size()
		}
		if remove {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				log.Warnf("[Filesystem.UntrackedUploads] 删除临时文件失败, path: %s, error: %v", path, err)
			} else {
				u.Removed = true
			}
		}
		untracked = append(untracked, u)
	}
	return untracked, nil
}

func (a *Adapter) LocalFilePath(file *model.File) (string, error) {
	if file.Path == "" {
		return "", errors.NotFoundf("data of file %s", file.ID)
	}
	if file.Imported && filepath.IsAbs(file.Path) {
		return file.Path, nil
	}
	return filepath.Join(a.root, file.Path), nil
}

// blobPath 返回内容哈希对应的相对路径。
func blobPath(hash string) string {
	return filepath.Join(hash[0:2], hash[2:4], hash)
}

type limitedReadCloser struct {
	io.Reader
	io.Closer
}
