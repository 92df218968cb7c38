package service

import (
	"context"
	"io"
	"net/url"
	"strings"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/internal/repository"
	"datavault-go/pkg/log"

	"github.com/google/uuid"
	"github.com/juju/errors"
)

// Download 是一次下载的结果：要么是字节流，要么是外链文件的重定向地址。
type Download struct {
	File        *model.File
	Body        io.ReadCloser
	RedirectURL string
	// Offset / End 是实际返回的区间 [Offset, End)。
	Offset int64
	End    int64
}

// Length 返回本次下载的字节数。
func (d *Download) Length() int64 {
	return d.End - d.Offset
}

// LinkFileRequest 是创建外链文件的参数。
type LinkFileRequest struct {
	Name       string
	ParentType model.ResourceType
	ParentID   string
	URL        string
	MimeType   string
	CreatorID  *string
}

// FileService 接口定义了文件相关的业务操作。
type FileService interface {
	Get(ctx context.Context, id string) (*model.File, error)
	// Download 返回 [offset, endByte) 区间的数据，endByte < 0 表示到文件末尾。
	Download(ctx context.Context, fileID string, offset, endByte int64) (*Download, error)
	GetAssetstoreAdapter(ctx context.Context, file *model.File) (assetstore.Adapter, error)
	LocalPath(ctx context.Context, fileID string) (string, error)
	CreateLinkFile(ctx context.Context, req LinkFileRequest) (*model.File, error)
	// CopyFile 把 src 复制到 destItem 下，并把大小传播到 destItem 的祖先。
	CopyFile(ctx context.Context, src *model.File, destItem *model.Item, creatorID *string) (*model.File, error)
	// DeleteFile 删除文件的数据和记录，并递减祖先大小。
	DeleteFile(ctx context.Context, fileID string) error
	// Remove 删除文件的数据和记录，propagate 为 false 时不调整祖先大小（整个 Item 即将被删除时使用）。
	Remove(ctx context.Context, file *model.File, propagate bool) error
	// UpdateMimeType 更新文件的 MIME 类型。
	UpdateMimeType(ctx context.Context, fileID, mimeType string) error
}

type fileService struct {
	files    repository.FileRepository
	items    repository.ItemRepository
	folders  repository.FolderRepository
	adapters adapterResolver
	sizes    SizePropagator
}

// NewFileService 创建一个新的 FileService 实例。
func NewFileService(
	files repository.FileRepository,
	items repository.ItemRepository,
	folders repository.FolderRepository,
	stores repository.AssetstoreRepository,
	registry *assetstore.Registry,
	sizes SizePropagator,
) FileService {
	return &fileService{
		files:    files,
		items:    items,
		folders:  folders,
		adapters: adapterResolver{stores: stores, registry: registry},
		sizes:    sizes,
	}
}

func (s *fileService) Get(ctx context.Context, id string) (*model.File, error) {
	return s.files.FindByID(ctx, id)
}

func (s *fileService) Download(ctx context.Context, fileID string, offset, endByte int64) (*Download, error) {
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.IsLink() {
		return &Download{File: file, RedirectURL: *file.LinkURL}, nil
	}

	end := endByte
	if end < 0 || end > file.Size {
		end = file.Size
	}
	if offset < 0 || offset > end {
		return nil, errors.NotValidf("range %d-%d of file %s with size %d", offset, endByte, file.ID, file.Size)
	}
	d := &Download{File: file, Offset: offset, End: end}
	if offset == end {
		d.Body = io.NopCloser(strings.NewReader(""))
		return d, nil
	}

	adapter, err := s.adapters.forFile(ctx, file)
	if err != nil {
		return nil, err
	}
	body, err := adapter.DownloadFile(ctx, file, offset, end)
	if err != nil {
		log.Errorf("[FileService.Download] 读取文件数据失败, file_id: %s, error: %v", file.ID, err)
		return nil, err
	}
	d.Body = body
	return d, nil
}

func (s *fileService) GetAssetstoreAdapter(ctx context.Context, file *model.File) (assetstore.Adapter, error) {
	return s.adapters.forFile(ctx, file)
}

func (s *fileService) LocalPath(ctx context.Context, fileID string) (string, error) {
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		return "", err
	}
	adapter, err := s.adapters.forFile(ctx, file)
	if err != nil {
		return "", err
	}
	return adapter.LocalFilePath(file)
}

func (s *fileService) CreateLinkFile(ctx context.Context, req LinkFileRequest) (*model.File, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.NotValidf("empty file name")
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NotValidf("link url %q", req.URL)
	}

	file := &model.File{
		ID:        uuid.NewString(),
		Name:      req.Name,
		MimeType:  req.MimeType,
		LinkURL:   strPtr(req.URL),
		CreatorID: req.CreatorID,
	}
	switch req.ParentType {
	case model.ResourceItem:
		if _, err := s.items.FindByID(ctx, req.ParentID); err != nil {
			return nil, err
		}
		file.ItemID = strPtr(req.ParentID)
	case model.ResourceFolder:
		folder, err := s.folders.FindByID(ctx, req.ParentID)
		if err != nil {
			return nil, err
		}
		item, err := newItemIn(ctx, s.items, folder, req.Name, req.CreatorID)
		if err != nil {
			return nil, err
		}
		file.ItemID = &item.ID
	default:
		return nil, errors.NotValidf("link file parent type %q", req.ParentType)
	}

	if err := s.files.Create(ctx, file); err != nil {
		return nil, err
	}
	log.Infof("[FileService.CreateLinkFile] 外链文件创建成功, file_id: %s", file.ID)
	return file, nil
}

func (s *fileService) CopyFile(ctx context.Context, src *model.File, destItem *model.Item, creatorID *string) (*model.File, error) {
	dest := &model.File{
		ID:        uuid.NewString(),
		Name:      src.Name,
		MimeType:  src.MimeType,
		Size:      src.Size,
		ItemID:    &destItem.ID,
		CreatorID: creatorID,
		LinkURL:   src.LinkURL,
	}
	if !src.IsLink() {
		adapter, err := s.adapters.forFile(ctx, src)
		if err != nil {
			return nil, err
		}
		if err := adapter.CopyFile(ctx, src, dest); err != nil {
			return nil, errors.Annotatef(err, "copy data of file %s", src.ID)
		}
	}
	if err := s.files.Create(ctx, dest); err != nil {
		return nil, err
	}
	if err := s.sizes.Propagate(ctx, destItem, dest.Size, false); err != nil {
		log.Warnf("[FileService.CopyFile] 大小传播失败, file_id: %s, error: %v", dest.ID, err)
	}
	return dest, nil
}

func (s *fileService) DeleteFile(ctx context.Context, fileID string) error {
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		return err
	}
	return s.Remove(ctx, file, true)
}

func (s *fileService) Remove(ctx context.Context, file *model.File, propagate bool) error {
	if !file.IsLink() && file.AssetstoreID != nil && !file.Imported {
		adapter, err := s.adapters.forFile(ctx, file)
		if err != nil {
			return err
		}
		if err := adapter.DeleteFile(ctx, file); err != nil {
			log.Errorf("[FileService.Remove] 删除文件数据失败, file_id: %s, error: %v", file.ID, err)
			return err
		}
	}
	if err := s.files.Delete(ctx, file.ID); err != nil {
		return err
	}

	if propagate && file.ItemID != nil && file.Size != 0 {
		item, err := s.items.FindByID(ctx, *file.ItemID)
		if err != nil {
			bestEffort("FileService.Remove", err)
			return nil
		}
		if err := s.sizes.Propagate(ctx, item, -file.Size, false); err != nil {
			log.Warnf("[FileService.Remove] 大小传播失败, file_id: %s, error: %v", file.ID, err)
		}
	}
	return nil
}

func (s *fileService) UpdateMimeType(ctx context.Context, fileID, mimeType string) error {
	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		return err
	}
	file.MimeType = mimeType
	return s.files.Update(ctx, file)
}

// newItemIn 在 folder 下创建一个 Item，根节点取自 folder。
func newItemIn(ctx context.Context, items repository.ItemRepository, folder *model.Folder, name string, creatorID *string) (*model.Item, error) {
	if folder.IsVirtual {
		return nil, errors.NotValidf("virtual folder %s cannot contain items", folder.ID)
	}
	item := &model.Item{
		ID:             uuid.NewString(),
		Name:           name,
		FolderID:       folder.ID,
		BaseParentType: folder.BaseParentType,
		BaseParentID:   folder.BaseParentID,
		CreatorID:      creatorID,
	}
	if err := items.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}
