package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/internal/repository"
	"datavault-go/pkg/log"
	"datavault-go/pkg/tasks"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"
)

// 未声明偏移或长度时使用的占位值。
const (
	UnknownOffset int64 = -1
	UnknownLength int64 = -1
)

// UntrackedAction 决定 UntrackedUploads 只列出还是一并删除。
type UntrackedAction string

const (
	UntrackedList   UntrackedAction = "list"
	UntrackedDelete UntrackedAction = "delete"
)

// CreateUploadRequest 是创建上传的参数。
type CreateUploadRequest struct {
	UserID     *string
	Name       string
	ParentType model.ResourceType
	ParentID   string
	Size       int64
	MimeType   string
	// Reference 会原样透传到 data.process 事件中。
	Reference string
	// AssetstoreID 为空时由选择钩子或当前存储决定。
	AssetstoreID string
	// AttachParent 为 true 时文件直接挂在父资源上，不创建 Item。
	AttachParent bool
}

// ReplaceUploadRequest 是替换已有文件内容的上传参数。
type ReplaceUploadRequest struct {
	FileID       string
	UserID       *string
	Size         int64
	MimeType     string
	Reference    string
	AssetstoreID string
}

// ChunkRequest 是一个分片。
type ChunkRequest struct {
	UploadID string
	// Offset 是客户端认为的写入位置，UnknownOffset 表示不校验。
	Offset int64
	// Length 是分片的声明长度（如 Content-Length），UnknownLength 表示未知。
	Length int64
	Body   io.ReadCloser
}

// UploadResult 是创建上传或写入分片的结果：上传完成时 File 非空，否则 Upload 非空。
type UploadResult struct {
	Upload *model.Upload `json:"upload,omitempty"`
	File   *model.File   `json:"file,omitempty"`
}

// OffsetMismatchError 表示客户端声明的偏移与服务端已接收的字节数不一致。
type OffsetMismatchError struct {
	UploadID string
	Offset   int64
	Received int64
}

func (e *OffsetMismatchError) Error() string {
	return fmt.Sprintf("upload %s: offset %d does not match received %d", e.UploadID, e.Offset, e.Received)
}

// Unwrap 让 errors.Is(err, errors.NotValid) 成立。
func (e *OffsetMismatchError) Unwrap() error {
	return errors.NotValid
}

// UploadService 接口定义了可断点续传的上传状态机。
type UploadService interface {
	CreateUpload(ctx context.Context, req CreateUploadRequest) (*UploadResult, error)
	// CreateUploadToFile 创建一个替换已有文件内容的上传，存储不会沿用文件原来的存储。
	CreateUploadToFile(ctx context.Context, req ReplaceUploadRequest) (*UploadResult, error)
	// HandleChunk 追加一个分片，接收完全部字节时自动完成上传并返回文件。
	HandleChunk(ctx context.Context, req ChunkRequest) (*UploadResult, error)
	// FinalizeUpload 重试一个已接收全部字节但未能完成的上传。
	FinalizeUpload(ctx context.Context, uploadID string) (*model.File, error)
	CancelUpload(ctx context.Context, uploadID string) error
	RequestOffset(ctx context.Context, uploadID string) (int64, error)
	Get(ctx context.Context, uploadID string) (*model.Upload, error)
	List(ctx context.Context, filter repository.UploadFilter, page repository.Page) ([]*model.Upload, error)
	UntrackedUploads(ctx context.Context, action UntrackedAction, assetstoreID string) ([]assetstore.UntrackedUpload, error)
	// CancelStale 取消超过 age 未更新的上传，返回取消的数量。
	CancelStale(ctx context.Context, age time.Duration) (int, error)
}

type uploadService struct {
	uploads   repository.UploadRepository
	files     repository.FileRepository
	stores    repository.AssetstoreRepository
	adapters  adapterResolver
	hierarchy HierarchyService
	sizes     SizePropagator
	publisher EventPublisher
	hooks     Hooks
	lockTTL   time.Duration
}

// UploadServiceOptions 汇总 UploadService 的依赖。
type UploadServiceOptions struct {
	Uploads      repository.UploadRepository
	Files        repository.FileRepository
	Assetstores  repository.AssetstoreRepository
	Registry     *assetstore.Registry
	Hierarchy    HierarchyService
	Sizes        SizePropagator
	Publisher    EventPublisher
	Hooks        Hooks
	ChunkLockTTL time.Duration
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(opts UploadServiceOptions) UploadService {
	publisher := opts.Publisher
	if publisher == nil {
		publisher = NopPublisher()
	}
	ttl := opts.ChunkLockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &uploadService{
		uploads:   opts.Uploads,
		files:     opts.Files,
		stores:    opts.Assetstores,
		adapters:  adapterResolver{stores: opts.Assetstores, registry: opts.Registry},
		hierarchy: opts.Hierarchy,
		sizes:     opts.Sizes,
		publisher: publisher,
		hooks:     opts.Hooks,
		lockTTL:   ttl,
	}
}

func (s *uploadService) CreateUpload(ctx context.Context, req CreateUploadRequest) (*UploadResult, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.NotValidf("empty upload name")
	}
	if req.Size < 0 {
		return nil, errors.NotValidf("negative upload size %d", req.Size)
	}
	if err := s.checkParent(ctx, req.ParentType, req.ParentID, req.AttachParent); err != nil {
		return nil, err
	}

	upload := &model.Upload{
		ID:           uuid.NewString(),
		Name:         req.Name,
		MimeType:     req.MimeType,
		Size:         req.Size,
		ParentType:   req.ParentType,
		ParentID:     strPtr(req.ParentID),
		UserID:       req.UserID,
		AttachParent: req.AttachParent,
		Reference:    req.Reference,
	}
	return s.start(ctx, upload, req.AssetstoreID)
}

func (s *uploadService) CreateUploadToFile(ctx context.Context, req ReplaceUploadRequest) (*UploadResult, error) {
	if req.Size < 0 {
		return nil, errors.NotValidf("negative upload size %d", req.Size)
	}
	file, err := s.files.FindByID(ctx, req.FileID)
	if err != nil {
		return nil, err
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = file.MimeType
	}
	upload := &model.Upload{
		ID:        uuid.NewString(),
		Name:      file.Name,
		MimeType:  mimeType,
		Size:      req.Size,
		UserID:    req.UserID,
		FileID:    &file.ID,
		Reference: req.Reference,
	}
	if file.ItemID != nil {
		upload.ParentType = model.ResourceItem
		upload.ParentID = strPtr(*file.ItemID)
	} else if file.AttachedToID != nil {
		upload.ParentType = file.AttachedToType
		upload.ParentID = strPtr(*file.AttachedToID)
		upload.AttachParent = true
	}
	return s.start(ctx, upload, req.AssetstoreID)
}

// start 选择存储、初始化暂存资源并保存上传记录；零字节上传直接完成。
func (s *uploadService) start(ctx context.Context, upload *model.Upload, assetstoreID string) (*UploadResult, error) {
	store, err := s.chooseStore(ctx, upload, assetstoreID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.adapters.registry.Adapter(store)
	if err != nil {
		return nil, err
	}
	upload.AssetstoreID = store.ID

	if err := adapter.InitUpload(ctx, upload); err != nil {
		log.Errorf("[UploadService.start] 初始化上传失败, assetstore_id: %s, error: %v", store.ID, err)
		return nil, err
	}
	if err := s.uploads.Create(ctx, upload); err != nil {
		bestEffort("UploadService.start", adapter.CancelUpload(ctx, upload))
		return nil, errors.Annotate(err, "save upload")
	}
	log.Infof("[UploadService.start] 上传已创建, upload_id: %s, name: %s, size: %d, assetstore_id: %s",
		upload.ID, upload.Name, upload.Size, store.ID)

	if upload.Size == 0 {
		file, err := s.finalize(ctx, upload)
		if err != nil {
			return nil, err
		}
		return &UploadResult{File: file}, nil
	}
	return &UploadResult{Upload: upload}, nil
}

// chooseStore 依次使用显式指定的存储、选择钩子和当前存储。
func (s *uploadService) chooseStore(ctx context.Context, upload *model.Upload, explicitID string) (*model.Assetstore, error) {
	if explicitID != "" {
		return s.stores.FindByID(ctx, explicitID)
	}
	store, err := s.hooks.selectStore(ctx, upload)
	if err != nil {
		return nil, err
	}
	if store != nil {
		return store, nil
	}
	store, err = s.stores.FindCurrent(ctx)
	if errors.Is(err, errors.NotFound) {
		return nil, assetstore.ErrNoCurrent
	}
	return store, err
}

func (s *uploadService) checkParent(ctx context.Context, parentType model.ResourceType, parentID string, attach bool) error {
	if parentID == "" {
		return errors.NotValidf("upload without parent")
	}
	switch {
	case parentType == model.ResourceFolder:
		folder, err := s.hierarchy.GetFolder(ctx, parentID)
		if err != nil {
			return err
		}
		if folder.IsVirtual && !attach {
			return errors.NotValidf("virtual folder %s cannot contain items", folder.ID)
		}
	case parentType == model.ResourceItem:
		if _, err := s.hierarchy.GetItem(ctx, parentID); err != nil {
			return err
		}
	case parentType.IsRoot():
		if !attach {
			return errors.NotValidf("upload into %s requires attachParent", parentType)
		}
		if _, err := s.hierarchy.GetRoot(ctx, parentType, parentID); err != nil {
			return err
		}
	default:
		return errors.NotValidf("upload parent type %q", parentType)
	}
	return nil
}

func (s *uploadService) HandleChunk(ctx context.Context, req ChunkRequest) (*UploadResult, error) {
	body := req.Body
	if body == nil {
		body = io.NopCloser(strings.NewReader(""))
	}
	handedOff := false
	defer func() {
		if !handedOff {
			body.Close()
		}
	}()

	// 先加锁再读记录，偏移和长度都以锁内读到的 Received 为准
	unlock, err := s.lock(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	upload, err := s.uploads.FindByID(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}
	if req.Offset != UnknownOffset && req.Offset != upload.Received {
		return nil, &OffsetMismatchError{UploadID: upload.ID, Offset: req.Offset, Received: upload.Received}
	}
	if upload.Complete() {
		return nil, errors.NotValidf("upload %s has already received all %d bytes", upload.ID, upload.Size)
	}
	if req.Length != UnknownLength && upload.Received+req.Length > upload.Size {
		return nil, assetstore.ReceivedTooMuch(upload.Received+req.Length, upload.Size)
	}

	_, adapter, err := s.adapters.byID(ctx, upload.AssetstoreID)
	if err != nil {
		return nil, err
	}

	// 多读一个字节，让适配器能识别出超出 Size 的分片
	chunk := readCloser{Reader: io.LimitReader(body, upload.Remaining()+1), Closer: body}
	handedOff = true
	if err := adapter.UploadChunk(ctx, upload, chunk); err != nil {
		log.Warnf("[UploadService.HandleChunk] 写入分片失败, upload_id: %s, received: %d, error: %v", upload.ID, upload.Received, err)
		return nil, err
	}
	if err := s.uploads.Update(ctx, upload); err != nil {
		return nil, errors.Annotate(err, "save upload progress")
	}

	if !upload.Complete() {
		return &UploadResult{Upload: upload}, nil
	}
	file, err := s.finalize(ctx, upload)
	if err != nil {
		return nil, err
	}
	return &UploadResult{File: file}, nil
}

// lock 获取上传的分片写入锁，返回释放函数。
func (s *uploadService) lock(ctx context.Context, uploadID string) (func(), error) {
	locked, err := s.uploads.AcquireChunkLock(ctx, uploadID, s.lockTTL)
	if err != nil {
		return nil, errors.Annotate(err, "acquire chunk lock")
	}
	if !locked {
		return nil, errors.AlreadyExistsf("chunk in progress for upload %s", uploadID)
	}
	return func() {
		if err := s.uploads.ReleaseChunkLock(context.WithoutCancel(ctx), uploadID); err != nil {
			log.Warnf("[UploadService.lock] 释放分片锁失败, upload_id: %s, error: %v", uploadID, err)
		}
	}, nil
}

func (s *uploadService) FinalizeUpload(ctx context.Context, uploadID string) (*model.File, error) {
	unlock, err := s.lock(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	upload, err := s.uploads.FindByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if !upload.Complete() {
		return nil, errors.NotValidf("upload %s has received %d of %d bytes", upload.ID, upload.Received, upload.Size)
	}
	return s.finalize(ctx, upload)
}

// finalize 把已接收完的上传提交为文件。只有全部成功时才删除上传记录，失败的上传可以重试。
func (s *uploadService) finalize(ctx context.Context, upload *model.Upload) (*model.File, error) {
	switch res := s.hooks.runBefore(ctx, upload); res.Action {
	case HookAbort:
		return nil, res.Err
	case HookOverride:
		// 钩子接管了结果，暂存数据不再需要
		if _, adapter, err := s.adapters.byID(ctx, upload.AssetstoreID); err != nil {
			bestEffort("UploadService.finalize", err)
		} else {
			bestEffort("UploadService.finalize", adapter.CancelUpload(ctx, upload))
		}
		if err := s.uploads.Delete(ctx, upload.ID); err != nil {
			return nil, err
		}
		return res.File, nil
	}

	_, adapter, err := s.adapters.byID(ctx, upload.AssetstoreID)
	if err != nil {
		return nil, err
	}

	var (
		file     *model.File
		item     *model.Item
		delta    int64
		replaced = upload.FileID != nil
	)
	if replaced {
		file, item, delta, err = s.finalizeReplace(ctx, upload, adapter)
	} else {
		file, item, err = s.finalizeNew(ctx, upload, adapter)
	}
	if err != nil {
		return nil, err
	}
	if !replaced {
		delta = file.Size
	}

	if item != nil {
		if err := s.sizes.Propagate(ctx, item, delta, false); err != nil {
			log.Warnf("[UploadService.finalize] 大小传播失败, file_id: %s, error: %v", file.ID, err)
		}
	}

	event := tasks.DataProcessTask{
		FileID:       file.ID,
		ItemID:       deref(file.ItemID),
		AssetstoreID: deref(file.AssetstoreID),
		Name:         file.Name,
		MimeType:     file.MimeType,
		Size:         file.Size,
		UserID:       deref(upload.UserID),
		Reference:    upload.Reference,
		Replaced:     replaced,
	}
	if err := s.publisher.Publish(ctx, tasks.DataProcessEvent, event); err != nil {
		log.Warnf("[UploadService.finalize] 发布 %s 事件失败, file_id: %s, error: %v", tasks.DataProcessEvent, file.ID, err)
	}
	log.Infof("[UploadService.finalize] 上传完成, upload_id: %s, file_id: %s, size: %d", upload.ID, file.ID, file.Size)

	switch res := s.hooks.runAfter(ctx, upload, file); res.Action {
	case HookAbort:
		return nil, res.Err
	case HookOverride:
		return res.File, nil
	}
	return file, nil
}

// finalizeNew 为上传创建新文件。文件 ID 和新建的 Item 在保存文件前记录到上传上，
// 之后任何一步失败，重试都会复用它们，不会产生第二个文件或 Item。
func (s *uploadService) finalizeNew(ctx context.Context, upload *model.Upload, adapter assetstore.Adapter) (*model.File, *model.Item, error) {
	if upload.CreatedFileID != nil {
		saved, err := s.files.FindByID(ctx, *upload.CreatedFileID)
		switch {
		case err == nil:
			// 文件已保存，只是上传记录没能删除
			return s.finishSaved(ctx, upload, saved)
		case !errors.Is(err, errors.NotFound):
			return nil, nil, err
		}
	}

	fileID := uuid.NewString()
	if upload.CreatedFileID != nil {
		fileID = *upload.CreatedFileID
	}
	file := &model.File{
		ID:        fileID,
		Name:      upload.Name,
		MimeType:  upload.MimeType,
		Size:      upload.Size,
		CreatorID: upload.UserID,
	}
	if err := adapter.FinalizeUpload(ctx, upload, file); err != nil {
		log.Errorf("[UploadService.finalizeNew] 提交数据失败, upload_id: %s, error: %v", upload.ID, err)
		return nil, nil, err
	}

	item, created, err := s.uploadItem(ctx, upload)
	if err != nil {
		return nil, nil, err
	}
	if upload.AttachParent {
		file.AttachedToType = upload.ParentType
		file.AttachedToID = strPtr(deref(upload.ParentID))
	}
	if item != nil {
		file.ItemID = &item.ID
	}
	if created {
		upload.CreatedItemID = &item.ID
	}

	if upload.CreatedFileID == nil || created {
		upload.CreatedFileID = &file.ID
		if err := s.uploads.Update(ctx, upload); err != nil {
			if created {
				bestEffort("UploadService.finalizeNew", s.hierarchy.DeleteItem(ctx, item.ID))
			}
			return nil, nil, errors.Annotate(err, "save upload before file")
		}
	}

	if err := s.files.Create(ctx, file); err != nil {
		return nil, nil, errors.Annotate(err, "save file")
	}
	if err := s.uploads.Delete(ctx, upload.ID); err != nil {
		return nil, nil, errors.Annotate(err, "delete finalized upload")
	}
	return file, item, nil
}

// uploadItem 返回文件所属的 Item；上传到文件夹时新建一个，重试时复用上一次新建的。
func (s *uploadService) uploadItem(ctx context.Context, upload *model.Upload) (*model.Item, bool, error) {
	parentID := deref(upload.ParentID)
	switch {
	case upload.AttachParent:
		return nil, false, nil
	case upload.ParentType == model.ResourceItem:
		item, err := s.hierarchy.GetItem(ctx, parentID)
		return item, false, err
	case upload.ParentType != model.ResourceFolder:
		return nil, false, nil
	}
	if upload.CreatedItemID != nil {
		item, err := s.hierarchy.GetItem(ctx, *upload.CreatedItemID)
		if err == nil {
			return item, false, nil
		}
		if !errors.Is(err, errors.NotFound) {
			return nil, false, err
		}
	}
	item, err := s.hierarchy.CreateItem(ctx, parentID, upload.Name, "", upload.UserID)
	if err != nil {
		return nil, false, errors.Annotate(err, "create item for upload")
	}
	return item, true, nil
}

// finishSaved 完成一个文件已经保存、但上传记录还在的 finalize。
func (s *uploadService) finishSaved(ctx context.Context, upload *model.Upload, file *model.File) (*model.File, *model.Item, error) {
	var item *model.Item
	if file.ItemID != nil {
		found, err := s.hierarchy.GetItem(ctx, *file.ItemID)
		if err != nil {
			return nil, nil, err
		}
		item = found
	}
	if err := s.uploads.Delete(ctx, upload.ID); err != nil {
		return nil, nil, errors.Annotate(err, "delete finalized upload")
	}
	return file, item, nil
}

func (s *uploadService) finalizeReplace(ctx context.Context, upload *model.Upload, adapter assetstore.Adapter) (*model.File, *model.Item, int64, error) {
	old, err := s.files.FindByID(ctx, *upload.FileID)
	if err != nil {
		return nil, nil, 0, err
	}
	file := *old
	file.MimeType = upload.MimeType
	file.Size = upload.Size
	file.LinkURL = nil
	if err := adapter.FinalizeUpload(ctx, upload, &file); err != nil {
		log.Errorf("[UploadService.finalizeReplace] 提交数据失败, upload_id: %s, error: %v", upload.ID, err)
		return nil, nil, 0, err
	}
	if err := s.files.Update(ctx, &file); err != nil {
		return nil, nil, 0, errors.Annotate(err, "update replaced file")
	}
	if err := s.uploads.Delete(ctx, upload.ID); err != nil {
		return nil, nil, 0, errors.Annotate(err, "delete finalized upload")
	}

	// 新数据提交后再删除旧数据；同一位置（内容寻址去重）时不删除
	sameBlob := old.AssetstoreID != nil && file.AssetstoreID != nil &&
		*old.AssetstoreID == *file.AssetstoreID && old.Path == file.Path
	if !old.IsLink() && !old.Imported && old.AssetstoreID != nil && !sameBlob {
		if oldAdapter, err := s.adapters.forFile(ctx, old); err != nil {
			log.Warnf("[UploadService.finalizeReplace] 无法删除旧数据, file_id: %s, error: %v", old.ID, err)
		} else if err := oldAdapter.DeleteFile(ctx, old); err != nil {
			log.Warnf("[UploadService.finalizeReplace] 删除旧数据失败, file_id: %s, error: %v", old.ID, err)
		}
	}

	var item *model.Item
	if file.ItemID != nil {
		found, err := s.hierarchy.GetItem(ctx, *file.ItemID)
		if err != nil {
			bestEffort("UploadService.finalizeReplace", err)
		} else {
			item = found
		}
	}
	return &file, item, file.Size - old.Size, nil
}

func (s *uploadService) CancelUpload(ctx context.Context, uploadID string) error {
	upload, err := s.uploads.FindByID(ctx, uploadID)
	if err != nil {
		return err
	}
	return s.cancel(ctx, upload)
}

func (s *uploadService) cancel(ctx context.Context, upload *model.Upload) error {
	if _, adapter, err := s.adapters.byID(ctx, upload.AssetstoreID); err != nil {
		bestEffort("UploadService.cancel", err)
	} else {
		bestEffort("UploadService.cancel", adapter.CancelUpload(ctx, upload))
	}
	if err := s.uploads.Delete(ctx, upload.ID); err != nil {
		return err
	}
	log.Infof("[UploadService.cancel] 上传已取消, upload_id: %s", upload.ID)
	return nil
}

func (s *uploadService) RequestOffset(ctx context.Context, uploadID string) (int64, error) {
	upload, err := s.uploads.FindByID(ctx, uploadID)
	if err != nil {
		return 0, err
	}
	_, adapter, err := s.adapters.byID(ctx, upload.AssetstoreID)
	if err != nil {
		return 0, err
	}
	before := *upload
	offset, err := adapter.RequestOffset(ctx, upload)
	if err != nil {
		return 0, err
	}
	if offset != before.Received || upload.ChunkCount != before.ChunkCount {
		log.Warnf("[UploadService.RequestOffset] 后端偏移与记录不一致, upload_id: %s, received: %d, offset: %d", upload.ID, before.Received, offset)
		upload.Received = offset
		if err := s.uploads.Update(ctx, upload); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

func (s *uploadService) Get(ctx context.Context, uploadID string) (*model.Upload, error) {
	return s.uploads.FindByID(ctx, uploadID)
}

func (s *uploadService) List(ctx context.Context, filter repository.UploadFilter, page repository.Page) ([]*model.Upload, error) {
	return s.uploads.List(ctx, filter, page)
}

func (s *uploadService) UntrackedUploads(ctx context.Context, action UntrackedAction, assetstoreID string) ([]assetstore.UntrackedUpload, error) {
	if action != UntrackedList && action != UntrackedDelete {
		return nil, errors.NotValidf("untracked uploads action %q", action)
	}
	var stores []*model.Assetstore
	if assetstoreID != "" {
		store, err := s.stores.FindByID(ctx, assetstoreID)
		if err != nil {
			return nil, err
		}
		stores = []*model.Assetstore{store}
	} else {
		all, err := s.stores.List(ctx)
		if err != nil {
			return nil, err
		}
		stores = all
	}

	var (
		mu     sync.Mutex
		result []assetstore.UntrackedUpload
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, store := range stores {
		store := store
		g.Go(func() error {
			adapter, err := s.adapters.registry.Adapter(store)
			if err != nil {
				bestEffort("UploadService.UntrackedUploads", err)
				return nil
			}
			known, err := s.uploads.List(gctx, repository.UploadFilter{AssetstoreID: store.ID}, repository.Page{})
			if err != nil {
				return err
			}
			found, err := adapter.UntrackedUploads(gctx, known, action == UntrackedDelete)
			switch {
			case errors.Is(err, assetstore.ErrUnavailable), errors.Is(err, errors.NotSupported):
				bestEffort("UploadService.UntrackedUploads", err)
				return nil
			case err != nil:
				return errors.Annotatef(err, "scan assetstore %s", store.ID)
			}
			mu.Lock()
			result = append(result, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *uploadService) CancelStale(ctx context.Context, age time.Duration) (int, error) {
	stale, err := s.uploads.List(ctx, repository.UploadFilter{MinimumAge: age}, repository.Page{})
	if err != nil {
		return 0, err
	}
	canceled := 0
	for _, u := range stale {
		if err := s.cancel(ctx, u); err != nil {
			log.Warnf("[UploadService.CancelStale] 取消上传失败, upload_id: %s, error: %v", u.ID, err)
			continue
		}
		canceled++
	}
	return canceled, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}
