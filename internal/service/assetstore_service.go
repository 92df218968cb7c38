package service

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/internal/repository"
	"datavault-go/pkg/log"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/juju/errors"
)

// AssetstoreRequest 是创建存储的参数。
type AssetstoreRequest struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	Root            string `json:"root"`
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	Prefix          string `json:"prefix"`
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	UseSSL          bool   `json:"useSsl"`
	// Current 为 true 时创建后立即设为当前存储。
	Current bool `json:"current"`
}

// AssetstoreInfo 是存储列表中的一项，附带容量信息。
type AssetstoreInfo struct {
	*model.Assetstore
	Capacity  *assetstore.Capacity `json:"capacity,omitempty"`
	FreeText  string               `json:"freeText,omitempty"`
	TotalText string               `json:"totalText,omitempty"`
}

// ImportRequest 是导入已有数据的参数。
type ImportRequest struct {
	AssetstoreID string
	Path         string
	ParentType   model.ResourceType
	ParentID     string
	// Include / Exclude 是按文件名过滤的正则表达式。
	Include string
	Exclude string
	UserID  *string
}

// AssetstoreService 接口定义了存储后端的管理操作。
type AssetstoreService interface {
	// GetCurrent 返回当前存储，没有时返回 assetstore.ErrNoCurrent。
	GetCurrent(ctx context.Context) (*model.Assetstore, error)
	Get(ctx context.Context, id string) (*model.Assetstore, error)
	Adapter(ctx context.Context, id string) (assetstore.Adapter, error)
	Create(ctx context.Context, req AssetstoreRequest) (*model.Assetstore, error)
	List(ctx context.Context) ([]*AssetstoreInfo, error)
	SetCurrent(ctx context.Context, id string) error
	// Remove 删除存储；仍有文件引用它时拒绝。
	Remove(ctx context.Context, id string) error
	// ImportData 把存储中已有的数据登记到层级树中，返回导入的文件数。
	ImportData(ctx context.Context, req ImportRequest, tracker JobTracker) (int, error)
	// Bootstrap 在没有任何存储时按配置创建一个并设为当前存储。
	Bootstrap(ctx context.Context, req AssetstoreRequest) (*model.Assetstore, error)
}

type assetstoreService struct {
	stores    repository.AssetstoreRepository
	files     repository.FileRepository
	uploads   repository.UploadRepository
	registry  *assetstore.Registry
	hierarchy HierarchyService
}

// NewAssetstoreService 创建一个新的 AssetstoreService 实例。
func NewAssetstoreService(
	stores repository.AssetstoreRepository,
	files repository.FileRepository,
	uploads repository.UploadRepository,
	registry *assetstore.Registry,
	hierarchy HierarchyService,
) AssetstoreService {
	return &assetstoreService{
		stores:    stores,
		files:     files,
		uploads:   uploads,
		registry:  registry,
		hierarchy: hierarchy,
	}
}

func (s *assetstoreService) GetCurrent(ctx context.Context) (*model.Assetstore, error) {
	store, err := s.stores.FindCurrent(ctx)
	if errors.Is(err, errors.NotFound) {
		return nil, assetstore.ErrNoCurrent
	}
	return store, err
}

func (s *assetstoreService) Get(ctx context.Context, id string) (*model.Assetstore, error) {
	return s.stores.FindByID(ctx, id)
}

func (s *assetstoreService) Adapter(ctx context.Context, id string) (assetstore.Adapter, error) {
	_, adapter, err := adapterResolver{stores: s.stores, registry: s.registry}.byID(ctx, id)
	return adapter, err
}

func (s *assetstoreService) Create(ctx context.Context, req AssetstoreRequest) (*model.Assetstore, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.NotValidf("empty assetstore name")
	}
	kind, err := assetstore.ParseKind(req.Type)
	if err != nil {
		return nil, err
	}
	switch kind {
	case assetstore.KindFilesystem:
		if req.Root == "" {
			return nil, errors.NotValidf("filesystem assetstore without root")
		}
	case assetstore.KindMinio, assetstore.KindS3:
		if req.Bucket == "" {
			return nil, errors.NotValidf("%s assetstore without bucket", kind)
		}
	}
	if _, err := s.stores.FindByName(ctx, req.Name); err == nil {
		return nil, errors.AlreadyExistsf("assetstore %q", req.Name)
	} else if !errors.Is(err, errors.NotFound) {
		return nil, err
	}

	store := &model.Assetstore{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Type:            string(kind),
		Root:            req.Root,
		Endpoint:        req.Endpoint,
		Region:          req.Region,
		Bucket:          req.Bucket,
		Prefix:          req.Prefix,
		AccessKeyID:     req.AccessKeyID,
		SecretAccessKey: req.SecretAccessKey,
		UseSSL:          req.UseSSL,
	}
	// 构造一次适配器以校验配置（目录可写、bucket 可达等）
	if _, err := s.registry.Adapter(store); err != nil {
		s.registry.Evict(store.ID)
		return nil, errors.NewNotValid(err, "invalid assetstore configuration")
	}
	s.registry.Evict(store.ID)

	if err := s.stores.Create(ctx, store); err != nil {
		return nil, err
	}

	makeCurrent := req.Current
	if !makeCurrent {
		if _, err := s.stores.FindCurrent(ctx); errors.Is(err, errors.NotFound) {
			makeCurrent = true
		}
	}
	if makeCurrent {
		if err := s.stores.SetCurrent(ctx, store.ID); err != nil {
			return nil, errors.Annotate(err, "mark new assetstore current")
		}
		store.Current = true
	}
	log.Infof("[AssetstoreService.Create] 存储创建成功, id: %s, name: %s, type: %s, current: %t", store.ID, store.Name, store.Type, store.Current)
	return store, nil
}

func (s *assetstoreService) List(ctx context.Context) ([]*AssetstoreInfo, error) {
	stores, err := s.stores.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*AssetstoreInfo, 0, len(stores))
	for _, store := range stores {
		info := &AssetstoreInfo{Assetstore: store}
		out = append(out, info)

		adapter, err := s.registry.Adapter(store)
		if err != nil {
			bestEffort("AssetstoreService.List", err)
			continue
		}
		capacity, err := adapter.CapacityInfo(ctx)
		if err != nil {
			if !errors.Is(err, errors.NotSupported) {
				bestEffort("AssetstoreService.List", err)
			}
			continue
		}
		info.Capacity = capacity
		info.FreeText = humanize.IBytes(capacity.Free)
		info.TotalText = humanize.IBytes(capacity.Total)
	}
	return out, nil
}

func (s *assetstoreService) SetCurrent(ctx context.Context, id string) error {
	if err := s.stores.SetCurrent(ctx, id); err != nil {
		return err
	}
	log.Infof("[AssetstoreService.SetCurrent] 当前存储已切换, id: %s", id)
	return nil
}

func (s *assetstoreService) Remove(ctx context.Context, id string) error {
	store, err := s.stores.FindByID(ctx, id)
	if err != nil {
		return err
	}
	n, err := s.files.CountByAssetstore(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return errors.NotValidf("assetstore %s is still referenced by %d files", id, n)
	}

	uploads, err := s.uploads.List(ctx, repository.UploadFilter{AssetstoreID: id}, repository.Page{})
	if err != nil {
		return err
	}
	if len(uploads) > 0 {
		adapter, err := s.registry.Adapter(store)
		for _, u := range uploads {
			if err == nil {
				bestEffort("AssetstoreService.Remove", adapter.CancelUpload(ctx, u))
			}
			bestEffort("AssetstoreService.Remove", s.uploads.Delete(ctx, u.ID))
		}
		bestEffort("AssetstoreService.Remove", err)
	}

	if err := s.stores.Delete(ctx, id); err != nil {
		return err
	}
	s.registry.Evict(id)
	log.Infof("[AssetstoreService.Remove] 存储已删除, id: %s, name: %s", id, store.Name)

	if !store.Current {
		return nil
	}
	remaining, err := s.stores.List(ctx)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		log.Warnf("[AssetstoreService.Remove] 已删除最后一个存储，当前没有可用的存储")
		return nil
	}
	return s.SetCurrent(ctx, remaining[0].ID)
}

func (s *assetstoreService) ImportData(ctx context.Context, req ImportRequest, tracker JobTracker) (int, error) {
	_, adapter, err := adapterResolver{stores: s.stores, registry: s.registry}.byID(ctx, req.AssetstoreID)
	if err != nil {
		return 0, err
	}
	params := assetstore.ImportParams{
		Path:   req.Path,
		Parent: assetstore.Target{Type: req.ParentType, ID: req.ParentID},
	}
	if params.Include, err = compileFilter(req.Include); err != nil {
		return 0, err
	}
	if params.Exclude, err = compileFilter(req.Exclude); err != nil {
		return 0, err
	}
	if tracker != nil {
		params.Canceled = tracker.Canceled
		params.Progress = tracker
	}

	switch {
	case req.ParentType == model.ResourceFolder:
		if _, err := s.hierarchy.GetFolder(ctx, req.ParentID); err != nil {
			return 0, err
		}
	case req.ParentType.IsRoot():
		if _, err := s.hierarchy.GetRoot(ctx, req.ParentType, req.ParentID); err != nil {
			return 0, err
		}
	default:
		return 0, errors.NotValidf("import parent type %q", req.ParentType)
	}

	sink := &countingSink{ImportSink: s.hierarchy.ImportSink(req.UserID)}
	err = adapter.ImportData(ctx, sink, params)
	imported := int(sink.files.Load())
	log.Infof("[AssetstoreService.ImportData] 导入结束, assetstore_id: %s, path: %s, files: %d, error: %v", req.AssetstoreID, req.Path, imported, err)
	return imported, err
}

func (s *assetstoreService) Bootstrap(ctx context.Context, req AssetstoreRequest) (*model.Assetstore, error) {
	stores, err := s.stores.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(stores) > 0 || req.Type == "" {
		return nil, nil
	}
	req.Current = true
	return s.Create(ctx, req)
}

func compileFilter(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.NewNotValid(err, "invalid file name pattern")
	}
	return re, nil
}

// countingSink 统计导入的文件数。
type countingSink struct {
	assetstore.ImportSink
	files atomic.Int64
}

func (c *countingSink) ImportFile(ctx context.Context, parent assetstore.Target, file *model.File) error {
	if err := c.ImportSink.ImportFile(ctx, parent, file); err != nil {
		return err
	}
	c.files.Add(1)
	return nil
}
