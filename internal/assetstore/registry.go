package assetstore

import (
	"sync"

	"datavault-go/internal/model"

	"github.com/juju/errors"
)

// Kind 是存储后端的类型。
type Kind string

const (
	KindFilesystem Kind = "filesystem"
	KindMinio      Kind = "minio"
	KindS3         Kind = "s3"
)

// ParseKind 把字符串解析为已知的 Kind。
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFilesystem, KindMinio, KindS3:
		return k, nil
	}
	return "", errors.NotValidf("assetstore type %q", s)
}

// Factory 根据存储配置构造适配器。
type Factory func(store *model.Assetstore) (Adapter, error)

type cachedAdapter struct {
	adapter Adapter
	version int64
}

// Registry 把存储类型映射到适配器工厂，并按存储 id 缓存已构造的适配器。
type Registry struct {
	mu        sync.Mutex
	factories map[Kind]Factory
	adapters  map[string]cachedAdapter
}

// NewRegistry 创建一个注册表，factories 在启动时一次性配置。
func NewRegistry(factories map[Kind]Factory) *Registry {
	r := &Registry{
		factories: make(map[Kind]Factory, len(factories)),
		adapters:  make(map[string]cachedAdapter),
	}
	for k, f := range factories {
		r.factories[k] = f
	}
	return r
}

// Adapter 返回 store 对应的适配器。配置更新（UpdatedAt 改变）后会重新构造。
func (r *Registry) Adapter(store *model.Assetstore) (Adapter, error) {
	if store == nil {
		return nil, errors.NotValidf("nil assetstore")
	}
	kind, err := ParseKind(store.Type)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	version := store.UpdatedAt.UnixNano()
	if c, ok := r.adapters[store.ID]; ok && c.version == version {
		return c.adapter, nil
	}
	factory, ok := r.factories[kind]
	if !ok {
		return nil, errors.NotSupportedf("assetstore type %q", kind)
	}
	adapter, err := factory(store)
	if err != nil {
		return nil, err
	}
	if store.ID != "" {
		r.adapters[store.ID] = cachedAdapter{adapter: adapter, version: version}
	}
	return adapter, nil
}

// Evict 丢弃 id 对应的缓存适配器。
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, id)
}
