// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"

	"datavault-go/internal/assetstore"
	"datavault-go/internal/model"
	"datavault-go/internal/repository"
	"datavault-go/pkg/log"

	"github.com/juju/errors"
)

// EventPublisher 是核心向外发布事件的抽象（Kafka 实现见 pkg/kafka）。
// 发布方不等待订阅者。
type EventPublisher interface {
	Publish(ctx context.Context, event string, payload interface{}) error
}

// ProgressSink 用于长时间运行的扫描和导入汇报进度。
type ProgressSink interface {
	Update(current, total int64, message string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, interface{}) error { return nil }

// NopPublisher 返回一个丢弃所有事件的发布者。
func NopPublisher() EventPublisher {
	return nopPublisher{}
}

type nopProgress struct{}

func (nopProgress) Update(int64, int64, string) {}

func progressOrNop(p ProgressSink) ProgressSink {
	if p == nil {
		return nopProgress{}
	}
	return p
}

// adapterResolver 根据存储 id 查找存储配置并从注册表取得适配器。
type adapterResolver struct {
	stores   repository.AssetstoreRepository
	registry *assetstore.Registry
}

func (r adapterResolver) byID(ctx context.Context, id string) (*model.Assetstore, assetstore.Adapter, error) {
	store, err := r.stores.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := r.registry.Adapter(store)
	if err != nil {
		return nil, nil, err
	}
	return store, adapter, nil
}

func (r adapterResolver) forFile(ctx context.Context, file *model.File) (assetstore.Adapter, error) {
	if file.IsLink() {
		return nil, errors.NotSupportedf("assetstore adapter for link file %s", file.ID)
	}
	if file.AssetstoreID == nil {
		return nil, errors.NotFoundf("assetstore of file %s", file.ID)
	}
	_, adapter, err := r.byID(ctx, *file.AssetstoreID)
	return adapter, err
}

func strPtr(s string) *string {
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// bestEffort 记录批量操作中可以容忍的错误：存储不可达只记 debug 日志。
func bestEffort(op string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, assetstore.ErrUnavailable) {
		log.Debugf("[%s] 存储不可达，跳过: %v", op, err)
		return
	}
	log.Warnf("[%s] 忽略错误: %v", op, err)
}
