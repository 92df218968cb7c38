// Package pipeline 定义了 data.process 事件的下游处理流程。
package pipeline

import (
	"context"
	"fmt"

	"datavault-go/internal/service"
	"datavault-go/pkg/log"
	"datavault-go/pkg/tasks"

	"github.com/gabriel-vasile/mimetype"
	"github.com/juju/errors"
)

// sniffLength 是 MIME 类型检测读取的文件头字节数。
const sniffLength = 3072

// genericMimeType 是客户端没有声明类型时常见的占位类型。
const genericMimeType = "application/octet-stream"

// Processor 封装了文件处理的所有依赖和逻辑。
type Processor struct {
	fileService service.FileService
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(fileService service.FileService) *Processor {
	return &Processor{fileService: fileService}
}

// Process 为声明类型为空或通用类型的文件检测 MIME 类型。
// 文件在事件投递前已被删除时直接返回成功，避免无意义的重试。
func (p *Processor) Process(ctx context.Context, task tasks.DataProcessTask) error {
	if task.MimeType != "" && task.MimeType != genericMimeType {
		return nil
	}
	log.Infof("[Processor.Process] 开始检测文件类型, file_id: %s, name: %s", task.FileID, task.Name)

	d, err := p.fileService.Download(ctx, task.FileID, 0, sniffLength)
	if errors.Is(err, errors.NotFound) {
		log.Warnf("[Processor.Process] 文件已不存在, 跳过, file_id: %s", task.FileID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取文件头失败: %w", err)
	}
	if d.RedirectURL != "" {
		return nil
	}
	defer d.Body.Close()

	mt, err := mimetype.DetectReader(d.Body)
	if err != nil {
		return fmt.Errorf("检测文件类型失败: %w", err)
	}
	if mt.String() == d.File.MimeType {
		return nil
	}

	err = p.fileService.UpdateMimeType(ctx, task.FileID, mt.String())
	if errors.Is(err, errors.NotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("更新文件类型失败: %w", err)
	}
	log.Infof("[Processor.Process] 文件类型已更新, file_id: %s, mime_type: %s", task.FileID, mt.String())
	return nil
}
