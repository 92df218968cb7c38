// Package assetstore 定义了存储后端适配器的统一契约以及按类型构造适配器的注册表。
package assetstore

import (
	"context"
	"io"
	"regexp"

	"datavault-go/internal/model"
)

// Adapter 是所有存储后端（本地文件系统、MinIO、S3）都必须实现的契约。
// 上传服务和层级模型只通过该接口读写字节，从而与具体后端解耦。
type Adapter interface {
	// InitUpload 为上传分配后端私有的暂存资源，并把定位信息写回 upload。
	// 失败时不得留下部分资源。
	InitUpload(ctx context.Context, upload *model.Upload) error

	// UploadChunk 把 chunk 追加到暂存数据上，更新增量校验和并增加 Received。
	// 无论成功与否都会关闭 chunk；任何 I/O 失败都不会推进 Received。
	// 若写入后 Received 超过 Size，返回 NotValid 错误并丢弃本次写入。
	UploadChunk(ctx context.Context, upload *model.Upload, chunk io.ReadCloser) error

	// RequestOffset 返回客户端应当继续写入的字节偏移。
	RequestOffset(ctx context.Context, upload *model.Upload) (int64, error)

	// FinalizeUpload 在 Received == Size 时被调用一次，把暂存数据提交到永久位置
	// 并把定位信息填入 file。它不会删除 upload 记录。
	FinalizeUpload(ctx context.Context, upload *model.Upload, file *model.File) error

	// CancelUpload 释放暂存数据，资源已不存在时不报错。
	CancelUpload(ctx context.Context, upload *model.Upload) error

	// DeleteFile 删除已提交的数据，后端不可达时返回 ErrUnavailable。
	DeleteFile(ctx context.Context, file *model.File) error

	// DownloadFile 返回 [offset, endByte) 区间的字节流，endByte < 0 表示读到末尾。
	DownloadFile(ctx context.Context, file *model.File, offset, endByte int64) (io.ReadCloser, error)

	// CopyFile 在后端内部复制（或引用）src 的数据，并把定位信息写入 dest。
	CopyFile(ctx context.Context, src, dest *model.File) error

	// ImportData 扫描后端中已存在的目录或前缀，把尚未被跟踪的文件登记到层级树中。
	ImportData(ctx context.Context, sink ImportSink, params ImportParams) error

	// UntrackedUploads 找出后端中没有对应上传记录的暂存数据，delete 为 true 时一并删除。
	UntrackedUploads(ctx context.Context, known []*model.Upload, delete bool) ([]UntrackedUpload, error)

	// CapacityInfo 返回后端容量，不支持时返回 NotSupported 错误。
	CapacityInfo(ctx context.Context) (*Capacity, error)

	// LocalFilePath 返回文件在本机上的路径，后端不可本地寻址时返回 NotSupported 错误。
	LocalFilePath(file *model.File) (string, error)
}

// Capacity 描述存储后端的容量。
type Capacity struct {
	Free  uint64 `json:"free"`
	Total uint64 `json:"total"`
}

// UntrackedUpload 描述一个后端中找不到上传记录的暂存对象。
type UntrackedUpload struct {
	AssetstoreID string `json:"assetstoreId"`
	// Key 是临时文件路径、分片对象前缀或 multipart 对象键。
	Key string `json:"key"`
	// UploadID 是后端的 multipart 上传 id（如果有）。
	UploadID string `json:"uploadId,omitempty"`
	Size     int64  `json:"size"`
	Removed  bool   `json:"removed"`
}

// Target 指向层级树中的一个可以容纳导入内容的节点。
type Target struct {
	Type model.ResourceType
	ID   string
}

// ImportSink 由层级服务实现，适配器在扫描时通过它创建文件夹和文件。
type ImportSink interface {
	// ImportFolder 在 parent 下查找或创建名为 name 的文件夹。
	ImportFolder(ctx context.Context, parent Target, name string) (Target, error)
	// ImportFile 在 parent 下登记一个导入的文件（会为其创建 Item 并传播大小）。
	ImportFile(ctx context.Context, parent Target, file *model.File) error
}

// Progress 用于长时间运行的扫描汇报进度。
type Progress interface {
	Update(current, total int64, message string)
}

// ImportParams 控制一次导入。
type ImportParams struct {
	// Path 是文件系统目录或对象键前缀。
	Path   string
	Parent Target
	// Include / Exclude 按文件名过滤，为空表示不过滤。
	Include *regexp.Regexp
	Exclude *regexp.Regexp
	// Canceled 被周期性调用，返回 true 时扫描尽快结束并返回 ErrCanceled。
	Canceled func() bool
	Progress Progress
}

// Accept 判断文件名是否满足过滤条件。
func (p ImportParams) Accept(name string) bool {
	if p.Include != nil && !p.Include.MatchString(name) {
		return false
	}
	if p.Exclude != nil && p.Exclude.MatchString(name) {
		return false
	}
	return true
}

// IsCanceled 判断调用方是否要求取消。
func (p ImportParams) IsCanceled() bool {
	return p.Canceled != nil && p.Canceled()
}

// Report 向进度通道汇报，Progress 为空时什么也不做。
func (p ImportParams) Report(current, total int64, message string) {
	if p.Progress != nil {
		p.Progress.Update(current, total, message)
	}
}

// FileIndex 让适配器查询已登记的文件记录，由文件仓库实现。
type FileIndex interface {
	// CountByHash 统计某存储中引用该内容哈希的文件数（不含 excludeID）。
	CountByHash(ctx context.Context, assetstoreID, sha512, excludeID string) (int64, error)
	// ExistsByPath 判断某存储中是否已有文件记录指向 path。
	ExistsByPath(ctx context.Context, assetstoreID, path string) (bool, error)
}
