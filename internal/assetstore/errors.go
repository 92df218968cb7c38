package assetstore

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// ErrUnavailable 表示适配器无法访问其后端（磁盘丢失、网络存储宕机等）。
	ErrUnavailable = errors.ConstError("assetstore unavailable")
	// ErrCanceled 表示导入或扫描被调用方取消。
	ErrCanceled = errors.ConstError("operation canceled")
)

// ErrNoCurrent 在没有配置当前存储时返回，同时满足 errors.Is(err, errors.NotFound)。
var ErrNoCurrent = fmt.Errorf("no current assetstore: %w", errors.NotFound)

// Unavailable 把后端错误包装为 ErrUnavailable。
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// ReceivedTooMuch 构造“接收字节过多”的校验错误。
func ReceivedTooMuch(received, size int64) error {
	return errors.NotValidf("received too many bytes (%d > %d)", received, size)
}

// MinChunkSize 是对象存储中非最后一个分片的最小字节数（S3 multipart / compose 的限制）。
const MinChunkSize = 5 << 20

// ChunkTooSmall 构造“分片过小”的校验错误。
func ChunkTooSmall(n int64) error {
	return errors.NotValidf("chunk of %d bytes is smaller than the %d byte minimum and is not the final chunk", n, MinChunkSize)
}
