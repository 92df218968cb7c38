// Package checksum 提供可在多次分片请求之间序列化和恢复的增量摘要。
package checksum

import (
	"crypto/sha512"
	"encoding"
	"encoding/hex"
	"fmt"
	"hash"
)

// Streaming 是一个可序列化的 SHA-512 增量摘要。
// 不是并发安全的。
type Streaming struct {
	h hash.Hash
}

// New 创建一个空的摘要状态。
func New() *Streaming {
	return &Streaming{h: sha512.New()}
}

// Restore 从 State 返回的字节恢复摘要状态。空状态等价于 New。
func Restore(state []byte) (*Streaming, error) {
	s := New()
	if len(state) == 0 {
		return s, nil
	}
	u, ok := s.h.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, fmt.Errorf("sha512 state is not restorable")
	}
	if err := u.UnmarshalBinary(state); err != nil {
		return nil, fmt.Errorf("restore checksum state: %w", err)
	}
	return s, nil
}

// Write 实现 io.Writer。
func (s *Streaming) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// State 序列化当前摘要状态。
func (s *Streaming) State() ([]byte, error) {
	m, ok := s.h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("sha512 state is not serializable")
	}
	return m.MarshalBinary()
}

// Hex 返回当前已写入数据的十六进制摘要，不影响后续写入。
func (s *Streaming) Hex() string {
	return hex.EncodeToString(s.h.Sum(nil))
}
