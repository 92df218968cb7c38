// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DataProcessEvent 是 data.process 事件的名称，文件持久化之后发布。
const DataProcessEvent = "data.process"

// DataProcessTask 描述一个刚完成上传、等待下游处理的文件。
type DataProcessTask struct {
	FileID       string `json:"file_id"`
	ItemID       string `json:"item_id,omitempty"`
	AssetstoreID string `json:"assetstore_id"`
	Name         string `json:"name"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	UserID       string `json:"user_id,omitempty"`
	// Reference 是创建上传时调用方传入的不透明字符串，原样透传。
	Reference string `json:"reference,omitempty"`
	// Replaced 表示该事件来自替换已有文件的内容。
	Replaced bool `json:"replaced,omitempty"`
}

// Key 返回用于 Kafka 分区和重试计数的键。
func (t DataProcessTask) Key() string {
	return t.FileID
}
