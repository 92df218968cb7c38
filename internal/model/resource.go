// Package model 定义了与数据库表对应的 Go 结构体。
package model

// ResourceType 标识层级树中的节点类型。
type ResourceType string

const (
	ResourceUser       ResourceType = "user"
	ResourceCollection ResourceType = "collection"
	ResourceFolder     ResourceType = "folder"
	ResourceItem       ResourceType = "item"
	ResourceFile       ResourceType = "file"
	// ResourceNone 用于不挂在任何父节点下的上传。
	ResourceNone ResourceType = ""
)

// IsRoot 判断该类型是否是层级树的根（用户或集合）。
func (t ResourceType) IsRoot() bool {
	return t == ResourceUser || t == ResourceCollection
}

// RootRef 指向一个根节点，并携带其缓存的大小。
type RootRef struct {
	Type ResourceType
	ID   string
	Size int64
}
