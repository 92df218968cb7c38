package model

import "time"

// Folder 对应 folders 表。
// Size 只统计直接子 Item 的字节数；子文件夹的字节数累加在根节点上。
type Folder struct {
	ID             string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name           string       `gorm:"type:varchar(255);not null" json:"name"`
	Description    string       `gorm:"type:text" json:"description"`
	ParentType     ResourceType `gorm:"type:varchar(20);not null;index:idx_folder_parent" json:"parentCollection"`
	ParentID       string       `gorm:"type:varchar(36);not null;index:idx_folder_parent" json:"parentId"`
	BaseParentType ResourceType `gorm:"type:varchar(20)" json:"baseParentType"`
	BaseParentID   string       `gorm:"type:varchar(36);index" json:"baseParentId"`
	CreatorID      *string      `gorm:"type:varchar(36)" json:"creatorId"`
	Public         bool         `gorm:"not null;default:false" json:"public"`
	// IsVirtual 的文件夹内容由查询计算，不能同时拥有物理子节点。
	IsVirtual bool      `gorm:"not null;default:false" json:"isVirtual"`
	Size      int64     `gorm:"not null;default:0" json:"size"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Folder) TableName() string {
	return "folders"
}

// BaseParent 返回缓存的根节点引用。
func (f *Folder) BaseParent() RootRef {
	return RootRef{Type: f.BaseParentType, ID: f.BaseParentID}
}
