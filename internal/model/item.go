package model

import "time"

// Item 对应 items 表，拥有零个或多个 File。
type Item struct {
	ID             string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name           string       `gorm:"type:varchar(255);not null" json:"name"`
	Description    string       `gorm:"type:text" json:"description"`
	FolderID       string       `gorm:"type:varchar(36);not null;index" json:"folderId"`
	BaseParentType ResourceType `gorm:"type:varchar(20)" json:"baseParentType"`
	BaseParentID   string       `gorm:"type:varchar(36);index" json:"baseParentId"`
	CreatorID      *string      `gorm:"type:varchar(36)" json:"creatorId"`
	// Size 是子文件大小之和的缓存。
	Size      int64     `gorm:"not null;default:0" json:"size"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Item) TableName() string {
	return "items"
}

// BaseParent 返回缓存的根节点引用。
func (i *Item) BaseParent() RootRef {
	return RootRef{Type: i.BaseParentType, ID: i.BaseParentID}
}
