package model

import "time"

// File 对应 files 表，是层级树的叶子内容记录。
// AssetstoreID 与 LinkURL 二者有且仅有一个被设置。
type File struct {
	ID       string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name     string `gorm:"type:varchar(255);not null" json:"name"`
	MimeType string `gorm:"type:varchar(255)" json:"mimeType"`
	Size     int64  `gorm:"not null;default:0" json:"size"`
	// ItemID 为空时文件直接挂在 AttachedToType/AttachedToID 指向的资源上。
	ItemID         *string      `gorm:"type:varchar(36);index" json:"itemId"`
	AttachedToType ResourceType `gorm:"type:varchar(20)" json:"attachedToType,omitempty"`
	AttachedToID   *string      `gorm:"type:varchar(36)" json:"attachedToId,omitempty"`
	AssetstoreID   *string      `gorm:"type:varchar(36);index" json:"assetstoreId"`
	LinkURL        *string      `gorm:"type:varchar(2048)" json:"linkUrl,omitempty"`
	CreatorID      *string      `gorm:"type:varchar(36)" json:"creatorId"`

	// 以下为存储后端的定位信息
	SHA512 string `gorm:"type:varchar(128);index" json:"sha512,omitempty"`
	Path   string `gorm:"type:varchar(2048)" json:"-"`
	// Imported 的文件字节不归本系统所有，删除记录时不会删除后端数据。
	Imported bool `gorm:"not null;default:false" json:"imported"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (File) TableName() string {
	return "files"
}

// IsLink 判断文件是否是外链文件。
func (f *File) IsLink() bool {
	return f.LinkURL != nil && *f.LinkURL != ""
}
