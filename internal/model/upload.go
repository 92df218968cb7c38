package model

import "time"

// Upload 对应 uploads 表，记录一次进行中的、可断点续传的上传。
// 不变式：0 <= Received <= Size；记录只会在 finalize 或 cancel 时被删除一次。
type Upload struct {
	ID           string       `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name         string       `gorm:"type:varchar(255);not null" json:"name"`
	MimeType     string       `gorm:"type:varchar(255)" json:"mimeType"`
	Size         int64        `gorm:"not null" json:"size"`
	Received     int64        `gorm:"not null;default:0" json:"received"`
	AssetstoreID string       `gorm:"type:varchar(36);not null;index" json:"assetstoreId"`
	ParentType   ResourceType `gorm:"type:varchar(20)" json:"parentType"`
	ParentID     *string      `gorm:"type:varchar(36);index" json:"parentId"`
	UserID       *string      `gorm:"type:varchar(36);index" json:"userId"`
	// FileID 仅在替换已有文件内容时设置。
	FileID       *string `gorm:"type:varchar(36)" json:"fileId"`
	AttachParent bool    `gorm:"not null;default:false" json:"attachParent"`
	Reference    string  `gorm:"type:varchar(1024)" json:"reference,omitempty"`

	// finalize 失败后重试时复用第一次分配的文件 ID 和新建的 Item
	CreatedFileID *string `gorm:"type:varchar(36)" json:"-"`
	CreatedItemID *string `gorm:"type:varchar(36)" json:"-"`

	// 以下为存储适配器私有的暂存状态
	TempFile      string `gorm:"type:varchar(2048)" json:"-"`
	ChecksumState []byte `gorm:"type:blob" json:"-"`
	BlobKey       string `gorm:"type:varchar(1024)" json:"-"`
	MultipartID   string `gorm:"type:varchar(1024)" json:"-"`
	ChunkCount    int    `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Upload) TableName() string {
	return "uploads"
}

// Remaining 返回还需要接收的字节数。
func (u *Upload) Remaining() int64 {
	return u.Size - u.Received
}

// Complete 判断所有字节是否已经接收完毕。
func (u *Upload) Complete() bool {
	return u.Received == u.Size
}
