package model

import "time"

// Assetstore 对应 assetstores 表，描述一个存储后端。
// 同一时刻至多有一个 Current 为 true；CurrentMark 上的唯一索引保证这一点
// （非当前存储的 CurrentMark 为 NULL）。
type Assetstore struct {
	ID          string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Type        string `gorm:"type:varchar(20);not null" json:"type"`
	Current     bool   `gorm:"not null;default:false" json:"current"`
	CurrentMark *int8  `gorm:"uniqueIndex" json:"-"`

	// filesystem
	Root string `gorm:"type:varchar(2048)" json:"root,omitempty"`

	// minio / s3
	Endpoint        string `gorm:"type:varchar(1024)" json:"endpoint,omitempty"`
	Region          string `gorm:"type:varchar(64)" json:"region,omitempty"`
	Bucket          string `gorm:"type:varchar(255)" json:"bucket,omitempty"`
	Prefix          string `gorm:"type:varchar(1024)" json:"prefix,omitempty"`
	AccessKeyID     string `gorm:"type:varchar(255)" json:"accessKeyId,omitempty"`
	SecretAccessKey string `gorm:"type:varchar(255)" json:"-"`
	UseSSL          bool   `gorm:"not null;default:false" json:"useSsl"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Assetstore) TableName() string {
	return "assetstores"
}
