package model

import "time"

// User 对应 users 表，是层级树的根之一。
type User struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Login     string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"login"`
	Admin     bool      `gorm:"not null;default:false" json:"admin"`
	Size      int64     `gorm:"not null;default:0" json:"size"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// Collection 对应 collections 表，是层级树的另一种根。
type Collection struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatorID   *string   `gorm:"type:varchar(36)" json:"creatorId"`
	Public      bool      `gorm:"not null;default:false" json:"public"`
	Size        int64     `gorm:"not null;default:0" json:"size"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Collection) TableName() string {
	return "collections"
}
