// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	stderrors "errors"
	"fmt"

	"github.com/juju/errors"
	"gorm.io/gorm"
)

// DefaultBatchSize 是批量遍历时每批读取的记录数。
const DefaultBatchSize = 200

// Page 描述分页和排序参数。
type Page struct {
	Limit  int
	Offset int
	// Sort 是排序字段（created / updated / name / size），为空时按创建时间。
	Sort string
	Desc bool
}

// OrderClause 把 Page 的排序字段翻译成安全的 ORDER BY 子句。
func (p Page) OrderClause() string {
	col := "created_at"
	switch p.Sort {
	case "updated":
		col = "updated_at"
	case "name":
		col = "name"
	case "size":
		col = "size"
	}
	if p.Desc {
		return col + " desc"
	}
	return col + " asc"
}

// translate 把 GORM 的 record not found 转换为 NotFound 错误。
func translate(err error, what, id string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFoundf("%s %s", what, id)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

func paginate(db *gorm.DB, p Page) *gorm.DB {
	db = db.Order(p.OrderClause())
	if p.Limit > 0 {
		db = db.Limit(p.Limit)
	}
	if p.Offset > 0 {
		db = db.Offset(p.Offset)
	}
	return db
}
