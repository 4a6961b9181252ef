package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrPackageNotFound = errors.New("积分套餐不存在")
	ErrSummaryNotFound = errors.New("积分汇总不存在")
	ErrEntryNotFound   = errors.New("账本条目不存在")
)

// forUpdate 给查询加行锁（SELECT ... FOR UPDATE）
// SQLite 没有行锁，靠事务外的用户锁串行化
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// forShare 共享锁（SELECT ... FOR SHARE），允许并发读，阻塞 FOR UPDATE
func forShare(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "SHARE"})
}

// paginate 分页 scope，page 从 1 开始
func paginate(page, pageSize int) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if page < 1 {
			page = 1
		}
		if pageSize < 1 {
			pageSize = 10
		}
		return db.Offset((page - 1) * pageSize).Limit(pageSize)
	}
}
