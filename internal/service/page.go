package service

import (
	"hui-manager/internal/model"

	"gorm.io/gorm"
)

// paginate counts q and loads one page of it in the given order.
func paginate[T any](q *gorm.DB, p model.Page, order string) (*model.ListResponse[T], error) {
	q = q.Session(&gorm.Session{})
	page := p.Normalize()

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, err
	}
	items := []T{}
	if err := q.Order(order).Offset(page.Offset()).Limit(page.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}
	return &model.ListResponse[T]{Items: items, Total: total, Page: page.Page, PageSize: page.PageSize}, nil
}
