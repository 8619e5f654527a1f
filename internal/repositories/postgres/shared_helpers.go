package postgres

import (
	"gorm.io/gorm"

	"github.com/SAP-F-2025/evaluation-scheduler-service/internal/repositories"
)

// SharedHelpers contains query-building pieces common to the postgres
// repositories.
type SharedHelpers struct {
	db *gorm.DB
}

func NewSharedHelpers(db *gorm.DB) *SharedHelpers {
	return &SharedHelpers{db: db}
}

// ApplyExamFilters applies common filters to exam instance queries.
func (h *SharedHelpers) ApplyExamFilters(query *gorm.DB, filters repositories.ExamFilters) *gorm.DB {
	if filters.State != nil {
		query = query.Where("state = ?", *filters.State)
	}
	if filters.SubjectID != nil {
		query = query.Where("subject_id = ?", *filters.SubjectID)
	}
	if filters.TemplateID != nil {
		query = query.Where("template_id = ?", *filters.TemplateID)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyTaskFilters applies common filters to evaluation task queries.
func (h *SharedHelpers) ApplyTaskFilters(query *gorm.DB, filters repositories.TaskFilters) *gorm.DB {
	if filters.State != nil {
		query = query.Where("state = ?", *filters.State)
	}
	if filters.GraderID != nil {
		query = query.Where("grader_id = ?", *filters.GraderID)
	}
	if filters.Breached != nil {
		query = query.Where("breached = ?", *filters.Breached)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	return query
}

// ApplyPaginationAndSort applies pagination and sorting with a column
// whitelist so sort input can never inject SQL.
func (h *SharedHelpers) ApplyPaginationAndSort(query *gorm.DB, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	allowedSortColumns := map[string]bool{
		"created_at":   true,
		"updated_at":   true,
		"submitted_at": true,
		"deadline":     true,
		"id":           true,
		"state":        true,
	}

	if sortBy == "" || !allowedSortColumns[sortBy] {
		sortBy = "created_at"
	}

	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	return query
}
