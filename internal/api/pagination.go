package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"annotation-backend/pkg/api"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 10
	maxPageSize     = 500
)

// Pagination holds the query parameters shared by every list endpoint.
type Pagination struct {
	Page     int    `schema:"page"`
	PageSize int    `schema:"page_size"`
	Sort     string `schema:"sort"`
	Search   string `schema:"search"`
}

// listing describes how a list endpoint may be sorted and searched. sortable
// maps the public field name to its column.
type listing struct {
	sortable map[string]string
	search   string
}

func (l listing) order(sort string) (string, error) {
	if sort == "" {
		return "id", nil
	}

	desc := strings.HasPrefix(sort, "-")
	column, ok := l.sortable[strings.TrimPrefix(sort, "-")]
	if !ok {
		return "", CodedErrorf(http.StatusBadRequest, "invalid sort field '%s'", strings.TrimPrefix(sort, "-"))
	}
	if desc {
		return column + " DESC, id", nil
	}
	return column + ", id", nil
}

func pageUrl(r *http.Request, page int) *string {
	u := *r.URL
	query := u.Query()
	query.Set("page", strconv.Itoa(page))
	u.RawQuery = query.Encode()
	link := u.RequestURI()
	return &link
}

func filterEq[V comparable](query *gorm.DB, column string, value *V) *gorm.DB {
	if value == nil {
		return query
	}
	return query.Where(column+" = ?", *value)
}

func filterLike(query *gorm.DB, column, value string) *gorm.DB {
	if value == "" {
		return query
	}
	return query.Where("LOWER("+column+") LIKE ?", "%"+strings.ToLower(value)+"%")
}

// filterUser keeps rows whose user reference column points to the user with
// the given username.
func filterUser(query *gorm.DB, column, username string) *gorm.DB {
	if username == "" {
		return query
	}
	return query.Where(column+" IN (?)", query.Session(&gorm.Session{NewDB: true}).
		Table("users").Select("id").Where("username = ?", username))
}

// paginate runs query for the requested page and converts every row.
func paginate[M any, T any](r *http.Request, query *gorm.DB, p Pagination, opts listing, convert func(M) (T, error)) (api.Page[T], error) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Page < 0 {
		return api.Page[T]{}, CodedErrorf(http.StatusBadRequest, "invalid page %d", p.Page)
	}
	switch {
	case p.PageSize <= 0:
		p.PageSize = defaultPageSize
	case p.PageSize > maxPageSize:
		p.PageSize = maxPageSize
	}

	order, err := opts.order(p.Sort)
	if err != nil {
		return api.Page[T]{}, err
	}
	if opts.search != "" {
		query = filterLike(query, opts.search, p.Search)
	}
	query = query.Model(new(M)).Session(&gorm.Session{})

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return api.Page[T]{}, fmt.Errorf("error counting rows: %w", err)
	}

	var rows []M
	if err := query.Order(order).Limit(p.PageSize).Offset((p.Page - 1) * p.PageSize).Find(&rows).Error; err != nil {
		return api.Page[T]{}, fmt.Errorf("error listing rows: %w", err)
	}

	results := make([]T, 0, len(rows))
	for _, row := range rows {
		converted, err := convert(row)
		if err != nil {
			return api.Page[T]{}, err
		}
		results = append(results, converted)
	}

	page := api.Page[T]{Count: int(count), Results: results}
	if p.Page*p.PageSize < int(count) {
		page.Next = pageUrl(r, p.Page+1)
	}
	if p.Page > 1 {
		page.Previous = pageUrl(r, p.Page-1)
	}
	return page, nil
}
