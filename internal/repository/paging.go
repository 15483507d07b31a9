package repository

import "strings"

// pageBounds clamps page and size and returns the offset for LIMIT/OFFSET queries.
func pageBounds(page, size int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size, (page - 1) * size
}

// orderClause resolves a whitelisted sort column and direction.
func orderClause(sortBy, sortOrder string, allowed map[string]string, fallback, fallbackOrder string) (string, string) {
	column, ok := allowed[sortBy]
	if !ok {
		column = fallback
	}
	order := strings.ToUpper(sortOrder)
	if order != "ASC" && order != "DESC" {
		order = fallbackOrder
	}
	return column, order
}
