package database

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/dance-school-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "dance", SSLMode: "disable"})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=dance sslmode=disable", dsn)
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("create enrollment: %w", &pq.Error{Code: "23505", Constraint: "enrollments_current_uniq"})
	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "enrollments_current_uniq"))
	assert.False(t, IsUniqueViolation(err, "other"))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}, ""))
	assert.False(t, IsUniqueViolation(fmt.Errorf("plain"), ""))
}
