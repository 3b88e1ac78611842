package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithParams(t *testing.T) {
	cases := []struct{ in, want string }{
		{"u:p@tcp(db:3306)/cs", "u:p@tcp(db:3306)/cs?parseTime=true&charset=utf8mb4"},
		{"u:p@tcp(db:3306)/cs?loc=UTC", "u:p@tcp(db:3306)/cs?loc=UTC&parseTime=true&charset=utf8mb4"},
		{"u:p@tcp(db:3306)/cs?parseTime=true&charset=utf8", "u:p@tcp(db:3306)/cs?parseTime=true&charset=utf8"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, withParams(tc.in), tc.in)
	}
}
