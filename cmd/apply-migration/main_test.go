package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitStatements(t *testing.T) {
	sql := `-- header
CREATE TABLE a (id INT);

-- comment only
;
CREATE INDEX i ON a (id) -- trailing is kept
`
	got := splitStatements(sql)
	assert.Equal(t, []string{
		"CREATE TABLE a (id INT)",
		"CREATE INDEX i ON a (id) -- trailing is kept",
	}, got)
}
