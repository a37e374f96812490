package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].version)
	assert.Equal(t, "initial_schema", ms[0].name)
	assert.NotEmpty(t, sqlStatements(ms[0].script))
}

func TestSQLStatements_DropsCommentLines(t *testing.T) {
	script := "-- header\nCREATE TABLE a (id INT);\n\n-- note\nCREATE INDEX b ON a (id);\n"
	stmts := sqlStatements(script)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id INT)", stmts[0])
	assert.Equal(t, "CREATE INDEX b ON a (id)", stmts[1])
}
