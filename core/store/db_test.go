package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebindPostgresPlaceholders(t *testing.T) {
	db := &DB{driver: driverPostgres}

	assert.Equal(t,
		`UPDATE incidents SET status=$1, version=version+1 WHERE id=$2 AND status=$3`,
		db.rebind(`UPDATE incidents SET status=?, version=version+1 WHERE id=? AND status=?`))
	assert.Equal(t,
		`INSERT INTO plan_actions(id, plan_id) VALUES($1,$2)`,
		db.rebind(`INSERT INTO plan_actions(id, plan_id) VALUES(?,?)`))
	assert.Equal(t, `SELECT 1`, db.rebind(`SELECT 1`))
}

func TestRebindLeavesSQLiteQueriesAlone(t *testing.T) {
	db := &DB{driver: driverSQLite}
	query := `SELECT id FROM incidents WHERE status=? AND priority=?`
	assert.Equal(t, query, db.rebind(query))
}
