package db

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	c := MysqlConfig{Username: "club", Password: "p@ss:word", Host: "10.0.0.5", Port: "3306", DBName: "clubpay"}
	dsn := c.DSN()

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "club", parsed.User)
	assert.Equal(t, "p@ss:word", parsed.Passwd)
	assert.Equal(t, "10.0.0.5:3306", parsed.Addr)
	assert.Equal(t, "clubpay", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, "UTC", parsed.Loc.String())
	assert.Contains(t, dsn, "charset=utf8mb4")
}
