package sqlstore_test

import (
	"database/sql"
	"testing"

	"github.com/corverroos/truss"
	_ "github.com/go-sql-driver/mysql"

	"github.com/flowtrace/loader/sqlstore"
)

func ConnectForTesting(t *testing.T) *sql.DB {
	return truss.ConnectForTesting(t, sqlstore.Migrations...)
}
