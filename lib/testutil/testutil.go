package testutil

import (
	"database/sql"
	"fmt"
	"testing"

	"statuswatch-backend/lib/sqliteutil"
	"statuswatch-backend/lib/telemetry"
)

type ServiceParams struct {
	Name string
	// if unspecified, it will skip setting up a db
	DbSchema string
	// if unspecified, it will use `:memory:`
	DbPath string
}

type ServiceResult struct {
	DB *sql.DB
}

func SetupService(t testing.TB, params ServiceParams) (ServiceResult, func()) {
	cleanup := telemetry.SetupForTesting(t, fmt.Sprintf("test:%s", params.Name))

	dbpath := params.DbPath
	if dbpath == "" {
		dbpath = ":memory:"
	}
	db, err := sqliteutil.OpenDB(params.DbSchema, dbpath)
	if err != nil {
		t.Fatal(err)
	}

	return ServiceResult{
		DB: db,
	}, func() {
		db.Close()
		cleanup()
	}
}
