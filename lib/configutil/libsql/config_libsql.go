package configlibsql

import (
	"database/sql"
	"fmt"

	"statuswatch-backend/lib/sqliteutil"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// Struct is the database block every service config embeds. A local
// file path opens an embedded sqlite database; a url opens a remote
// libsql database instead.
type Struct struct {
	File      string `json:"file"`
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (config Struct) OpenDB(schema string) (*sql.DB, error) {
	if config.Url == "" {
		return sqliteutil.OpenDB(schema, config.File)
	}

	dsn := config.Url
	if config.AuthToken != "" {
		dsn = fmt.Sprintf("%s?authToken=%s", config.Url, config.AuthToken)
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, err
	}
	if schema != "" {
		_, err = db.Exec(schema)
		if err != nil {
			return nil, err
		}
	}
	return db, nil
}
