package persistent

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"reflect"

	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	_ "github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

func PgOpen(ctx context.Context, pgDsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("pg", pgDsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	if err = sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("sqldb ping: %w", err)
	}

	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// Running integration tests requires real pg db instance, but we
// don't want to start a db for every test, so testenv starts one db once
// and passes its datasource to every test through PGDB_DSN.

func PgOpenTest(ctx context.Context) *bun.DB {
	db, err := PgOpen(ctx, TestEnvDsn())
	if err != nil {
		logrus.WithError(err).Fatalln("Could not open test pg database.")
	}
	if os.Getenv("DB_VERBOSE") == "true" {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func TestEnvDsn() string {
	return os.Getenv("PGDB_DSN")
}

func SetTestEnvDsn(dsn string) {
	os.Setenv("PGDB_DSN", dsn)
}

var models = []interface{}{
	(*Profile)(nil),
	(*ActivityLog)(nil),
}

func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range models {
		modelType := reflect.TypeOf(model)
		logrus.WithField("model", modelType).Debugln("Creating table.")
		_, err := db.NewCreateTable().IfNotExists().Model(model).Exec(ctx)
		if err != nil {
			return fmt.Errorf("create table %s: %w", modelType, err)
		}
	}
	return nil
}
