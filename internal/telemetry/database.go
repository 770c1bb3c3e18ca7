package telemetry

import (
	"database/sql"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func OpenDB(driverName, dsn string) (*sql.DB, error) {
	return otelsql.Open(driverName, dsn,
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
}

// OpenGorm opens an instrumented postgres pool and hands it to gorm.
func OpenGorm(dsn string) (*gorm.DB, error) {
	sqlDB, err := OpenDB("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{PrepareStmt: true})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}
