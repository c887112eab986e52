//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
)

// MySQLContainer wraps a testcontainers MySQL instance.
type MySQLContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewMySQLContainer starts a MySQL container and opens a database handle
// over the go-sql-driver.
func NewMySQLContainer(t *testing.T) *MySQLContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcmysql.Run(ctx, "mysql:8.4",
		tcmysql.WithDatabase("wabridge_test"),
		tcmysql.WithUsername("wabridge"),
		tcmysql.WithPassword("wabridge"),
	)
	if err != nil {
		t.Fatalf("failed to start mysql container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get mysql connection string: %v", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open mysql handle: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping mysql: %v", err)
	}

	return &MySQLContainer{Container: container, DSN: dsn, DB: db}
}

// TruncateTables empties the given tables between tests.
func (m *MySQLContainer) TruncateTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := m.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE `%s`", table)); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}
