package helpers

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/onsi/gomega"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/stacklok/inventory-mirror/database"
)

const (
	postgresUser     = "mirror"
	postgresPassword = "mirror"
	postgresDatabase = "inventory"
)

// PostgresHelper runs a migrated postgres container
type PostgresHelper struct {
	container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	Settings  DatabaseSettings
	Password  string
}

// StartPostgres starts a postgres container and applies the run history migrations
func StartPostgres(ctx context.Context) *PostgresHelper {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(postgresDatabase),
		postgres.WithUsername(postgresUser),
		postgres.WithPassword(postgresPassword),
		postgres.BasicWaitStrategies(),
	)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(database.MigrateUp(connStr)).To(gomega.Succeed())

	host, err := container.Host(ctx)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	port, err := container.MappedPort(ctx, "5432/tcp")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	pool, err := pgxpool.New(ctx, connStr)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	return &PostgresHelper{
		container: container,
		Pool:      pool,
		Settings: DatabaseSettings{
			Host:     host,
			Port:     port.Int(),
			User:     postgresUser,
			Database: postgresDatabase,
		},
		Password: postgresPassword,
	}
}

// MirroredIDs returns the resource ids mirrored in table for the tenancy and region
func (p *PostgresHelper) MirroredIDs(ctx context.Context, table string) ([]string, error) {
	rows, err := p.Pool.Query(ctx,
		fmt.Sprintf("SELECT resource_id FROM %s WHERE tenancy_id = $1 AND region = $2 ORDER BY resource_id", table),
		TenancyID, Region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stop closes the pool and terminates the container
func (p *PostgresHelper) Stop() {
	p.Pool.Close()
	_ = tc.TerminateContainer(p.container)
}
