package testcontainers

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresConfig configures the throwaway PostgreSQL container used by the
// store and pipeline suites. Empty fields fall back to the defaults below.
type PostgresConfig struct {
	User          string // default: postgres
	Password      string // default: postgres
	Database      string // default: pollution_test
	ContainerName string // optional
}

func (c *PostgresConfig) applyDefaults() {
	if c.User == "" {
		c.User = "postgres"
	}
	if c.Password == "" {
		c.Password = "postgres"
	}
	if c.Database == "" {
		c.Database = "pollution_test"
	}
}

// StartPostgres launches a PostgreSQL container, waits for it to accept
// connections and returns it together with a ready DSN.
func StartPostgres(ctx context.Context, config *PostgresConfig) (testcontainers.Container, string, error) {
	if config == nil {
		config = &PostgresConfig{}
	}
	config.applyDefaults()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections"),
			),
			Env: map[string]string{
				"POSTGRES_USER":     config.User,
				"POSTGRES_PASSWORD": config.Password,
				"POSTGRES_DB":       config.Database,
			},
			Name: config.ContainerName,
		},
		Started: true,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	host, port, err := postgresEndpoint(ctx, container)
	if err != nil {
		if termErr := container.Terminate(ctx); termErr != nil {
			return nil, "", fmt.Errorf("%w (cleanup error: %w)", err, termErr)
		}
		return nil, "", err
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, config.User, config.Password, config.Database)

	return container, dsn, nil
}

// GetPostgresConnectionInfo returns the discrete connection parameters for
// a running container, for callers that build their own config structs
// instead of consuming a DSN.
func GetPostgresConnectionInfo(ctx context.Context, container testcontainers.Container, config *PostgresConfig) (host string, port int, user, password, database string, err error) {
	if config == nil {
		config = &PostgresConfig{}
	}
	config.applyDefaults()

	host, port, err = postgresEndpoint(ctx, container)
	if err != nil {
		return "", 0, "", "", "", err
	}

	return host, port, config.User, config.Password, config.Database, nil
}

// postgresEndpoint resolves the mapped host and port for the database
// port of a running container.
func postgresEndpoint(ctx context.Context, container testcontainers.Container) (string, int, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get container host: %w", err)
	}

	mapped, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", 0, fmt.Errorf("failed to get container port: %w", err)
	}

	return host, mapped.Int(), nil
}
