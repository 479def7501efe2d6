package libdbexec

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupLocalInstance starts a disposable Postgres container for tests.
// It returns the connection string, the mapped host:port, and a cleanup
// function that terminates the container.
func SetupLocalInstance(ctx context.Context, dbName, dbUser, dbPassword string) (string, string, func(), error) {
	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return "", "", func() {}, fmt.Errorf("failed to start postgres container: %w", err)
	}

	cleanup := func() {
		_ = testcontainers.TerminateContainer(container)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		cleanup()
		return "", "", func() {}, fmt.Errorf("failed to resolve connection string: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		cleanup()
		return "", "", func() {}, fmt.Errorf("failed to resolve endpoint: %w", err)
	}

	return connStr, endpoint, cleanup, nil
}
