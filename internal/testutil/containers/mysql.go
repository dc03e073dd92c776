//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MySQLConfig configures NewMySQLContainer. Zero fields take defaults.
type MySQLConfig struct {
	Image    string
	Database string
	Username string
	Password string
}

// DefaultMySQLConfig returns the settings used when none are given.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Image:    "mysql:8.0",
		Database: "opswatch_test",
		Username: "opswatch",
		Password: "opswatch",
	}
}

// MySQLContainer is a running MySQL server.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	db        *sql.DB
	dsn       string
}

// NewMySQLContainer starts MySQL and waits until it accepts queries.
func NewMySQLContainer(ctx context.Context, cfg *MySQLConfig) (*MySQLContainer, error) {
	c := DefaultMySQLConfig()
	if cfg != nil {
		if cfg.Image != "" {
			c.Image = cfg.Image
		}
		if cfg.Database != "" {
			c.Database = cfg.Database
		}
		if cfg.Username != "" {
			c.Username = cfg.Username
			c.Password = cfg.Password
		}
	}

	ctr, err := mysql.Run(ctx, c.Image,
		mysql.WithDatabase(c.Database),
		mysql.WithUsername(c.Username),
		mysql.WithPassword(c.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("start mysql container: %w", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		_ = ctr.Terminate(context.Background())
		return nil, fmt.Errorf("mysql connection string: %w", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = ctr.Terminate(context.Background())
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = ctr.Terminate(context.Background())
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	return &MySQLContainer{container: ctr, db: db, dsn: dsn}, nil
}

// GetDSN returns a go-sql-driver DSN for the test database.
func (c *MySQLContainer) GetDSN() string {
	return c.dsn
}

// Reset empties tables between tests.
func (c *MySQLContainer) Reset(ctx context.Context, tables []string) error {
	for _, table := range tables {
		if !identifierRe.MatchString(table) {
			return fmt.Errorf("invalid table name %q", table)
		}
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	// FOREIGN_KEY_CHECKS is per session, so every statement uses conn.
	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return err
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), "SET FOREIGN_KEY_CHECKS = 1") }()

	for _, table := range tables {
		if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE `"+table+"`"); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

// Terminate closes the connection and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	if c.container == nil {
		return nil
	}
	return c.container.Terminate(ctx)
}
