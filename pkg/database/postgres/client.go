package pg

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"

	_ "github.com/newrelic/go-agent/v3/integrations/nrpgx"
)

const (
	driverName = "nrpgx"

	defaultMaxOpenConnections = 10
	defaultMaxIdleConnections = 2
	defaultConnMaxLifetime    = 30 * time.Minute
)

type Config struct {
	User               string
	Host               string
	Password           string
	Port               int
	DbName             string
	MaxOpenConnections int
	MaxIdleConnections int
}

// DSN returns the connection string for the config
func (c *Config) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.DbName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// New opens a connection pool for the config, through the New Relic
// instrumented pgx driver
func New(c *Config) (*sql.DB, error) {
	if len(c.Host) == 0 || len(c.DbName) == 0 {
		return nil, errors.New("host and db name are required")
	}

	db, err := open(c.DSN())
	if err != nil {
		return nil, err
	}

	maxOpen := c.MaxOpenConnections
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConnections
	}
	maxIdle := c.MaxIdleConnections
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConnections
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	return db, nil
}

// Get a DB connection pool using username/password credentials
func NewWithUsernameAndPassword(username, password, hostname, port, dbname string) (*sql.DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		username, password, hostname, port, dbname,
	)
	return open(dsn)
}

func open(dsn string) (*sql.DB, error) {
	// Try to open a connection pool using the "pgx" driver (instead of "postgres")
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	// Check if the connection was successful
	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "error connecting to database")
	}

	return db, nil
}
