package test

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	_ "github.com/jackc/pgx/v4/stdlib" //nolint:revive

	"github.com/code-payments/code-test-client/pkg/retry"
	"github.com/code-payments/code-test-client/pkg/retry/backoff"
)

const (
	// ImageTagEnvName overrides the postgres image tag the archive tests run
	// against.
	ImageTagEnvName = "POSTGRES_TEST_IMAGE_TAG"

	imageRepository = "postgres"
	defaultImageTag = "14-alpine"
	containerExpiry = 120 * time.Second

	port     = 5432
	user     = "testclient"
	password = "testclient"
	dbname   = "outcomes"

	connectAttempts = 50
	connectInterval = 500 * time.Millisecond
)

// StartPostgresDB starts a throwaway postgres container and returns a
// connected client. The returned closeFunc purges the container and is safe
// to call even when an error is returned.
func StartPostgresDB(pool *dockertest.Pool) (db *sql.DB, closeFunc func(), err error) {
	log := logrus.StandardLogger().WithField("type", "database/postgres/test")
	closeFunc = func() {}

	tag := defaultImageTag
	if override := os.Getenv(ImageTagEnvName); len(override) > 0 {
		tag = override
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: imageRepository,
		Tag:        tag,
		Env: []string{
			"POSTGRES_USER=" + user,
			"POSTGRES_PASSWORD=" + password,
			"POSTGRES_DB=" + dbname,
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return nil, closeFunc, errors.Wrapf(err, "failed to start %s:%s", imageRepository, tag)
	}

	closeFunc = func() {
		if db != nil {
			db.Close()
		}
		if err := pool.Purge(resource); err != nil {
			log.WithError(err).Warn("failed to purge postgres container")
		}
	}

	// Expire never returns an error; it bounds the container's lifetime if
	// the test binary dies before closeFunc runs.
	_ = resource.Expire(uint(containerExpiry.Seconds()))

	dsn := (&url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, password),
		Host:     resource.GetHostPort(fmt.Sprintf("%d/tcp", port)),
		Path:     dbname,
		RawQuery: "sslmode=disable",
	}).String()

	log.WithField("tag", tag).Debug("waiting for postgres container")

	attempts, err := retry.Retry(
		func() error {
			if db == nil {
				db, err = sql.Open("pgx", dsn)
				if err != nil {
					return err
				}
			}
			return db.Ping()
		},
		retry.Limit(connectAttempts),
		retry.Backoff(backoff.Constant(connectInterval), connectInterval),
	)
	if err != nil {
		closeFunc()
		return nil, func() {}, errors.Wrapf(err, "postgres container unavailable after %d attempts", attempts)
	}

	return db, closeFunc, nil
}
