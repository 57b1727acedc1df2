package database

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/cardroomhq/cardroom/config"
	"github.com/cardroomhq/cardroom/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

// Datasource carries two connections: Conn goes through the transaction
// pooler and serves the worker and API load; Direct bypasses the pooler for
// session-bound work and the health prober. Both are capped by the pool
// limits resolved at startup and never resized afterwards.
type Datasource struct {
	Conn   *sql.DB
	Direct *sql.DB
	Cache  cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		conn, errConn := ConnectDB(configuration.DataSource.Dns, configuration.Pool.PoolSize)
		if errConn != nil {
			err = errConn
			return
		}
		direct, errDirect := ConnectDB(configuration.DataSource.DirectDns, configuration.Pool.DirectLimit)
		if errDirect != nil {
			err = errDirect
			return
		}
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			err = errCache
			return
		}
		instance = &Datasource{Conn: conn, Direct: direct, Cache: newCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// ConnectDB opens a postgres connection with the given concurrency cap and
// verifies it with a ping.
func ConnectDB(dns string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	return db, nil
}

// GenerateUUIDWithSuffix returns an id of the form "<module>_<uuid>".
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)

	return idWithSuffix
}
