package datastore

import (
	"fmt"
	"net"

	"github.com/tphakala/polecam/internal/conf"
	"github.com/tphakala/polecam/internal/errors"
	"github.com/tphakala/polecam/internal/logger"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func validateMySQLConfig(settings *conf.Settings) error {
	s := settings.Output.MySQL
	if s.Host == "" || s.Database == "" || s.Username == "" {
		return errors.Newf("mysql host, database and username must be set").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Open sets up the MySQL database connection and migrates the schema
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	s := store.Settings.Output.MySQL
	addr := net.JoinHostPort(s.Host, s.Port)
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		s.Username, s.Password, addr, s.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		store.Logger.Error("failed to open MySQL database",
			logger.String("host", s.Host),
			logger.String("port", s.Port),
			logger.String("database", s.Database),
			logger.Error(err))
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("address", addr).
			Build()
	}

	store.DB = db
	return performAutoMigration(db, store.Settings.Debug, "MySQL", addr+"/"+s.Database)
}

// Close closes the MySQL connection pool
func (store *MySQLStore) Close() error {
	return store.closeDB()
}
