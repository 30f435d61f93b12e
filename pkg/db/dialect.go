package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
	TypeSQLite   = "sqlite"
	// TypeSQLitePure selects the cgo-free driver.
	TypeSQLitePure = "sqlite-pure"
)

func Dialect(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case TypeMySQL:
		return mysql.Open(fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Name,
		)), nil
	case TypePostgres, "":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		)), nil
	case TypeSQLite:
		return gormsqlite.Open(sqlitePath(cfg)), nil
	case TypeSQLitePure:
		return sqlite.Open(sqlitePath(cfg)), nil
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

func sqlitePath(cfg Config) string {
	if path := strings.TrimSpace(cfg.Path); path != "" {
		return path
	}
	return "fieldops.db"
}
