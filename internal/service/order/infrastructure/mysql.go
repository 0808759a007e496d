package infrastructure

import (
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/config"
	"github.com/TomiB98/MH-MicroService-OrderService/internal/pkg/logger"
)

// OpenMySQL 打开连接池并做一次 ping，失败直接返回
func OpenMySQL(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open mysql %s/%s", cfg.Addr, cfg.Database)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB from gorm")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrapf(err, "ping mysql %s", cfg.Addr)
	}

	logger.L().Info().Str("addr", cfg.Addr).Str("database", cfg.Database).Msg("MySQL connected")
	return db, nil
}

// AutoMigrate 创建或更新 orders 和 order_items 表
func AutoMigrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&OrderModel{}, &OrderItemModel{}), "auto migrate order tables")
}
