package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PedroFSampaio/chat-interno/internal/auth"
	"github.com/PedroFSampaio/chat-interno/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	}
	return nil, fmt.Errorf("db: unsupported driver %q", driver)
}

// Connect 建立数据库连接，并带有简单的重试来等待容器就绪。
// TranslateError 打开后唯一约束冲突会以 gorm.ErrDuplicatedKey 返回。
func Connect(driver, dsn string) (*gorm.DB, error) {
	d, err := dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	var gdb *gorm.DB
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(d, &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Conversation{}, &models.ConversationMember{}, &models.Message{})
}

// SeedAdmin 在管理员账号不存在时创建它，支持会话依赖至少一个管理员。
func SeedAdmin(ctx context.Context, gdb *gorm.DB, username, password, name string) error {
	var existing models.User
	err := gdb.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	admin := models.User{Name: name, Username: username, PasswordHash: hash, Role: models.RoleAdmin}
	if err := gdb.WithContext(ctx).Create(&admin).Error; err != nil {
		return err
	}
	log.Info().Uint("user_id", admin.ID).Str("username", username).Msg("admin user created")
	return nil
}
