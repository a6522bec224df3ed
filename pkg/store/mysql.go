package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"pglobe/pkg/model"
)

// nodeRow is the MySQL document row: identity key plus a few queryable
// columns, full record as JSON.
type nodeRow struct {
	Key            string `gorm:"primaryKey;size:128;column:doc_key"`
	Identity       string `gorm:"index;size:64"`
	NetworkAddress string `gorm:"size:64"`
	State          string `gorm:"size:16"`
	SeenInGossip   bool
	Doc            string    `gorm:"type:mediumtext"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (nodeRow) TableName() string { return "node_records" }

// MySQLStore is the production NodeStore.
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore connects using MYSQL_DSN or MYSQL_HOST/PORT/USER/PASS/DB
// (with .env support) and runs migrations.
func NewMySQLStore() (*MySQLStore, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		host := envDefault("MYSQL_HOST", "127.0.0.1")
		port := envDefault("MYSQL_PORT", "3306")
		user := envDefault("MYSQL_USER", "root")
		pass := os.Getenv("MYSQL_PASS")
		dbname := envDefault("MYSQL_DB", "pglobe")
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local", user, pass, host, port, dbname)
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("mysql open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	if err := db.AutoMigrate(&nodeRow{}); err != nil {
		return nil, fmt.Errorf("migrate node_records: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func rowFor(rec *model.NodeRecord) (nodeRow, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return nodeRow{}, fmt.Errorf("marshal node %s: %w", Key(rec), err)
	}
	return nodeRow{
		Key:            Key(rec),
		Identity:       rec.Identity,
		NetworkAddress: rec.NetworkAddress,
		State:          string(rec.LifecycleState),
		SeenInGossip:   rec.SeenInGossip,
		Doc:            string(doc),
	}, nil
}

func (s *MySQLStore) UpsertNode(ctx context.Context, rec *model.NodeRecord) error {
	row, err := rowFor(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error
}

func (s *MySQLStore) UpsertNodes(ctx context.Context, recs []*model.NodeRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([]nodeRow, 0, len(recs))
	for _, rec := range recs {
		row, err := rowFor(rec)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		CreateInBatches(rows, 100).Error
}

func (s *MySQLStore) GetNode(ctx context.Context, key string) (*model.NodeRecord, bool, error) {
	var row nodeRow
	err := s.db.WithContext(ctx).First(&row, "doc_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec model.NodeRecord
	if err := json.Unmarshal([]byte(row.Doc), &rec); err != nil {
		return nil, false, fmt.Errorf("decode node %s: %w", key, err)
	}
	return &rec, true, nil
}

func (s *MySQLStore) ListNodes(ctx context.Context) ([]*model.NodeRecord, error) {
	var rows []nodeRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.NodeRecord, 0, len(rows))
	for _, row := range rows {
		var rec model.NodeRecord
		if err := json.Unmarshal([]byte(row.Doc), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
