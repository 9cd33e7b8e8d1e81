// Package database persists host profiles, session history, and process
// settings in a local sqlite file via gorm.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Init opens (creating if needed) the sqlite database at dbPath and runs
// migrations.
func Init(dbPath string) error {
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&HostProfile{}, &SessionRecord{}, &Setting{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.First(&s, "key = ?", key).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Save(&Setting{Key: key, Value: value}).Error
}

// GetProfileByName looks up a host profile by its unique name.
func GetProfileByName(name string) (*HostProfile, error) {
	var p HostProfile
	if err := DB.First(&p, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns all host profiles ordered by name.
func ListProfiles() ([]HostProfile, error) {
	var profiles []HostProfile
	if err := DB.Order("name").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

// SaveProfile inserts a new profile or updates an existing one. When the
// row carries no primary key but its name already exists, the existing
// row is updated in place so importing a host file is idempotent.
func SaveProfile(p *HostProfile) error {
	if p.ID == 0 {
		var existing HostProfile
		if err := DB.First(&existing, "name = ?", p.Name).Error; err == nil {
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
		}
	}
	return DB.Save(p).Error
}

// DeleteProfile removes a profile by name.
func DeleteProfile(name string) error {
	res := DB.Where("name = ?", name).Delete(&HostProfile{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordSessionStart inserts the history row for a newly opened session.
func RecordSessionStart(rec *SessionRecord) error {
	return DB.Create(rec).Error
}

// RecordSessionEnd fills in the closing fields of a session's history row.
func RecordSessionEnd(sessionID, finalState string, attemptsUsed int, linesReceived uint64) error {
	now := time.Now()
	return DB.Model(&SessionRecord{}).Where("session_id = ?", sessionID).Updates(map[string]interface{}{
		"ended_at":       &now,
		"final_state":    finalState,
		"attempts_used":  attemptsUsed,
		"lines_received": linesReceived,
	}).Error
}

// ListSessionRecords returns up to limit most recent history rows.
func ListSessionRecords(limit int) ([]SessionRecord, error) {
	var recs []SessionRecord
	q := DB.Order("started_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// PruneSessionRecords deletes history rows that ended before the cutoff.
// Returns the number of rows removed.
func PruneSessionRecords(cutoff time.Time) (int64, error) {
	res := DB.Where("ended_at IS NOT NULL AND ended_at < ?", cutoff).Delete(&SessionRecord{})
	return res.RowsAffected, res.Error
}
