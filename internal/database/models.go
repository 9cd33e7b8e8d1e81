package database

import "time"

// HostProfile is a saved remote target: everything needed to open a session
// without retyping connection details. The key passphrase is stored
// fernet-encrypted (see the secrets package); it never leaves the process
// in cleartext.
type HostProfile struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Host        string    `gorm:"not null" json:"host"`
	Port        int       `gorm:"not null;default:22" json:"port"`
	User        string    `gorm:"not null;default:root" json:"user"`
	KeyPath     string    `json:"key_path"`
	Passphrase  string    `json:"-"` // fernet-encrypted
	MaxAttempts int       `gorm:"default:0" json:"max_attempts"` // 0 = use global default
	Scrollback  int       `gorm:"default:0" json:"scrollback"`   // 0 = use global default
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SessionRecord is one row of connection history: when a session ran,
// against which profile, how it ended, and how much it retried. Written at
// session close; queried by the history API and pruned by the retention
// job.
type SessionRecord struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string     `gorm:"uniqueIndex;not null" json:"session_id"`
	ProfileID      uint       `gorm:"index" json:"profile_id"`
	Host           string     `gorm:"not null" json:"host"`
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
	FinalState     string     `json:"final_state"`
	AttemptsUsed   int        `json:"attempts_used"`
	LinesReceived  uint64     `json:"lines_received"`
}

// Setting is a key/value row for process-level state that must survive
// restarts (e.g. the fernet encryption key).
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
