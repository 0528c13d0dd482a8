package archive

import "time"

// SnapshotVersion is written into every archived settlement.
const SnapshotVersion = "1.0"

// Snapshot is a locked settlement month as archived to S3. Report holds the
// full JSON report as the admin API returned it at lock time.
type Snapshot struct {
	Version           string    `json:"version"`
	LockID            string    `json:"lock_id"`
	Year              int       `json:"year"`
	Month             int       `json:"month"`
	LockedAt          time.Time `json:"locked_at"`
	TotalLessons      int       `json:"total_lessons"`
	TotalCoachPayment int64     `json:"total_coach_payment"`
	Report            any       `json:"report"`
}

// ManifestEntry is one JSONL line in the yearly manifest file.
type ManifestEntry struct {
	LockID            string `json:"lock_id"`
	S3Key             string `json:"s3_key"`
	Year              int    `json:"year"`
	Month             int    `json:"month"`
	TotalLessons      int    `json:"total_lessons"`
	TotalCoachPayment int64  `json:"total_coach_payment"`
	ArchivedAt        string `json:"archived_at"`
}
