package model

type ScheduleResult struct {
	Scheduled int `json:"scheduled"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Total     int `json:"total"`
}

type DispatchResult struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}

type CleanupResult struct {
	ScheduledDeleted int64 `json:"scheduledDeleted"`
	LogsDeleted      int64 `json:"logsDeleted"`
	LogsArchived     int   `json:"logsArchived"`
}
