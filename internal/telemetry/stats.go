package telemetry

import (
	"encoding/json"
	"time"
)

// Stats summarises repository activity since a point in time.
type Stats struct {
	Since        string            `json:"since"`
	EventCounts  map[EventType]int `json:"event_counts"`
	Syncs        int               `json:"syncs"`
	SyncFailures int               `json:"sync_failures"`
	Completions  int               `json:"completions"`
	Reopens      int               `json:"reopens"`
	// StaleSyncs counts fetches whose response arrived after a newer one
	// had already been applied.
	StaleSyncs int `json:"stale_syncs"`
}

func CalculateStats(events []Event, since time.Time) Stats {
	stats := Stats{
		Since:       since.Format(time.RFC3339),
		EventCounts: make(map[EventType]int),
	}

	for _, event := range events {
		stats.EventCounts[event.Type]++

		var metadata EventMetadata
		if err := json.Unmarshal([]byte(event.Metadata), &metadata); err != nil {
			metadata = EventMetadata{}
		}

		switch event.Type {
		case EventSnapshotSynced:
			stats.Syncs++
			if stale, _ := metadata["stale"].(bool); stale {
				stats.StaleSyncs++
			}
		case EventSyncFailed:
			stats.SyncFailures++
		case EventTaskToggled:
			if completed, _ := metadata["completed"].(bool); completed {
				stats.Completions++
			} else {
				stats.Reopens++
			}
		}
	}
	return stats
}
