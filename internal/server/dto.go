package server

import (
	"waveline/internal/catalog"
	"waveline/internal/domain"
	"waveline/internal/engine"
	"waveline/internal/sim"
)

// Response payloads

type WaveControlResponse struct {
	Status domain.Status `json:"status"`
}

type CatalogResponse struct {
	engine.CatalogSnapshot
	Warnings []catalog.Warning `json:"warnings"`
}

type SpawnersResponse struct {
	Items []domain.SpawnPoint `json:"items"`
}

type EntityResponse struct {
	Handle    domain.EntityHandle `json:"handle"`
	From      *domain.Vec3        `json:"from,omitempty"`
	SpawnedAt string              `json:"spawned_at,omitempty" format:"date-time"`
	ArrivesAt string              `json:"arrives_at,omitempty" format:"date-time"`
}

type EntitiesResponse struct {
	Count int              `json:"count"`
	Items []EntityResponse `json:"items"`
}

type RemoveEntityResponse struct {
	EntityID       string `json:"entity_id"`
	LiveEnemyCount int    `json:"live_enemy_count"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type RunsResponse struct {
	Items []domain.WaveRun `json:"items"`
}

type RunDetailResponse struct {
	domain.WaveRun
	EventCounts map[string]int `json:"event_counts"`
}

// StreamFrame is one websocket message: either a journal event or a periodic
// status snapshot.
type StreamFrame struct {
	Kind   string         `json:"kind" enum:"event,status"`
	Event  *domain.Event  `json:"event,omitempty"`
	Status *domain.Status `json:"status,omitempty"`
}

func catalogResponse(snap engine.CatalogSnapshot, warnings []catalog.Warning) CatalogResponse {
	if snap.Waves == nil {
		snap.Waves = []domain.WaveSpec{}
	}
	if warnings == nil {
		warnings = []catalog.Warning{}
	}
	return CatalogResponse{CatalogSnapshot: snap, Warnings: warnings}
}

// entitiesResponse lists the live handles tracked by the orchestrator, enriched
// with the simulated motion when the world knows the enemy.
func entitiesResponse(handles []domain.EntityHandle, enemies []sim.Enemy) EntitiesResponse {
	byHandle := make(map[domain.EntityHandle]sim.Enemy, len(enemies))
	for _, e := range enemies {
		byHandle[e.Handle] = e
	}
	items := make([]EntityResponse, 0, len(handles))
	for _, h := range handles {
		item := EntityResponse{Handle: h}
		if e, ok := byHandle[h]; ok {
			from := e.From
			item.From = &from
			item.SpawnedAt = e.SpawnedAt.UTC().Format(timeLayout)
			item.ArrivesAt = e.ArrivesAt.UTC().Format(timeLayout)
		}
		items = append(items, item)
	}
	return EntitiesResponse{Count: len(items), Items: items}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func nonNilRuns(runs []domain.WaveRun) []domain.WaveRun {
	if runs == nil {
		return []domain.WaveRun{}
	}
	return runs
}
