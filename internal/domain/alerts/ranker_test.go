package alerts

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSortForRanking_Tiebreakers(t *testing.T) {
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	idA := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	idB := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	items := []*Alert{
		{ID: idB, RiskScore: 5, TriggeredAt: at},
		{ID: uuid.New(), RiskScore: 5, TriggeredAt: at.Add(-time.Hour)},
		{ID: idA, RiskScore: 5, TriggeredAt: at},
		{ID: uuid.New(), RiskScore: 9, TriggeredAt: at.Add(time.Hour)},
	}
	sortForRanking(items)

	if items[0].RiskScore != 9 {
		t.Errorf("highest score should sort first, got %v", items[0].RiskScore)
	}
	if !items[1].TriggeredAt.Equal(at.Add(-time.Hour)) {
		t.Errorf("earlier trigger should break a score tie, got %v", items[1].TriggeredAt)
	}
	if items[2].ID != idA || items[3].ID != idB {
		t.Errorf("id should break a full tie deterministically, got %v then %v", items[2].ID, items[3].ID)
	}
}
