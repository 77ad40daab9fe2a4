package monitor

import (
	"testing"

	"github.com/HerbHall/printwatch/pkg/models"
)

func TestStore_SetGet(t *testing.T) {
	s := NewStore()
	s.Set("p1", models.DeviceStatus{ID: "p1", State: models.StateOnline})

	got, ok := s.Get("p1")
	if !ok {
		t.Fatal("Get(p1) not found")
	}
	if got.State != models.StateOnline {
		t.Errorf("State = %q, want %q", got.State, models.StateOnline)
	}
	if _, ok := s.Get("missing"); ok {
		t.Error("Get(missing) found, want not found")
	}
}

func TestStore_GetAllInsertionOrder(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		s.Set(id, models.DeviceStatus{ID: id})
	}
	// Replacing keeps the original position.
	s.Set("c", models.DeviceStatus{ID: "c", State: models.StateError})

	all := s.GetAll()
	want := []string{"c", "a", "b"}
	if len(all) != len(want) {
		t.Fatalf("len(GetAll) = %d, want %d", len(all), len(want))
	}
	for i, id := range want {
		if all[i].ID != id {
			t.Errorf("GetAll[%d].ID = %q, want %q", i, all[i].ID, id)
		}
	}
	if all[0].State != models.StateError {
		t.Errorf("replaced entry State = %q, want %q", all[0].State, models.StateError)
	}
}

func TestStore_Remove(t *testing.T) {
	s := NewStore()
	s.Set("a", models.DeviceStatus{ID: "a"})
	s.Set("b", models.DeviceStatus{ID: "b"})

	s.Remove("a")
	s.Remove("a")
	s.Remove("never")

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	all := s.GetAll()
	if all[0].ID != "b" {
		t.Errorf("remaining ID = %q, want b", all[0].ID)
	}

	// Re-adding appends at the end.
	s.Set("a", models.DeviceStatus{ID: "a"})
	all = s.GetAll()
	if all[1].ID != "a" {
		t.Errorf("re-added position = %q, want a last", all[1].ID)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := NewStore()
	in := models.DeviceStatus{
		ID:       "p1",
		Supplies: []models.Supply{{Name: "Black", LevelPercent: 80}},
	}
	s.Set("p1", in)
	in.Supplies[0].LevelPercent = 1

	got, _ := s.Get("p1")
	if got.Supplies[0].LevelPercent != 80 {
		t.Errorf("stored level = %d, want 80 after caller mutation", got.Supplies[0].LevelPercent)
	}

	got.Supplies[0].LevelPercent = 2
	again, _ := s.Get("p1")
	if again.Supplies[0].LevelPercent != 80 {
		t.Errorf("stored level = %d, want 80 after reader mutation", again.Supplies[0].LevelPercent)
	}
}
