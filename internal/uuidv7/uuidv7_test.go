package uuidv7

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewStringIsV7(t *testing.T) {
	id, err := uuid.Parse(NewString())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Version() != 7 {
		t.Fatalf("version = %d, want 7", id.Version())
	}
}

func TestNewStringTimeOrdered(t *testing.T) {
	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, NewString())
		time.Sleep(2 * time.Millisecond)
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatalf("ids not chronologically sortable: %v", ids)
	}
}
