package pollstate

import (
	"context"
	"errors"
	"testing"

	"github.com/mbd888/offerflow/internal/testutil"
)

func TestPostgresStore_SaveAndLoad(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	_, err := s.Load(ctx)
	if !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState on empty table, got %v", err)
	}

	blob := []byte(`{"sent":{"off_1":"active"},"received":{}}`)
	if err := s.Save(ctx, blob); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != string(blob) {
		t.Errorf("loaded %q, want %q", got, blob)
	}
}

func TestPostgresStore_SaveUpserts(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	ctx := context.Background()

	if err := s.Save(ctx, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.Save(ctx, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("loaded %q, want %q", got, `{"v":2}`)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM poll_state").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected a single poll_state row, got %d", count)
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := NewPostgresStore(db)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
