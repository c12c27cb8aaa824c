package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/database"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := database.Open(ctx, dbURL)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRepoVoteAndThread(t *testing.T) {
	db := openTestDB(t)
	repo := New(db)
	ctx := context.Background()

	email := uuid.NewString() + "@example.com"
	u, err := repo.UpsertUser(ctx, model.Profile{Provider: "auth0", ProviderID: "p1", Email: email, DisplayName: "Tester"})
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if u.UUID == "" || !u.ReceiveMail {
		t.Fatalf("unexpected user: %+v", u)
	}

	again, err := repo.UpsertUser(ctx, model.Profile{Provider: "google", ProviderID: "g1", Email: email, DisplayName: "Renamed"})
	if err != nil {
		t.Fatalf("UpsertUser again: %v", err)
	}
	if again.UUID != u.UUID {
		t.Fatalf("expected merge by email, got %s vs %s", again.UUID, u.UUID)
	}

	url := "https://example.com/" + uuid.NewString()
	root, err := repo.InsertComment(ctx, model.NewComment{URL: url, AuthorUUID: u.UUID, Text: "root"})
	if err != nil {
		t.Fatalf("InsertComment: %v", err)
	}
	if root.Score() != 0 || root.Author.UUID != u.UUID {
		t.Fatalf("unexpected inserted comment: %+v", root)
	}
	if _, err := repo.InsertComment(ctx, model.NewComment{URL: url, AuthorUUID: u.UUID, Text: "child", ParentID: &root.ID}); err != nil {
		t.Fatalf("InsertComment child: %v", err)
	}

	for _, v := range []model.Vote{model.VoteUp, model.VoteNeutral, model.VoteDown} {
		if _, err := repo.Vote(ctx, root.ID, u.UUID, v); err != nil {
			t.Fatalf("Vote: %v", err)
		}
	}
	var rows int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM scores WHERE comment_id = $1`, root.ID).Scan(&rows); err != nil {
		t.Fatalf("count scores: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one score row, got %d", rows)
	}

	page, err := repo.CommentsByURL(ctx, model.ThreadQuery{URL: url, Limit: 100})
	if err != nil {
		t.Fatalf("CommentsByURL: %v", err)
	}
	if page.Total != 2 || page.Items[0].ID != root.ID || page.Items[0].Score() != -1 {
		t.Fatalf("unexpected page: %+v", page)
	}

	if _, ok, err := repo.EditComment(ctx, root.ID, uuid.NewString(), "nope"); err != nil || ok {
		t.Fatalf("foreign edit should match nothing: ok=%v err=%v", ok, err)
	}
	edited, ok, err := repo.EditComment(ctx, root.ID, u.UUID, "root edited")
	if err != nil || !ok || edited.Body() != "root edited" || edited.UpdatedAt == nil {
		t.Fatalf("EditComment: %+v ok=%v err=%v", edited, ok, err)
	}
}
