package update

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kohei/claimsub/internal/feed"
	"github.com/kohei/claimsub/internal/model"
)

// fakeUpdateRepo はUPSERTをメモリ上のマップで再現するフェイクリポジトリ。
type fakeUpdateRepo struct {
	records    map[string]model.UpdateRecord
	upsertErr  error
	lastLimit  int
	lastFilter string
}

func newFakeUpdateRepo() *fakeUpdateRepo {
	return &fakeUpdateRepo{records: make(map[string]model.UpdateRecord)}
}

func (f *fakeUpdateRepo) Upsert(ctx context.Context, record *model.UpdateRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.records[record.DedupKey] = *record
	return nil
}

func (f *fakeUpdateRepo) ListRecent(ctx context.Context, limit int, callbackFilter string) ([]model.UpdateRecord, error) {
	f.lastLimit = limit
	f.lastFilter = callbackFilter
	return nil, nil
}

func (f *fakeUpdateRepo) DeleteBeyondRank(ctx context.Context, keep int) (int64, error) {
	return 0, nil
}

// passthroughSanitizer はテスト用にサニタイズをそのまま通すフェイク。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(rawHTML string) string { return rawHTML }

func TestDedupKey_Deterministic(t *testing.T) {
	a := DedupKey("https://example.com/v", "id-1")
	b := DedupKey("https://example.com/v", "id-1")
	if a != b {
		t.Errorf("同一入力のキーは一致すべき: %q != %q", a, b)
	}
}

func TestDedupKey_DistinctForDifferentIDs(t *testing.T) {
	// 同じlinkでもentryIdが異なれば別キーになる
	a := DedupKey("https://example.com/v", "id-1")
	b := DedupKey("https://example.com/v", "id-2")
	if a == b {
		t.Error("entryIdが異なるキーは別であるべき")
	}

	// linkとentryIdの連結の曖昧さは改行区切りで防止される
	c := DedupKey("https://example.com/va", "b")
	d := DedupKey("https://example.com/v", "ab")
	if c == d {
		t.Error("連結境界の異なる入力は別キーであるべき")
	}
}

func TestPersist_StoresAllEntries(t *testing.T) {
	repo := newFakeUpdateRepo()
	svc := NewService(repo, passthroughSanitizer{})

	entries := []feed.Entry{
		{EntryID: "id-1", Title: "one", Content: "c1", Link: "https://example.com/1"},
		{EntryID: "id-2", Title: "two", Content: "c2", Link: "https://example.com/2"},
	}

	count, err := svc.Persist(context.Background(), "https://feed.example.com", "/ch1", entries)
	if err != nil {
		t.Fatalf("Persist がエラーを返した: %v", err)
	}
	if count != 2 {
		t.Errorf("保存件数 = %d, want 2", count)
	}
	if len(repo.records) != 2 {
		t.Errorf("リポジトリのレコード数 = %d, want 2", len(repo.records))
	}

	rec := repo.records[DedupKey("https://example.com/1", "id-1")]
	if rec.Topic != "https://feed.example.com" {
		t.Errorf("Topic = %q, want feed URL", rec.Topic)
	}
	if rec.Callback != "/ch1" {
		t.Errorf("Callback = %q, want /ch1", rec.Callback)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt が設定されるべき")
	}
}

func TestPersist_RedeliveryOverwritesInPlace(t *testing.T) {
	repo := newFakeUpdateRepo()
	svc := NewService(repo, passthroughSanitizer{})

	first := []feed.Entry{{EntryID: "id-1", Content: "original", Link: "https://example.com/1"}}
	if _, err := svc.Persist(context.Background(), "t", "/cb", first); err != nil {
		t.Fatalf("1回目のPersistがエラーを返した: %v", err)
	}

	// 同じ(link, entryId)で内容を変えて再配信
	second := []feed.Entry{{EntryID: "id-1", Content: "edited", Link: "https://example.com/1"}}
	if _, err := svc.Persist(context.Background(), "t", "/cb", second); err != nil {
		t.Fatalf("2回目のPersistがエラーを返した: %v", err)
	}

	if len(repo.records) != 1 {
		t.Fatalf("再配信でレコードが増えてはならない: got %d", len(repo.records))
	}
	rec := repo.records[DedupKey("https://example.com/1", "id-1")]
	if rec.Content != "edited" {
		t.Errorf("Content = %q, want 最新の %q", rec.Content, "edited")
	}
}

func TestPersist_SameLinkDistinctIDs(t *testing.T) {
	repo := newFakeUpdateRepo()
	svc := NewService(repo, passthroughSanitizer{})

	entries := []feed.Entry{
		{EntryID: "id-1", Link: "https://example.com/same"},
		{EntryID: "id-2", Link: "https://example.com/same"},
	}
	if _, err := svc.Persist(context.Background(), "t", "/cb", entries); err != nil {
		t.Fatalf("Persist がエラーを返した: %v", err)
	}

	if len(repo.records) != 2 {
		t.Errorf("同一linkでもid違いは2レコードになるべき: got %d", len(repo.records))
	}
}

func TestPersist_RepoErrorPropagates(t *testing.T) {
	repo := newFakeUpdateRepo()
	repo.upsertErr = errors.New("db down")
	svc := NewService(repo, passthroughSanitizer{})

	_, err := svc.Persist(context.Background(), "t", "/cb",
		[]feed.Entry{{EntryID: "id-1", Link: "https://example.com/1"}})
	if err == nil {
		t.Fatal("リポジトリエラーが伝播すべき")
	}
}

func TestPersist_SanitizesTitleAndContent(t *testing.T) {
	repo := newFakeUpdateRepo()
	svc := NewService(repo, upperSanitizer{})

	entries := []feed.Entry{{EntryID: "id-1", Title: "name", Content: "raw", Link: "https://example.com/1"}}
	if _, err := svc.Persist(context.Background(), "t", "/cb", entries); err != nil {
		t.Fatalf("Persist がエラーを返した: %v", err)
	}

	rec := repo.records[DedupKey("https://example.com/1", "id-1")]
	if rec.Content != "RAW" {
		t.Errorf("Content = %q, サニタイザを通した値が保存されるべき", rec.Content)
	}
	if rec.Title != "NAME" {
		t.Errorf("Title = %q, サニタイザを通した値が保存されるべき", rec.Title)
	}
}

// upperSanitizer はサニタイザの適用を観測できるようにするフェイク。
type upperSanitizer struct{}

func (upperSanitizer) Sanitize(rawHTML string) string {
	out := make([]rune, 0, len(rawHTML))
	for _, r := range rawHTML {
		if 'a' <= r && r <= 'z' {
			r = r - 'a' + 'A'
		}
		out = append(out, r)
	}
	return string(out)
}

func TestListRecent_ClampsLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"ゼロはデフォルト25", 0, 25},
		{"負値はデフォルト25", -3, 25},
		{"上限100にクランプ", 500, 100},
		{"範囲内はそのまま", 10, 10},
		{"下限1", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeUpdateRepo()
			svc := NewService(repo, passthroughSanitizer{})

			if _, err := svc.ListRecent(context.Background(), tt.limit, ""); err != nil {
				t.Fatalf("ListRecent がエラーを返した: %v", err)
			}
			if repo.lastLimit != tt.want {
				t.Errorf("limit = %d, want %d", repo.lastLimit, tt.want)
			}
		})
	}
}

func TestListRecent_PassesCallbackFilter(t *testing.T) {
	repo := newFakeUpdateRepo()
	svc := NewService(repo, passthroughSanitizer{})

	if _, err := svc.ListRecent(context.Background(), 10, "/ch42"); err != nil {
		t.Fatalf("ListRecent がエラーを返した: %v", err)
	}
	if repo.lastFilter != "/ch42" {
		t.Errorf("callbackFilter = %q, want /ch42", repo.lastFilter)
	}
}

func TestPersist_EntriesShareTimestamp(t *testing.T) {
	repo := newFakeUpdateRepo()
	svc := NewService(repo, passthroughSanitizer{})
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	entries := []feed.Entry{
		{EntryID: "id-1", Link: "https://example.com/1"},
		{EntryID: "id-2", Link: "https://example.com/2"},
	}
	if _, err := svc.Persist(context.Background(), "t", "/cb", entries); err != nil {
		t.Fatalf("Persist がエラーを返した: %v", err)
	}

	for key, rec := range repo.records {
		if !rec.UpdatedAt.Equal(fixed) {
			t.Errorf("UpdatedAt(%s) = %v, want %v", key, rec.UpdatedAt, fixed)
		}
	}
}
