package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"animestream/catalogservice/internal/domain"
)

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	records := []domain.UnifiedRecord{
		testRecord("1", "Shingeki no Kyojin", "Attack on Titan"),
		testRecord("2", "Shingeki no Kyojin Season 2", "Attack on Titan Season 2"),
		testRecord("3", "Mushishi", ""),
	}
	for _, record := range records {
		inserted, err := store.InsertRecord(ctx, record)
		if err != nil || !inserted {
			t.Fatalf("insert %s: inserted=%v err=%v", record.ID, inserted, err)
		}
	}

	inserted, err := store.InsertRecord(ctx, testRecord("1", "Overwritten", ""))
	if err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	if inserted {
		t.Fatal("duplicate insert must not write")
	}

	got, ok, err := store.GetRecord(ctx, "1", domain.MediaTypeAnime)
	if err != nil || !ok {
		t.Fatalf("get record: ok=%v err=%v", ok, err)
	}
	if got.Media.Title.Romaji != "Shingeki no Kyojin" {
		t.Fatalf("unexpected record %+v", got.Media.Title)
	}
	if _, ok, _ := store.GetRecord(ctx, "1", domain.MediaTypeManga); ok {
		t.Fatal("records must be partitioned by media type")
	}

	found, err := store.FindRecords(ctx, "attack on titan", domain.MediaTypeAnime, 10)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(found))
	}
	if found[0].ID != "1" {
		t.Fatalf("expected exact match first, got %s", found[0].ID)
	}

	none, err := store.FindRecords(ctx, "frieren", domain.MediaTypeAnime, 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no matches, got %d err=%v", len(none), err)
	}

	replacement := testRecord("3", "Mushishi", "Mushi-Shi")
	replacement.Connectors = []domain.Connector{{ProviderID: "animesite", ID: "mushishi"}}
	if err := store.ReplaceRecord(ctx, replacement); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _, _ = store.GetRecord(ctx, "3", domain.MediaTypeAnime)
	if len(got.Connectors) != 1 || got.Media.Title.English != "Mushi-Shi" {
		t.Fatalf("replace did not persist: %+v", got)
	}

	key := domain.DerivativeKey{ID: "1", SubKey: "ep-1", Kind: domain.KindSources}
	cachedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.PutDerivative(ctx, domain.CachedDerivative{Key: key, ProviderID: "zoro", Data: json.RawMessage(`{"sources":[]}`), LastCachedAt: cachedAt}); err != nil {
		t.Fatalf("put derivative: %v", err)
	}
	if err := store.PutDerivative(ctx, domain.CachedDerivative{Key: key, ProviderID: "zoro", Data: json.RawMessage(`{"sources":[{"url":"u"}]}`), LastCachedAt: cachedAt.Add(time.Hour)}); err != nil {
		t.Fatalf("upsert derivative: %v", err)
	}
	derivative, ok, err := store.GetDerivative(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get derivative: ok=%v err=%v", ok, err)
	}
	if string(derivative.Data) != `{"sources":[{"url":"u"}]}` {
		t.Fatalf("expected upserted payload, got %s", derivative.Data)
	}
	if !derivative.LastCachedAt.Equal(cachedAt.Add(time.Hour)) {
		t.Fatalf("unexpected cached time %s", derivative.LastCachedAt)
	}
	if derivative.ProviderID != "zoro" {
		t.Fatalf("unexpected provider %q", derivative.ProviderID)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Records[string(domain.MediaTypeAnime)] != 3 || stats.Derivatives != 1 {
		t.Fatalf("unexpected stats %#v", stats)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestSQLiteStoreContract(t *testing.T) {
	store, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()
	runStoreContract(t, store)
}

func TestSQLiteFindEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	if _, err := store.InsertRecord(ctx, testRecord("1", "Mushishi", "")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	found, err := store.FindRecords(ctx, "%", domain.MediaTypeAnime, 10)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("wildcard must match literally, got %d records", len(found))
	}
}

func TestRankRecordsOrdersExactFirst(t *testing.T) {
	candidates := []domain.UnifiedRecord{
		testRecord("b", "Naruto Shippuden", ""),
		testRecord("c", "Boruto", ""),
		testRecord("a", "Naruto", ""),
	}
	got := rankRecords(candidates, "NARUTO", 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("unexpected order %s, %s", got[0].ID, got[1].ID)
	}
	if limited := rankRecords(candidates, "naruto", 1); len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
	if empty := rankRecords(candidates, "  ", 10); len(empty) != 0 {
		t.Fatalf("blank query must not match, got %d", len(empty))
	}
}

func TestRedisKeys(t *testing.T) {
	if got := redisRecordsKey(domain.MediaTypeManga); got != "catalog:records:MANGA" {
		t.Fatalf("unexpected records key %q", got)
	}
	if got := redisDerivativesKey(); got != "catalog:derivatives" {
		t.Fatalf("unexpected derivatives key %q", got)
	}
}

func TestMongoDerivativeDocRoundTrip(t *testing.T) {
	cachedAt := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	derivative := domain.CachedDerivative{
		Key:          domain.DerivativeKey{ID: "42", SubKey: "chapter-9", Kind: domain.KindPages},
		ProviderID:   "mangadex",
		Data:         json.RawMessage(`[{"index":0,"url":"u"}]`),
		LastCachedAt: cachedAt,
	}
	doc := derivativeToDoc(derivative)
	if doc.ID != "pages:42:chapter-9" {
		t.Fatalf("unexpected doc id %q", doc.ID)
	}
	back := derivativeDocToDomain(doc)
	if back.Key != derivative.Key || back.ProviderID != "mangadex" || string(back.Data) != string(derivative.Data) {
		t.Fatalf("unexpected round trip %#v", back)
	}
	if !back.LastCachedAt.Equal(cachedAt) {
		t.Fatalf("unexpected time %s", back.LastCachedAt)
	}
}

func TestMongoSearchFilterQuotesQuery(t *testing.T) {
	filter := mongoSearchFilter("Re:Zero (2016)", domain.MediaTypeAnime)
	regex := filter["search"].(bson.M)["$regex"].(string)
	if regex != `re:zero \(2016\)` {
		t.Fatalf("unexpected regex %q", regex)
	}
	if filter["type"] != "ANIME" {
		t.Fatalf("unexpected type filter %v", filter["type"])
	}
}

func TestRecordDocCarriesSearchText(t *testing.T) {
	record := testRecord("5", "Pokémon", "Pokemon")
	doc := toRecordDoc(record, time.Unix(100, 0))
	if doc.ID != "ANIME:5" || doc.Search != "pokemon" {
		t.Fatalf("unexpected doc %#v", doc)
	}
}
