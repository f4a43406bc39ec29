// ABOUTME: Tests for the bbolt-backed catalog store
// ABOUTME: Verifies type registry, dataset indexing and search queries

package catalog

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/opengeocube/metacat/pkg/dataset"
)

const testSchema = `
name: eo3_test
description: Test metadata type
dataset:
  id: [id]
  label: [label]
  creation_dt: [properties, 'odc:processing_datetime']
  search_fields:
    platform:
      description: Platform code
      offset: [properties, 'eo:platform']
    dataset_maturity:
      indexed: false
      offset: [properties, 'dea:dataset_maturity']
    cloud_cover:
      type: double
      offset: [properties, 'eo:cloud_cover']
    lat:
      type: double-range
      min_offset: [[extent, lat, begin]]
      max_offset: [[extent, lat, end]]
    time:
      type: datetime-range
      min_offset:
      - [properties, 'dtr:start_datetime']
      - [properties, datetime]
      max_offset:
      - [properties, 'dtr:end_datetime']
      - [properties, datetime]
`

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := "/tmp/test_catalog_" + t.Name() + ".db"
	os.Remove(path)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	return s, path
}

func registerTestType(t *testing.T, s *Store) {
	t.Helper()
	if _, _, err := s.PutType([]byte(testSchema)); err != nil {
		t.Fatalf("Failed to register type: %v", err)
	}
}

func testDoc(id, platform string, cloud float64, latBegin, latEnd float64, datetime string) dataset.Document {
	return dataset.Document{
		"id":    id,
		"label": "ard_" + id,
		"properties": map[string]interface{}{
			"eo:platform":             platform,
			"eo:cloud_cover":          cloud,
			"datetime":                datetime,
			"odc:processing_datetime": "2018-02-01T00:00:00Z",
			"dea:dataset_maturity":    "final",
		},
		"extent": map[string]interface{}{
			"lat": map[string]interface{}{
				"begin": latBegin,
				"end":   latEnd,
			},
		},
	}
}

func TestPutAndGetType(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()

	mt, rev, err := s.PutType([]byte(testSchema))
	if err != nil {
		t.Fatalf("Failed to put type: %v", err)
	}
	if mt.Name != "eo3_test" {
		t.Errorf("Expected 'eo3_test', got '%s'", mt.Name)
	}
	if rev != 1 {
		t.Errorf("Expected first revision 1, got %d", rev)
	}

	got, ok := s.GetType("eo3_test")
	if !ok {
		t.Fatal("Type not found after registration")
	}
	if got.Len() != 5 {
		t.Errorf("Expected 5 fields, got %d", got.Len())
	}

	names := s.ListTypes()
	if len(names) != 1 || names[0] != "eo3_test" {
		t.Errorf("Unexpected type list: %v", names)
	}

	// Canonical schema must reload to the same field set
	schema, err := s.TypeSchema("eo3_test")
	if err != nil {
		t.Fatalf("Failed to get schema: %v", err)
	}
	if len(schema) == 0 {
		t.Error("Empty canonical schema")
	}
}

func TestPutTypeRejectsInvalid(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()

	if _, _, err := s.PutType([]byte("dataset:\n  search_fields: {}\n")); err == nil {
		t.Error("Expected schema without a name to be rejected")
	}
}

func TestTypeRevisions(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()

	if _, rev, err := s.PutType([]byte(testSchema)); err != nil || rev != 1 {
		t.Fatalf("First registration: rev=%d err=%v", rev, err)
	}
	if _, rev, err := s.PutType([]byte(testSchema)); err != nil || rev != 2 {
		t.Fatalf("Second registration: rev=%d err=%v", rev, err)
	}

	revs, err := s.Revisions("eo3_test")
	if err != nil {
		t.Fatalf("Failed to list revisions: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("Expected 2 revisions, got %d", len(revs))
	}
	if revs[0].Revision != 1 || revs[1].Revision != 2 {
		t.Errorf("Unexpected revision order: %d, %d", revs[0].Revision, revs[1].Revision)
	}
	if revs[0].Schema == "" {
		t.Error("Revision lost its schema document")
	}
}

func TestRevisionsUnknownType(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()

	if _, err := s.Revisions("nope"); !errors.Is(err, ErrTypeNotFound) {
		t.Errorf("Expected ErrTypeNotFound, got %v", err)
	}
}

func TestIndexAndGetDataset(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	doc := testDoc("ds-1", "landsat-8", 23.4, -35.5, -34.2, "2018-01-03T08:32:11Z")
	rec, err := s.IndexDataset("eo3_test", doc)
	if err != nil {
		t.Fatalf("Failed to index dataset: %v", err)
	}

	if rec.ID != "ds-1" {
		t.Errorf("Expected id 'ds-1', got '%s'", rec.ID)
	}
	if rec.Label != "ard_ds-1" {
		t.Errorf("Expected label 'ard_ds-1', got '%s'", rec.Label)
	}
	if rec.CreationTime == nil || rec.CreationTime.Year() != 2018 {
		t.Errorf("Unexpected creation time: %v", rec.CreationTime)
	}
	if len(rec.Fields) != 5 {
		t.Errorf("Expected 5 field entries, got %d", len(rec.Fields))
	}

	platform := rec.Fields["platform"]
	if platform.Value == nil || platform.Value.Str != "landsat-8" {
		t.Errorf("Unexpected platform: %+v", platform.Value)
	}

	lat := rec.Fields["lat"]
	if lat.Min == nil || lat.Max == nil || *lat.Min.Num != -35.5 || *lat.Max.Num != -34.2 {
		t.Errorf("Unexpected lat bounds: %+v / %+v", lat.Min, lat.Max)
	}

	got, err := s.GetDataset("ds-1")
	if err != nil {
		t.Fatalf("Failed to get dataset: %v", err)
	}
	if got.Type != "eo3_test" {
		t.Errorf("Expected type 'eo3_test', got '%s'", got.Type)
	}
}

func TestIndexRequiresDatasetID(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	doc := dataset.Document{"properties": map[string]interface{}{"eo:platform": "landsat-8"}}
	if _, err := s.IndexDataset("eo3_test", doc); !errors.Is(err, ErrNoDatasetID) {
		t.Errorf("Expected ErrNoDatasetID, got %v", err)
	}
}

func TestIndexUnknownType(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()

	doc := dataset.Document{"id": "ds-1"}
	if _, err := s.IndexDataset("nope", doc); !errors.Is(err, ErrTypeNotFound) {
		t.Errorf("Expected ErrTypeNotFound, got %v", err)
	}
}

func TestFindEquality(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	docs := []dataset.Document{
		testDoc("ds-1", "landsat-8", 10, -35, -34, "2018-01-03T08:32:11Z"),
		testDoc("ds-2", "landsat-8", 20, -36, -35, "2018-02-03T08:32:11Z"),
		testDoc("ds-3", "sentinel-2a", 30, -37, -36, "2018-03-03T08:32:11Z"),
	}
	for _, doc := range docs {
		if _, err := s.IndexDataset("eo3_test", doc); err != nil {
			t.Fatalf("Failed to index: %v", err)
		}
	}

	records, err := s.Find(NewQuery("eo3_test").Field("platform").Equals("landsat-8").Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(records))
	}
	for _, rec := range records {
		if rec.Fields["platform"].Value.Str != "landsat-8" {
			t.Errorf("Wrong platform in result %s", rec.ID)
		}
	}

	records, err = s.Find(NewQuery("eo3_test").Field("platform").Equals("landsat-7").Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no results, got %d", len(records))
	}
}

func TestFindNumericRange(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	for i, cloud := range []float64{5, 15, 25, 35} {
		doc := testDoc(fmt.Sprintf("ds-%d", i), "landsat-8", cloud, -35, -34, "2018-01-03T08:32:11Z")
		if _, err := s.IndexDataset("eo3_test", doc); err != nil {
			t.Fatalf("Failed to index: %v", err)
		}
	}

	records, err := s.Find(NewQuery("eo3_test").Field("cloud_cover").Between(10, 30).Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 results in [10,30], got %d", len(records))
	}
	for _, rec := range records {
		num := *rec.Fields["cloud_cover"].Value.Num
		if num < 10 || num > 30 {
			t.Errorf("Result %s outside window: %v", rec.ID, num)
		}
	}
}

func TestFindRangeFieldMatchesEitherBound(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	// Both lat bounds inside the window: must appear exactly once
	doc := testDoc("ds-1", "landsat-8", 10, -35.5, -34.2, "2018-01-03T08:32:11Z")
	if _, err := s.IndexDataset("eo3_test", doc); err != nil {
		t.Fatalf("Failed to index: %v", err)
	}

	records, err := s.Find(NewQuery("eo3_test").Field("lat").Between(-36, -34).Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 deduplicated result, got %d", len(records))
	}

	// Only the max bound falls inside a narrower window
	records, err = s.Find(NewQuery("eo3_test").Field("lat").Between(-34.5, -34).Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected match on single bound, got %d results", len(records))
	}
}

func TestFindTimeRange(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	months := []string{"2018-01-03T08:32:11Z", "2018-02-03T08:32:11Z", "2018-03-03T08:32:11Z"}
	for i, dt := range months {
		doc := testDoc(fmt.Sprintf("ds-%d", i), "landsat-8", 10, -35, -34, dt)
		if _, err := s.IndexDataset("eo3_test", doc); err != nil {
			t.Fatalf("Failed to index: %v", err)
		}
	}

	from := time.Date(2018, 1, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2018, 2, 15, 0, 0, 0, 0, time.UTC)
	records, err := s.Find(NewQuery("eo3_test").Field("time").During(from, to).Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(records))
	}
	if records[0].ID != "ds-1" {
		t.Errorf("Expected ds-1, got %s", records[0].ID)
	}
}

func TestFindRejectsUnindexedField(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	_, err := s.Find(NewQuery("eo3_test").Field("dataset_maturity").Equals("final").Build())
	if !errors.Is(err, ErrFieldNotIndexed) {
		t.Errorf("Expected ErrFieldNotIndexed, got %v", err)
	}
}

func TestFindRejectsKindMismatch(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	// Equality condition against a double field
	_, err := s.Find(NewQuery("eo3_test").Field("cloud_cover").Equals("23.4").Build())
	if !errors.Is(err, ErrBadQuery) {
		t.Errorf("Expected ErrBadQuery, got %v", err)
	}

	// Unknown field
	_, err = s.Find(NewQuery("eo3_test").Field("nope").Equals("x").Build())
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("Expected ErrUnknownField, got %v", err)
	}
}

func TestFindLimitAndOffset(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	for i := 0; i < 5; i++ {
		doc := testDoc(fmt.Sprintf("ds-%d", i), "landsat-8", 10, -35, -34, "2018-01-03T08:32:11Z")
		if _, err := s.IndexDataset("eo3_test", doc); err != nil {
			t.Fatalf("Failed to index: %v", err)
		}
	}

	page1, err := s.Find(NewQuery("eo3_test").Field("platform").Equals("landsat-8").Limit(2).Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(page1))
	}

	page2, err := s.Find(NewQuery("eo3_test").Field("platform").Equals("landsat-8").Limit(2).Offset(2).Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(page2))
	}
	if page1[0].ID == page2[0].ID {
		t.Error("Offset did not advance the result window")
	}
}

func TestReindexReplacesIndexKeys(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	doc := testDoc("ds-1", "landsat-8", 10, -35, -34, "2018-01-03T08:32:11Z")
	if _, err := s.IndexDataset("eo3_test", doc); err != nil {
		t.Fatalf("Failed to index: %v", err)
	}

	doc = testDoc("ds-1", "landsat-7", 10, -35, -34, "2018-01-03T08:32:11Z")
	if _, err := s.IndexDataset("eo3_test", doc); err != nil {
		t.Fatalf("Failed to reindex: %v", err)
	}

	records, err := s.Find(NewQuery("eo3_test").Field("platform").Equals("landsat-8").Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Stale index keys survived reindexing: %d results", len(records))
	}

	records, err = s.Find(NewQuery("eo3_test").Field("platform").Equals("landsat-7").Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected reindexed dataset, got %d results", len(records))
	}
}

func TestDeleteDataset(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	doc := testDoc("ds-1", "landsat-8", 10, -35, -34, "2018-01-03T08:32:11Z")
	if _, err := s.IndexDataset("eo3_test", doc); err != nil {
		t.Fatalf("Failed to index: %v", err)
	}

	if err := s.DeleteDataset("ds-1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	if _, err := s.GetDataset("ds-1"); !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("Expected ErrDatasetNotFound, got %v", err)
	}

	records, err := s.Find(NewQuery("eo3_test").Field("platform").Equals("landsat-8").Build())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Index keys survived deletion: %d results", len(records))
	}

	if err := s.DeleteDataset("ds-1"); !errors.Is(err, ErrDatasetNotFound) {
		t.Errorf("Expected ErrDatasetNotFound on double delete, got %v", err)
	}
}

func TestUnindexedFieldStoredButNotIndexed(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	doc := testDoc("ds-1", "landsat-8", 10, -35, -34, "2018-01-03T08:32:11Z")
	rec, err := s.IndexDataset("eo3_test", doc)
	if err != nil {
		t.Fatalf("Failed to index: %v", err)
	}

	maturity := rec.Fields["dataset_maturity"]
	if maturity.Value == nil || maturity.Value.Str != "final" {
		t.Errorf("Unindexed field not resolved into record: %+v", maturity)
	}
	if maturity.Indexed {
		t.Error("Expected dataset_maturity flagged unindexed")
	}
}

func TestCoercionErrorKeptOnRecord(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	doc := testDoc("ds-1", "landsat-8", 10, -35, -34, "2018-01-03T08:32:11Z")
	doc["properties"].(map[string]interface{})["eo:cloud_cover"] = "broken"

	rec, err := s.IndexDataset("eo3_test", doc)
	if err != nil {
		t.Fatalf("Indexing must survive field-level errors: %v", err)
	}
	if rec.Fields["cloud_cover"].Error == "" {
		t.Error("Expected coercion error on stored record")
	}
	if rec.Fields["platform"].Value == nil {
		t.Error("Other fields must still be stored")
	}
}

func TestOpenReloadsTypes(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	registerTestType(t, s)

	doc := testDoc("ds-1", "landsat-8", 10, -35, -34, "2018-01-03T08:32:11Z")
	if _, err := s.IndexDataset("eo3_test", doc); err != nil {
		t.Fatalf("Failed to index: %v", err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s2.Close()

	if _, ok := s2.GetType("eo3_test"); !ok {
		t.Error("Type not reloaded after reopen")
	}

	records, err := s2.Find(NewQuery("eo3_test").Field("platform").Equals("landsat-8").Build())
	if err != nil {
		t.Fatalf("Query failed after reopen: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected indexed dataset to survive reopen, got %d results", len(records))
	}
}

func TestStat(t *testing.T) {
	s, path := setupTestStore(t)
	defer os.Remove(path)
	defer s.Close()
	registerTestType(t, s)

	for i := 0; i < 3; i++ {
		doc := testDoc(fmt.Sprintf("ds-%d", i), "landsat-8", 10, -35, -34, "2018-01-03T08:32:11Z")
		if _, err := s.IndexDataset("eo3_test", doc); err != nil {
			t.Fatalf("Failed to index: %v", err)
		}
	}

	st, err := s.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if st.Types != 1 {
		t.Errorf("Expected 1 type, got %d", st.Types)
	}
	if st.Datasets != 3 {
		t.Errorf("Expected 3 datasets, got %d", st.Datasets)
	}
}
