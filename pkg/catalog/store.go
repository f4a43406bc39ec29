// ABOUTME: Persistent catalog of metadata types and indexed datasets
// ABOUTME: bbolt-backed registry, index writer and query executor

package catalog

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/opengeocube/metacat/pkg/dataset"
	"github.com/opengeocube/metacat/pkg/metadata"
	"github.com/opengeocube/metacat/pkg/resolver"
)

var (
	bucketTypes     = []byte("types")
	bucketRevisions = []byte("revisions")
	bucketDatasets  = []byte("datasets")
)

var (
	// ErrTypeNotFound indicates an unregistered metadata type
	ErrTypeNotFound = errors.New("catalog: metadata type not found")

	// ErrDatasetNotFound indicates a missing dataset record
	ErrDatasetNotFound = errors.New("catalog: dataset not found")

	// ErrNoDatasetID indicates a document whose id offset did not resolve
	ErrNoDatasetID = errors.New("catalog: document has no dataset id")

	// ErrUnknownField indicates a query against an undeclared field
	ErrUnknownField = errors.New("catalog: no such search field")

	// ErrFieldNotIndexed indicates a query against an unindexed field
	ErrFieldNotIndexed = errors.New("catalog: field is not indexed")

	// ErrBadQuery indicates query conditions that contradict the field kind
	ErrBadQuery = errors.New("catalog: query does not match field kind")
)

// Store is the catalog: registered metadata types plus the dataset
// records and search indexes built from resolve-all output.
type Store struct {
	db *bbolt.DB

	mu    sync.RWMutex
	types map[string]*metadata.MetadataType
}

// Open opens or creates a catalog database and loads the registered
// metadata types into memory. Types are immutable once loaded, so the
// cache needs no invalidation beyond PutType itself.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}

	s := &Store{db: db, types: make(map[string]*metadata.MetadataType)}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketTypes, bucketRevisions, bucketDatasets} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketTypes).ForEach(func(k, v []byte) error {
			mt, err := metadata.LoadBytes(v)
			if err != nil {
				return fmt.Errorf("stored type %q: %w", k, err)
			}
			s.types[mt.Name] = mt
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: init: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.db.Path()
}

func indexBucket(typeName string) []byte {
	return []byte("index:" + typeName)
}

func revisionKey(name string, rev uint64) []byte {
	out := append(escape([]byte(name)), 0x00)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], rev)
	return append(out, buf[:]...)
}

// PutType validates and registers a metadata type from its schema
// document. Re-registering a name creates a new revision; earlier
// revisions stay readable.
func (s *Store) PutType(schema []byte) (*metadata.MetadataType, uint64, error) {
	mt, err := metadata.LoadBytes(schema)
	if err != nil {
		return nil, 0, err
	}
	canonical, err := metadata.Marshal(mt)
	if err != nil {
		return nil, 0, err
	}

	var rev uint64
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketTypes).Put([]byte(mt.Name), canonical); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(indexBucket(mt.Name)); err != nil {
			return err
		}

		rb := tx.Bucket(bucketRevisions)
		rev = lastRevision(rb, mt.Name) + 1
		record := TypeRevision{
			Name:      mt.Name,
			Revision:  rev,
			Schema:    string(canonical),
			CreatedAt: time.Now().UTC(),
		}
		data, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		return rb.Put(revisionKey(mt.Name, rev), data)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: put type %q: %w", mt.Name, err)
	}

	s.mu.Lock()
	s.types[mt.Name] = mt
	s.mu.Unlock()

	return mt, rev, nil
}

func lastRevision(rb *bbolt.Bucket, name string) uint64 {
	prefix := append(escape([]byte(name)), 0x00)
	var last uint64
	c := rb.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		if len(k) == len(prefix)+8 {
			last = binary.BigEndian.Uint64(k[len(prefix):])
		}
	}
	return last
}

// GetType returns a registered metadata type by name.
func (s *Store) GetType(name string) (*metadata.MetadataType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mt, ok := s.types[name]
	return mt, ok
}

// TypeSchema returns the canonical schema YAML of the current revision.
func (s *Store) TypeSchema(name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTypes).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%w: %q", ErrTypeNotFound, name)
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// ListTypes returns the registered type names, sorted.
func (s *Store) ListTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Revisions lists all registrations of a type, oldest first.
func (s *Store) Revisions(name string) ([]TypeRevision, error) {
	if _, ok := s.GetType(name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotFound, name)
	}
	var revs []TypeRevision
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := append(escape([]byte(name)), 0x00)
		c := tx.Bucket(bucketRevisions).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec TypeRevision
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			revs = append(revs, rec)
		}
		return nil
	})
	return revs, err
}

// IndexDataset resolves a document against a registered type and stores
// the record plus index keys for every indexed, resolved field. The
// dataset id comes from the type's fixed id offset; re-indexing an id
// replaces the previous record and its index entries.
func (s *Store) IndexDataset(typeName string, doc dataset.Document) (*DatasetRecord, error) {
	mt, ok := s.GetType(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotFound, typeName)
	}

	id, ok := resolver.DatasetID(doc, mt)
	if !ok || id == "" {
		return nil, ErrNoDatasetID
	}

	rec := buildRecord(id, mt, doc, resolver.ResolveAll(doc, mt))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		db := tx.Bucket(bucketDatasets)
		if old := db.Get([]byte(id)); old != nil {
			var oldRec DatasetRecord
			if err := json.Unmarshal(old, &oldRec); err != nil {
				return err
			}
			if err := removeIndexKeys(tx, &oldRec); err != nil {
				return err
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := db.Put([]byte(id), data); err != nil {
			return err
		}
		return writeIndexKeys(tx, rec)
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: index dataset %q: %w", id, err)
	}

	return rec, nil
}

func buildRecord(id string, mt *metadata.MetadataType, doc dataset.Document, res *resolver.Result) *DatasetRecord {
	rec := &DatasetRecord{
		ID:        id,
		Type:      mt.Name,
		Fields:    make(map[string]StoredField, len(res.Fields)),
		IndexedAt: time.Now().UTC(),
	}
	if label, ok := resolver.Label(doc, mt); ok {
		rec.Label = label
	}
	if format, ok := resolver.Format(doc, mt); ok {
		rec.Format = format
	}
	if created, ok := resolver.CreationTime(doc, mt); ok {
		rec.CreationTime = &created
	}

	for name, fv := range res.Fields {
		sf := StoredField{
			Kind:    fv.Kind,
			Indexed: fv.Indexed,
			Value:   storedValue(fv.Kind, fv.Value),
			Min:     storedValue(fv.Kind, fv.Min),
			Max:     storedValue(fv.Kind, fv.Max),
		}
		if fv.Err != nil {
			sf.Error = fv.Err.Error()
		}
		rec.Fields[name] = sf
	}
	return rec
}

func storedValue(kind metadata.Kind, v *resolver.Value) *StoredValue {
	if v == nil {
		return nil
	}
	sv := &StoredValue{Raw: v.Raw}
	switch kind {
	case metadata.KindString:
		sv.Str = v.Str
	case metadata.KindDouble, metadata.KindDoubleRange:
		num := v.Num
		sv.Num = &num
	case metadata.KindDatetimeRange:
		t := v.Time
		sv.Time = &t
	}
	return sv
}

// indexKeys enumerates every index key a record contributes. Both
// bounds of a range field are written under the field name, so a range
// scan matches datasets with either bound inside the window.
func indexKeys(rec *DatasetRecord) [][]byte {
	var keys [][]byte
	for name, sf := range rec.Fields {
		if !sf.Indexed {
			continue
		}
		switch sf.Kind {
		case metadata.KindString:
			if sf.Value != nil {
				keys = append(keys, stringKey(name, sf.Value.Str, rec.ID))
			}
		case metadata.KindDouble:
			if sf.Value != nil && sf.Value.Num != nil {
				keys = append(keys, scalarKey(name, tagFloat64, encodeFloat(*sf.Value.Num), rec.ID))
			}
		case metadata.KindDoubleRange:
			for _, sv := range []*StoredValue{sf.Min, sf.Max} {
				if sv != nil && sv.Num != nil {
					keys = append(keys, scalarKey(name, tagFloat64, encodeFloat(*sv.Num), rec.ID))
				}
			}
		case metadata.KindDatetimeRange:
			for _, sv := range []*StoredValue{sf.Min, sf.Max} {
				if sv != nil && sv.Time != nil {
					keys = append(keys, scalarKey(name, tagTime, encodeTime(*sv.Time), rec.ID))
				}
			}
		}
	}
	return keys
}

func writeIndexKeys(tx *bbolt.Tx, rec *DatasetRecord) error {
	b, err := tx.CreateBucketIfNotExists(indexBucket(rec.Type))
	if err != nil {
		return err
	}
	for _, key := range indexKeys(rec) {
		if err := b.Put(key, []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func removeIndexKeys(tx *bbolt.Tx, rec *DatasetRecord) error {
	b := tx.Bucket(indexBucket(rec.Type))
	if b == nil {
		return nil
	}
	for _, key := range indexKeys(rec) {
		if err := b.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// GetDataset returns a stored dataset record.
func (s *Store) GetDataset(id string) (*DatasetRecord, error) {
	var rec DatasetRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDatasets).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %q", ErrDatasetNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteDataset removes a dataset record and all of its index keys.
func (s *Store) DeleteDataset(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		db := tx.Bucket(bucketDatasets)
		data := db.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %q", ErrDatasetNotFound, id)
		}
		var rec DatasetRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if err := removeIndexKeys(tx, &rec); err != nil {
			return err
		}
		return db.Delete([]byte(id))
	})
}

// Find executes an equality or range query over one indexed field and
// returns the matching dataset records in index order.
func (s *Store) Find(q Query) ([]*DatasetRecord, error) {
	mt, ok := s.GetType(q.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotFound, q.Type)
	}
	spec, ok := mt.Field(q.Field)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownField, q.Field)
	}
	if !spec.Indexed {
		return nil, fmt.Errorf("%w: %q", ErrFieldNotIndexed, q.Field)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var records []*DatasetRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucket(q.Type))
		if b == nil {
			return nil
		}

		var ids []string
		c := b.Cursor()
		switch spec.Kind {
		case metadata.KindString:
			if q.Equals == nil {
				return fmt.Errorf("%w: string field %q needs an equality value", ErrBadQuery, q.Field)
			}
			prefix := fieldPrefix(q.Field, tagBytes)
			prefix = append(prefix, escape([]byte(*q.Equals))...)
			prefix = append(prefix, 0x00)
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				ids = append(ids, string(unescape(k[len(prefix):])))
			}

		case metadata.KindDouble, metadata.KindDoubleRange:
			if q.Min == nil || q.Max == nil {
				return fmt.Errorf("%w: double field %q needs min and max", ErrBadQuery, q.Field)
			}
			ids = collectRange(c, q.Field, tagFloat64, encodeFloat(*q.Min), encodeFloat(*q.Max))

		case metadata.KindDatetimeRange:
			if q.MinTime == nil || q.MaxTime == nil {
				return fmt.Errorf("%w: datetime field %q needs a time window", ErrBadQuery, q.Field)
			}
			ids = collectRange(c, q.Field, tagTime, encodeTime(*q.MinTime), encodeTime(*q.MaxTime))
		}

		// Range fields index both bounds, so one dataset can match twice.
		seen := make(map[string]bool, len(ids))
		skipped := 0
		db := tx.Bucket(bucketDatasets)
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			if skipped < q.Offset {
				skipped++
				continue
			}
			if len(records) >= limit {
				break
			}
			data := db.Get([]byte(id))
			if data == nil {
				continue
			}
			var rec DatasetRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func collectRange(c *bbolt.Cursor, field string, tag byte, min, max []byte) []string {
	pfx := fieldPrefix(field, tag)
	start := append(append([]byte(nil), pfx...), min...)

	var ids []string
	for k, _ := c.Seek(start); k != nil && bytes.HasPrefix(k, pfx); k, _ = c.Next() {
		if len(k) < len(pfx)+9 {
			continue
		}
		if bytes.Compare(k[len(pfx):len(pfx)+8], max) > 0 {
			break
		}
		ids = append(ids, string(unescape(k[len(pfx)+9:])))
	}
	return ids
}

// Stats summarizes catalog contents for metrics reporting.
type Stats struct {
	Types    int
	Datasets int
}

// Stat counts registered types and stored datasets.
func (s *Store) Stat() (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		st.Types = tx.Bucket(bucketTypes).Stats().KeyN
		st.Datasets = tx.Bucket(bucketDatasets).Stats().KeyN
		return nil
	})
	return st, err
}
