package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"studiodesk/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketDocuments = []byte("documents")
	bucketBlobs     = []byte("blobs")
)

var ErrInvalidPath = errors.New("invalid document path")

// BboltStorage is the document store. Collections are nested buckets under
// "documents", keyed by their slash-separated path.
type BboltStorage struct {
	db   *bbolt.DB
	live *liveQueries
	wg   sync.WaitGroup
	now  func() time.Time
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDocuments); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketBlobs); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{
		db:   db,
		live: newLiveQueries(),
		now:  time.Now,
	}, nil
}

// Close cancels all live queries, waits for in-flight deliveries and closes the database.
func (s *BboltStorage) Close() error {
	s.live.closeAll()
	s.wg.Wait()
	return s.db.Close()
}

// Add stores data as a new document of collection and returns its id.
// Ids are UUIDv7, so key order follows insertion order.
func (s *BboltStorage) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	if err := validCollection(collection); err != nil {
		return "", err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate document id: %w", err)
	}
	doc := DBDocument{ID: id.String(), Data: s.resolve(data)}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketDocuments).CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("failed to create collection bucket: %w", err)
		}
		return put(b, &doc)
	})
	if err != nil {
		return "", err
	}

	s.live.notify(collection)
	return doc.ID, nil
}

// Set creates or replaces the document at path.
func (s *BboltStorage) Set(ctx context.Context, path string, data map[string]any) error {
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}
	doc := DBDocument{ID: id, Data: s.resolve(data)}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketDocuments).CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("failed to create collection bucket: %w", err)
		}
		return put(b, &doc)
	})
	if err != nil {
		return err
	}

	s.live.notify(collection)
	return nil
}

// Update merges patch into the existing document at path.
func (s *BboltStorage) Update(ctx context.Context, path string, patch map[string]any) error {
	collection, id, err := splitPath(path)
	if err != nil {
		return err
	}
	resolved := s.resolve(patch)

	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocuments).Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("%s: %w", path, models.ErrNotFound)
		}
		raw := b.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%s: %w", path, models.ErrNotFound)
		}
		var doc DBDocument
		if err := doc.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("failed to unmarshal document %s: %w", path, err)
		}
		if doc.Data == nil {
			doc.Data = make(map[string]any, len(resolved))
		}
		maps.Copy(doc.Data, resolved)
		return put(b, &doc)
	})
	if err != nil {
		return err
	}

	s.live.notify(collection)
	return nil
}

// Get returns the document at path or models.ErrNotFound.
func (s *BboltStorage) Get(ctx context.Context, path string) (Document, error) {
	collection, id, err := splitPath(path)
	if err != nil {
		return Document{}, err
	}

	var doc DBDocument
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocuments).Bucket([]byte(collection))
		if b == nil {
			return fmt.Errorf("%s: %w", path, models.ErrNotFound)
		}
		raw := b.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("%s: %w", path, models.ErrNotFound)
		}
		return doc.UnmarshalBinary(raw)
	})
	if err != nil {
		return Document{}, err
	}
	return toDocument(collection, doc), nil
}

// Query runs q once against the current contents of its collection.
func (s *BboltStorage) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := validCollection(q.Collection); err != nil {
		return nil, err
	}

	var docs []Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocuments).Bucket([]byte(q.Collection))
		if b == nil {
			return nil // Empty collection
		}
		return b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var doc DBDocument
			if err := doc.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("failed to unmarshal document %s/%s: %w", q.Collection, k, err)
			}
			docs = append(docs, toDocument(q.Collection, doc))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return q.Apply(docs), nil
}

func (s *BboltStorage) resolve(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	now := s.now().UTC()
	for k, v := range data {
		switch tv := v.(type) {
		case serverTimestamp:
			out[k] = now
		case time.Time:
			out[k] = tv.UTC()
		default:
			out[k] = v
		}
	}
	return out
}

func put(b *bbolt.Bucket, item Storeable) error {
	data, err := item.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	return b.Put(item.Key(), data)
}

func toDocument(collection string, doc DBDocument) Document {
	return Document{
		ID:   doc.ID,
		Path: collection + "/" + doc.ID,
		Data: doc.Data,
	}
}

// splitPath splits "designs/abc/chats/xyz" into "designs/abc/chats" and "xyz".
func splitPath(path string) (string, string, error) {
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("%q: %w", path, ErrInvalidPath)
	}
	collection := path[:i]
	if err := validCollection(collection); err != nil {
		return "", "", err
	}
	return collection, path[i+1:], nil
}

func validCollection(collection string) error {
	if collection == "" {
		return fmt.Errorf("empty collection: %w", ErrInvalidPath)
	}
	for _, part := range strings.Split(collection, "/") {
		if part == "" {
			return fmt.Errorf("%q: %w", collection, ErrInvalidPath)
		}
	}
	return nil
}
