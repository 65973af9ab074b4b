package storage

import (
	"fmt"

	"studiodesk/internal/models"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// BlobMetadata describes an object put into the blob store.
type BlobMetadata struct {
	ObjectKey string `msgpack:"key"`
	MimeType  string `msgpack:"mimeType"`
	Size      int64  `msgpack:"size"`
	CreatedAt int64  `msgpack:"createdAt"`
	UserID    string `msgpack:"userId"`
}

func (f *BlobMetadata) Key() []byte {
	return []byte(f.ObjectKey)
}

func (f *BlobMetadata) MarshalBinary() (data []byte, err error) {
	type alias BlobMetadata
	return msgpack.Marshal((*alias)(f))
}

func (f *BlobMetadata) UnmarshalBinary(data []byte) error {
	type alias BlobMetadata
	return msgpack.Unmarshal(data, (*alias)(f))
}

func (s *BboltStorage) UpsertBlobMetadata(meta BlobMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		data, err := meta.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal blob metadata: %w", err)
		}
		return b.Put(meta.Key(), data)
	})
}

func (s *BboltStorage) GetBlobMetadata(key string) (BlobMetadata, error) {
	var meta BlobMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("blob metadata for %s: %w", key, models.ErrNotFound)
		}
		return meta.UnmarshalBinary(data)
	})
	return meta, err
}
