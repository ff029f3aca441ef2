// Package storage keeps rendered artifacts in an embedded bbolt database
// and hands out time-limited signed URLs for them.
package storage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketBlobs = []byte("blobs")
	bucketMeta  = []byte("blob_meta")
)

// ErrInvalidSignature is returned for tampered or expired links
var ErrInvalidSignature = errors.New("invalid or expired signature")

// Object describes a stored blob
type Object struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Blobs is a bbolt-backed object store
type Blobs struct {
	db      *bolt.DB
	secret  []byte
	baseURL string
	now     func() time.Time
}

// Open opens (or creates) the bbolt file at path
func Open(path string) (*bolt.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return db, nil
}

// NewBlobs creates the object store on top of db. baseURL is the public
// address signed links point to.
func NewBlobs(db *bolt.DB, secret, baseURL string) (*Blobs, error) {
	if secret == "" {
		return nil, errors.New("storage signing key is required")
	}

	err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlobs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Blobs{
		db:      db,
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}, nil
}

// CleanPath validates an object key
func CleanPath(p string) (string, error) {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "", errors.New("empty object path")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("invalid object path: %s", p)
		}
	}
	return p, nil
}

// Upload stores data under path, replacing any previous object
func (b *Blobs) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := CleanPath(path)
	if err != nil {
		return err
	}

	meta, err := json.Marshal(Object{
		Path:        key,
		ContentType: contentType,
		Size:        len(data),
		UploadedAt:  b.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal object meta: %w", err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketBlobs).Put([]byte(key), data); err != nil {
			return fmt.Errorf("failed to store object: %w", err)
		}
		if err := tx.Bucket(bucketMeta).Put([]byte(key), meta); err != nil {
			return fmt.Errorf("failed to store object meta: %w", err)
		}
		return nil
	})
}

// Get returns an object and its data, or nil when absent
func (b *Blobs) Get(ctx context.Context, path string) (*Object, []byte, error) {
	key, err := CleanPath(path)
	if err != nil {
		return nil, nil, err
	}

	var obj *Object
	var data []byte
	err = b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get([]byte(key))
		if raw == nil {
			return nil
		}
		var o Object
		if err := json.Unmarshal(raw, &o); err != nil {
			return fmt.Errorf("failed to unmarshal object meta: %w", err)
		}
		obj = &o
		// bbolt memory is only valid inside the transaction
		data = append([]byte(nil), tx.Bucket(bucketBlobs).Get([]byte(key))...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return obj, data, nil
}

// List returns objects whose path starts with prefix
func (b *Blobs) List(ctx context.Context, prefix string) ([]*Object, error) {
	var out []*Object
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMeta).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var o Object
			if err := json.Unmarshal(v, &o); err != nil {
				continue
			}
			out = append(out, &o)
		}
		return nil
	})
	return out, err
}

// Delete removes every object under prefix and returns how many were removed
func (b *Blobs) Delete(ctx context.Context, prefix string) (int, error) {
	return b.deleteWhere(func(k []byte, _ *Object) bool {
		return bytes.HasPrefix(k, []byte(prefix))
	})
}

// Cleanup removes objects uploaded before now-olderThan
func (b *Blobs) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := b.now().Add(-olderThan)
	return b.deleteWhere(func(_ []byte, o *Object) bool {
		return o != nil && o.UploadedAt.Before(cutoff)
	})
}

func (b *Blobs) deleteWhere(match func([]byte, *Object) bool) (int, error) {
	var count int
	err := b.db.Update(func(tx *bolt.Tx) error {
		metaBucket := tx.Bucket(bucketMeta)
		blobBucket := tx.Bucket(bucketBlobs)

		var keys [][]byte
		c := metaBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var o Object
			var op *Object
			if err := json.Unmarshal(v, &o); err == nil {
				op = &o
			}
			if match(k, op) {
				keys = append(keys, append([]byte(nil), k...))
			}
		}

		for _, k := range keys {
			if err := metaBucket.Delete(k); err != nil {
				return err
			}
			if err := blobBucket.Delete(k); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// SignedURL returns a link to path valid for ttl
func (b *Blobs) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	key, err := CleanPath(path)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", errors.New("signed URL ttl must be positive")
	}

	expires := b.now().Add(ttl).Unix()

	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", b.sign(key, expires))

	return b.baseURL + "/files/" + strings.Join(segments, "/") + "?" + q.Encode(), nil
}

// Verify checks a link's signature and expiry
func (b *Blobs) Verify(path, expires, sig string) error {
	key, err := CleanPath(path)
	if err != nil {
		return err
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if b.now().Unix() > exp {
		return ErrInvalidSignature
	}
	want := b.sign(key, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

func (b *Blobs) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(key))
	mac.Write([]byte("|"))
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
