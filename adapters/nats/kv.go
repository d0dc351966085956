package nats

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/cqrs-go/ports/kv"
)

type KvConfig struct {
	Connect  Connector
	Bucket   string
	Storage  jetstream.StorageType
	MaxBytes int64
}

// KvStore implements kv.Store on a JetStream key/value bucket. Entry
// revisions are the bucket's per-key sequences, so Create and Update are
// server-side conditional writes.
type KvStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
}

func NewKvStore(ctx context.Context, cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}
	bucket, err := ensureBucket(ctx, js, cfg)
	if err != nil {
		closeNc()
		return nil, err
	}
	return &KvStore{kv: bucket, closeNc: closeNc}, nil
}

// NewKvStoreFor wraps an existing bucket. The caller owns the connection.
func NewKvStoreFor(bucket jetstream.KeyValue) *KvStore {
	return &KvStore{kv: bucket, closeNc: func() {}}
}

func ensureBucket(ctx context.Context, js jetstream.JetStream, cfg KvConfig) (jetstream.KeyValue, error) {
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  cfg.Storage,
		MaxBytes: maxBytes,
		History:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	return bucket, nil
}

func (k *KvStore) Close() { k.closeNc() }

// keys are free-form in the port but restricted in JetStream
func encodeKey(key string) string { return base64.RawURLEncoding.EncodeToString([]byte(key)) }

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	e, err := k.kv.Get(ctx, encodeKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return kv.Entry{Data: e.Value(), Revision: e.Revision()}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, data []byte) (uint64, error) {
	rev, err := k.kv.Put(ctx, encodeKey(key), data)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", key, err)
	}
	return rev, nil
}

func (k *KvStore) Create(ctx context.Context, key string, data []byte) (uint64, error) {
	rev, err := k.kv.Create(ctx, encodeKey(key), data)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongLastSequence(err) {
			return 0, kv.ErrExists
		}
		return 0, fmt.Errorf("create %s: %w", key, err)
	}
	return rev, nil
}

func (k *KvStore) Update(ctx context.Context, key string, data []byte, rev uint64) (uint64, error) {
	next, err := k.kv.Update(ctx, encodeKey(key), data, rev)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongLastSequence(err) {
			return 0, kv.ErrRevisionMismatch
		}
		return 0, fmt.Errorf("update %s: %w", key, err)
	}
	return next, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if err := k.kv.Delete(ctx, encodeKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

var _ kv.Store = (*KvStore)(nil)
