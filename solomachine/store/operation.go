package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	errNotFound      = errors.New("key not found")
	errAlreadyExists = errors.New("key already exists")
)

// Key prefix codes. Each collection lives under its own code; per-chain
// collections append the chain id and a zero separator.
const (
	codeChainState uint8 = 1
	codeChainKey   uint8 = 2
	codeOperation  uint8 = 3
	codeCounter    uint8 = 10
)

func makePrefix(code uint8, parts ...interface{}) []byte {
	prefix := []byte{code}
	for _, part := range parts {
		prefix = append(prefix, b(part)...)
	}
	return prefix
}

func b(v interface{}) []byte {
	switch i := v.(type) {
	case uint8:
		return []byte{i}
	case uint64:
		bz := make([]byte, 8)
		binary.BigEndian.PutUint64(bz, i)
		return bz
	case string:
		return []byte(i)
	case []byte:
		return i
	default:
		panic(fmt.Sprintf("unsupported key part type %T", v))
	}
}

// insert encodes entity as JSON under key. It fails if key exists.
func insert(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		if err == nil {
			return errAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("could not check key: %w", err)
		}

		val, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("could not encode entity: %w", err)
		}
		if err := tx.Set(key, val); err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// update replaces the value under an existing key.
func update(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		_, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errNotFound
		}
		if err != nil {
			return fmt.Errorf("could not check key: %w", err)
		}

		val, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("could not encode entity: %w", err)
		}
		if err := tx.Set(key, val); err != nil {
			return fmt.Errorf("could not replace data: %w", err)
		}
		return nil
	}
}

// retrieve decodes the value under key into entity.
func retrieve(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errNotFound
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}

		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, entity)
		})
		if err != nil {
			return fmt.Errorf("could not decode entity: %w", err)
		}
		return nil
	}
}

// createFunc returns a fresh decode target; handleFunc consumes it after
// decoding and returns false to stop the iteration.
type (
	createFunc  func() interface{}
	handleFunc  func() (bool, error)
	iterateFunc func() (createFunc, handleFunc)
)

// traverse decodes every value under prefix in key order.
func traverse(prefix []byte, iteration iterateFunc) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		if len(prefix) == 0 {
			return fmt.Errorf("prefix must not be empty")
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			create, handle := iteration()

			var more bool
			err := it.Item().Value(func(val []byte) error {
				if err := json.Unmarshal(val, create()); err != nil {
					return fmt.Errorf("could not decode entity: %w", err)
				}
				var err error
				more, err = handle()
				return err
			})
			if err != nil {
				return fmt.Errorf("could not process value: %w", err)
			}
			if !more {
				break
			}
		}
		return nil
	}
}

// nextID increments the counter stored under key and returns the new value.
// Counters start at 1.
func nextID(key []byte) func(*badger.Txn) (uint64, error) {
	return func(tx *badger.Txn) (uint64, error) {
		var current uint64
		item, err := tx.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return 0, fmt.Errorf("could not load counter: %w", err)
		default:
			err = item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("corrupt counter of %d bytes", len(val))
				}
				current = binary.BigEndian.Uint64(val)
				return nil
			})
			if err != nil {
				return 0, err
			}
		}

		current++
		if err := tx.Set(key, b(current)); err != nil {
			return 0, fmt.Errorf("could not store counter: %w", err)
		}
		return current, nil
	}
}
