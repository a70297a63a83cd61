package store

import (
	"context"
	"errors"

	errorsmod "cosmossdk.io/errors"
	cryptotypes "github.com/cosmos/cosmos-sdk/crypto/types"
	"github.com/dgraph-io/badger/v2"
	"go.uber.org/zap"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/types"
	"github.com/cosmos/solo-machine/solomachine/wire"
)

var (
	_ provider.Storage     = (*Store)(nil)
	_ provider.Transaction = (*Transaction)(nil)
)

// Store is the badger backed Storage capability.
type Store struct {
	db  *badger.DB
	cdc wire.Codec
	log *zap.Logger
}

// Open opens or creates the database in dir.
func Open(dir string, cdc wire.Codec, log *zap.Logger) (*Store, error) {
	return open(badger.DefaultOptions(dir), cdc, log)
}

// OpenInMemory opens a database that lives only as long as the process.
func OpenInMemory(cdc wire.Codec, log *zap.Logger) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), cdc, log)
}

func open(opts badger.Options, cdc wire.Codec, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := badger.Open(opts.WithLogger(badgerLogger{log.Named("badger").Sugar()}))
	if err != nil {
		return nil, types.WrapKind(types.ErrStorage, err, "opening database")
	}
	return &Store{db: db, cdc: cdc, log: log}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return types.WrapKind(types.ErrStorage, err, "closing database")
	}
	return nil
}

// Transaction starts a read-write transaction limited to points.
func (s *Store) Transaction(ctx context.Context, points ...provider.AccessPoint) (provider.Transaction, error) {
	return s.begin(ctx, points...)
}

func (s *Store) begin(ctx context.Context, points ...provider.AccessPoint) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.WrapKind(types.ErrStorage, err, "starting transaction")
	}
	if len(points) == 0 {
		return nil, errorsmod.Wrap(types.ErrValidation, "transaction needs at least one access point")
	}

	allowed := make(map[provider.AccessPoint]bool, len(points))
	for _, p := range points {
		switch p {
		case provider.AccessChainStates, provider.AccessChainKeys, provider.AccessOperations:
			allowed[p] = true
		default:
			return nil, errorsmod.Wrapf(types.ErrValidation, "unknown access point %q", p)
		}
	}

	return &Transaction{
		tx:      s.db.NewTransaction(true),
		cdc:     s.cdc,
		allowed: allowed,
	}, nil
}

// run executes fn in its own transaction over every access point.
func (s *Store) run(ctx context.Context, fn func(tx *Transaction) error) error {
	tx, err := s.begin(ctx, provider.AllAccessPoints...)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) AddChainState(ctx context.Context, state *types.ChainState) error {
	return s.run(ctx, func(tx *Transaction) error { return tx.AddChainState(ctx, state) })
}

func (s *Store) GetChainState(ctx context.Context, chainID types.ChainID) (*types.ChainState, error) {
	var state *types.ChainState
	err := s.run(ctx, func(tx *Transaction) error {
		var err error
		state, err = tx.GetChainState(ctx, chainID)
		return err
	})
	return state, err
}

func (s *Store) UpdateChainState(ctx context.Context, state *types.ChainState) error {
	return s.run(ctx, func(tx *Transaction) error { return tx.UpdateChainState(ctx, state) })
}

func (s *Store) ListChainStates(ctx context.Context) ([]*types.ChainState, error) {
	var states []*types.ChainState
	err := s.run(ctx, func(tx *Transaction) error {
		var err error
		states, err = tx.ListChainStates(ctx)
		return err
	})
	return states, err
}

func (s *Store) AddChainKey(ctx context.Context, key *types.ChainKey) error {
	return s.run(ctx, func(tx *Transaction) error { return tx.AddChainKey(ctx, key) })
}

func (s *Store) GetChainKeys(ctx context.Context, chainID types.ChainID) ([]*types.ChainKey, error) {
	var keys []*types.ChainKey
	err := s.run(ctx, func(tx *Transaction) error {
		var err error
		keys, err = tx.GetChainKeys(ctx, chainID)
		return err
	})
	return keys, err
}

func (s *Store) AddOperation(ctx context.Context, op *types.Operation) error {
	return s.run(ctx, func(tx *Transaction) error { return tx.AddOperation(ctx, op) })
}

func (s *Store) GetOperations(ctx context.Context, chainID types.ChainID, limit, offset int) ([]*types.Operation, error) {
	var ops []*types.Operation
	err := s.run(ctx, func(tx *Transaction) error {
		var err error
		ops, err = tx.GetOperations(ctx, chainID, limit, offset)
		return err
	})
	return ops, err
}

// Transaction is a badger read-write transaction restricted to a set of
// access points. Badger gives it snapshot isolation; conflicting writes are
// detected at commit.
type Transaction struct {
	tx      *badger.Txn
	cdc     wire.Codec
	allowed map[provider.AccessPoint]bool
	done    bool
}

func (t *Transaction) check(ctx context.Context, point provider.AccessPoint) error {
	if t.done {
		return errorsmod.Wrap(types.ErrStorage, "transaction already finished")
	}
	if err := ctx.Err(); err != nil {
		return types.WrapKind(types.ErrStorage, err, "transaction aborted")
	}
	if !t.allowed[point] {
		return errorsmod.Wrapf(types.ErrPrecondition, "transaction did not declare access to %s", point)
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.done {
		return errorsmod.Wrap(types.ErrStorage, "transaction already finished")
	}
	t.done = true
	if err := ctx.Err(); err != nil {
		t.tx.Discard()
		return types.WrapKind(types.ErrStorage, err, "transaction aborted before commit")
	}
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return types.WrapKind(types.ErrStorage, err, "concurrent transaction touched the same records")
		}
		return types.WrapKind(types.ErrStorage, err, "committing transaction")
	}
	return nil
}

// Rollback discards every write. It is safe to call after Commit.
func (t *Transaction) Rollback() {
	if t.done {
		return
	}
	t.done = true
	t.tx.Discard()
}

func storageErr(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return types.WrapKind(types.ErrStorage, err, format, args...)
}

func chainStateKey(chainID types.ChainID) []byte {
	return makePrefix(codeChainState, string(chainID))
}

func (t *Transaction) AddChainState(ctx context.Context, state *types.ChainState) error {
	if err := t.check(ctx, provider.AccessChainStates); err != nil {
		return err
	}
	err := insert(chainStateKey(state.ID), state)(t.tx)
	if errors.Is(err, errAlreadyExists) {
		return errorsmod.Wrapf(types.ErrChainExists, "%s", state.ID)
	}
	return storageErr(err, "adding chain state %s", state.ID)
}

func (t *Transaction) GetChainState(ctx context.Context, chainID types.ChainID) (*types.ChainState, error) {
	if err := t.check(ctx, provider.AccessChainStates); err != nil {
		return nil, err
	}
	state := new(types.ChainState)
	err := retrieve(chainStateKey(chainID), state)(t.tx)
	if errors.Is(err, errNotFound) {
		return nil, errorsmod.Wrapf(types.ErrChainNotFound, "%s", chainID)
	}
	if err != nil {
		return nil, storageErr(err, "loading chain state %s", chainID)
	}
	return state, nil
}

// UpdateChainState replaces the state of an existing chain. Sequences and the
// handshake stage may only move forward.
func (t *Transaction) UpdateChainState(ctx context.Context, state *types.ChainState) error {
	current, err := t.GetChainState(ctx, state.ID)
	if err != nil {
		return err
	}
	if err := current.CheckAdvance(state); err != nil {
		return err
	}
	return storageErr(update(chainStateKey(state.ID), state)(t.tx), "updating chain state %s", state.ID)
}

func (t *Transaction) ListChainStates(ctx context.Context) ([]*types.ChainState, error) {
	if err := t.check(ctx, provider.AccessChainStates); err != nil {
		return nil, err
	}
	var states []*types.ChainState
	err := traverse(makePrefix(codeChainState), func() (createFunc, handleFunc) {
		state := new(types.ChainState)
		return func() interface{} { return state }, func() (bool, error) {
			states = append(states, state)
			return true, nil
		}
	})(t.tx)
	if err != nil {
		return nil, storageErr(err, "listing chain states")
	}
	return states, nil
}

// chainKeyRecord stores the public key in its Any encoding.
type chainKeyRecord struct {
	ID        uint64        `json:"id"`
	ChainID   types.ChainID `json:"chain_id"`
	PublicKey []byte        `json:"public_key"`
	CreatedAt int64         `json:"created_at"`
}

func (t *Transaction) AddChainKey(ctx context.Context, key *types.ChainKey) error {
	if err := t.check(ctx, provider.AccessChainKeys); err != nil {
		return err
	}
	if key.PublicKey == nil {
		return errorsmod.Wrap(types.ErrValidation, "chain key has no public key")
	}
	pk, err := t.cdc.Marshaler.MarshalInterface(key.PublicKey)
	if err != nil {
		return types.WrapKind(types.ErrSerialization, err, "encoding public key")
	}

	id, err := nextID(makePrefix(codeCounter, codeChainKey))(t.tx)
	if err != nil {
		return storageErr(err, "allocating chain key id")
	}
	rec := chainKeyRecord{ID: id, ChainID: key.ChainID, PublicKey: pk, CreatedAt: key.CreatedAt.UnixNano()}
	if err := insert(makePrefix(codeChainKey, string(key.ChainID), uint8(0), id), rec)(t.tx); err != nil {
		return storageErr(err, "adding chain key for %s", key.ChainID)
	}
	key.ID = id
	return nil
}

func (t *Transaction) GetChainKeys(ctx context.Context, chainID types.ChainID) ([]*types.ChainKey, error) {
	if err := t.check(ctx, provider.AccessChainKeys); err != nil {
		return nil, err
	}
	var recs []chainKeyRecord
	err := traverse(makePrefix(codeChainKey, string(chainID), uint8(0)), func() (createFunc, handleFunc) {
		var rec chainKeyRecord
		return func() interface{} { return &rec }, func() (bool, error) {
			recs = append(recs, rec)
			return true, nil
		}
	})(t.tx)
	if err != nil {
		return nil, storageErr(err, "listing chain keys of %s", chainID)
	}

	keys := make([]*types.ChainKey, 0, len(recs))
	for _, rec := range recs {
		var pk cryptotypes.PubKey
		if err := t.cdc.Marshaler.UnmarshalInterface(rec.PublicKey, &pk); err != nil {
			return nil, types.WrapKind(types.ErrSerialization, err, "decoding chain key %d", rec.ID)
		}
		keys = append(keys, &types.ChainKey{
			ID:        rec.ID,
			ChainID:   rec.ChainID,
			PublicKey: pk,
			CreatedAt: unixNano(rec.CreatedAt),
		})
	}
	return keys, nil
}

func (t *Transaction) AddOperation(ctx context.Context, op *types.Operation) error {
	if err := t.check(ctx, provider.AccessOperations); err != nil {
		return err
	}
	id, err := nextID(makePrefix(codeCounter, codeOperation))(t.tx)
	if err != nil {
		return storageErr(err, "allocating operation id")
	}
	op.ID = id
	if err := insert(makePrefix(codeOperation, string(op.ChainID), uint8(0), id), op)(t.tx); err != nil {
		return storageErr(err, "adding operation for %s", op.ChainID)
	}
	return nil
}

func (t *Transaction) GetOperations(ctx context.Context, chainID types.ChainID, limit, offset int) ([]*types.Operation, error) {
	if err := t.check(ctx, provider.AccessOperations); err != nil {
		return nil, err
	}
	if limit < 0 || offset < 0 {
		return nil, errorsmod.Wrap(types.ErrValidation, "limit and offset cannot be negative")
	}

	var (
		ops     []*types.Operation
		skipped int
	)
	err := traverse(makePrefix(codeOperation, string(chainID), uint8(0)), func() (createFunc, handleFunc) {
		op := new(types.Operation)
		return func() interface{} { return op }, func() (bool, error) {
			if skipped < offset {
				skipped++
				return true, nil
			}
			ops = append(ops, op)
			return limit == 0 || len(ops) < limit, nil
		}
	})(t.tx)
	if err != nil {
		return nil, storageErr(err, "listing operations of %s", chainID)
	}
	return ops, nil
}
