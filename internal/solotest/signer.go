package solotest

import (
	"context"
	"sync"

	"github.com/cosmos/cosmos-sdk/crypto/keys/secp256k1"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/cosmos/solo-machine/solomachine/provider"
	"github.com/cosmos/solo-machine/solomachine/signer"
	"github.com/cosmos/solo-machine/solomachine/types"
)

// TestMnemonic is the well known all-abandon test mnemonic.
const TestMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var _ provider.Signer = (*Signer)(nil)

// Signer is a key signer whose next signatures can be made to fail.
type Signer struct {
	*signer.MnemonicSigner

	mu     sync.Mutex
	faults []error
	signed int
}

// NewSigner returns a signer over a random secp256k1 key.
func NewSigner() *Signer {
	return &Signer{MnemonicSigner: signer.NewKeySigner(secp256k1.GenPrivKey(), sdk.Bech32MainPrefix)}
}

// NewMnemonicSigner returns a signer over the key TestMnemonic derives.
func NewMnemonicSigner() (*Signer, error) {
	s, err := signer.NewMnemonicSigner(TestMnemonic, signer.DefaultHDPath, sdk.Bech32MainPrefix)
	if err != nil {
		return nil, err
	}
	return &Signer{MnemonicSigner: s}, nil
}

// FailNextSign makes the next call to Sign return err.
func (s *Signer) FailNextSign(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, err)
}

// Signed counts successful signatures.
func (s *Signer) Signed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signed
}

func (s *Signer) Sign(ctx context.Context, requestID string, chainID types.ChainID, msg []byte) ([]byte, error) {
	s.mu.Lock()
	if len(s.faults) > 0 {
		err := s.faults[0]
		s.faults = s.faults[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	sig, err := s.MnemonicSigner.Sign(ctx, requestID, chainID, msg)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.signed++
	s.mu.Unlock()
	return sig, nil
}

// Address returns the account address of the signer on chainID.
func (s *Signer) Address(chainID types.ChainID) string {
	addr, err := s.AccountAddress(context.Background(), chainID)
	if err != nil {
		panic(err)
	}
	return addr
}

// Recorder is an EventHandler keeping every event it sees.
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
	err    error
}

var _ provider.EventHandler = (*Recorder)(nil)

func (r *Recorder) HandleEvent(_ context.Context, event types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

// FailWith makes the handler return err after recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Events returns the recorded events in emission order.
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

// Types returns the types of the recorded events in emission order.
func (r *Recorder) Types() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// Last returns the most recent event of typ.
func (r *Recorder) Last(typ types.EventType) (types.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return types.Event{}, false
}
