// Package node implements the chain participants: a Client that holds coins and follows the
// chain, and a Miner that additionally searches for proof-of-work and rewards itself.
//
// A participant is driven entirely by messages from its transport. Every handler runs to
// completion before the next one starts, so a participant's state is only ever touched by one
// message at a time.
package node

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/metrics"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/storage"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

var (
	ErrNoGenesis           = errors.New("participant has no genesis block")
	ErrForeignGenesis      = errors.New("genesis block does not match this chain")
	ErrInsufficientFunds   = errors.New("not enough confirmed coins")
	ErrMinerNotInitialized = errors.New("miner has no candidate block")
)

// Participant is the capability set shared by every role on the network.
type Participant interface {
	Name() string
	SetGenesisBlock(genesis *zerocash.Block) error
	ReceiveBlock(b *zerocash.Block) Receipt
	LastBlock() *zerocash.Block
	LastConfirmedBlock() *zerocash.Block
	ConfirmedBalance() int
}

// Outcome classifies what happened to a received block.
type Outcome int

const (
	Accepted Outcome = iota
	Orphaned
	Rejected
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return metrics.BlockAccepted
	case Orphaned:
		return metrics.BlockOrphaned
	case Rejected:
		return metrics.BlockRejected
	case Duplicate:
		return metrics.BlockDuplicate
	default:
		return "unknown"
	}
}

// Receipt reports the result of handing a block to a LedgerView.
type Receipt struct {
	Outcome Outcome
	Err     error

	// Missing is the parent hash an orphaned block is waiting on. RequestMissing is set the
	// first time that parent is found missing.
	Missing        zerocash.Digest
	RequestMissing bool

	// Connected lists every block stored by this call: the received block followed by any
	// orphans it unblocked, parents before children.
	Connected  []*zerocash.Block
	TipChanged bool
}

// Option configures a participant.
type Option func(*options)

type options struct {
	log        zerolog.Logger
	metrics    *metrics.Collector
	store      storage.BlockStore
	onAccept   func(*zerocash.Block)
	walletPath string
}

func defaultOptions() options {
	return options{log: zerolog.Nop()}
}

// WithLogger sets the logger. The participant name is added to every entry.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics records participant activity in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithStore persists accepted blocks in s and restores the chain from it on genesis.
func WithStore(s storage.BlockStore) Option {
	return func(o *options) { o.store = s }
}

// WithBlockHook calls fn for every block the participant stores, in acceptance order.
func WithBlockHook(fn func(*zerocash.Block)) Option {
	return func(o *options) { o.onAccept = fn }
}

// WithWalletFile loads the wallet from path if it exists and saves it there after every change.
func WithWalletFile(path string) Option {
	return func(o *options) { o.walletPath = path }
}
