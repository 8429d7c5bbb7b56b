package node

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/metrics"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/p2p"
)

// Client holds coins, follows the chain and spends coins it receives into fresh ones.
type Client struct {
	mu sync.Mutex

	name    string
	net     p2p.Transport
	policy  *zerocash.Policy
	wallet  *Wallet
	view    *LedgerView
	opts    options
	log     zerolog.Logger
	metrics *metrics.Participant
}

// NewClient creates a client attached to net. The client has no chain until SetGenesisBlock.
func NewClient(name string, net p2p.Transport, policy *zerocash.Policy, opts ...Option) (*Client, error) {
	c, err := newClient(name, net, policy, opts)
	if err != nil {
		return nil, err
	}
	c.registerHandlers()
	return c, nil
}

func newClient(name string, net p2p.Transport, policy *zerocash.Policy, opts []Option) (*Client, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Client{
		name:    name,
		net:     net,
		policy:  policy,
		wallet:  NewWallet(name),
		opts:    o,
		log:     o.log.With().Str("participant", name).Logger(),
		metrics: o.metrics.For(name),
	}
	if o.walletPath != "" {
		w, err := LoadWallet(o.walletPath)
		switch {
		case err == nil:
			c.wallet = w
			c.log.Info().Int("coins", len(w.Coins)).Str("path", o.walletPath).Msg("loaded wallet")
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("load wallet: %w", err)
		}
	}
	return c, nil
}

func (c *Client) registerHandlers() {
	c.net.RegisterHandler(p2p.SendCoin, c.handleSendCoin)
	c.net.RegisterHandler(p2p.ProofFound, c.handleProofFound)
	c.net.RegisterHandler(p2p.MissingBlock, c.handleMissingBlock)
}

func (c *Client) Name() string { return c.name }

// Address is the transport id other participants send coins to.
func (c *Client) Address() string { return c.net.ID() }

// SetGenesisBlock gives the client its own copy of genesis. When a block store is configured
// and already holds this chain, the stored blocks are restored on top of it.
func (c *Client) SetGenesisBlock(genesis *zerocash.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setGenesisBlock(genesis)
}

func (c *Client) setGenesisBlock(genesis *zerocash.Block) error {
	data, err := genesis.Serialize()
	if err != nil {
		return err
	}
	g, err := zerocash.DeserializeBlock(data)
	if err != nil {
		return err
	}
	if s := c.opts.store; s != nil {
		if _, ok, err := s.Tip(); err != nil {
			return err
		} else if ok {
			v, err := RestoreLedgerView(c.policy, g, s, c.log, c.metrics)
			if err != nil {
				return err
			}
			c.view = v
			c.refreshBalance()
			return nil
		}
	}
	v, err := NewLedgerView(c.policy, g, c.opts.store, c.log, c.metrics)
	if err != nil {
		return err
	}
	c.view = v
	c.refreshBalance()
	return nil
}

// CreateInitialCoins mints amount coins into the wallet and returns their commitments, for the
// genesis allocation.
func (c *Client) CreateInitialCoins(amount int) []zerocash.Digest {
	c.mu.Lock()
	defer c.mu.Unlock()
	cms := make([]zerocash.Digest, 0, amount)
	for i := 0; i < amount; i++ {
		coin := zerocash.NewCoin()
		c.wallet.Add(coin)
		cms = append(cms, coin.Cm)
	}
	c.saveWallet()
	return cms
}

// Coins returns a copy of the wallet's coins.
func (c *Client) Coins() []*zerocash.Coin {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*zerocash.Coin, len(c.wallet.Coins))
	copy(out, c.wallet.Coins)
	return out
}

// ConfirmedBalance counts the coins whose commitment is in the last confirmed block's cmlist
// and whose serial number is not in its snlist.
func (c *Client) ConfirmedBalance() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmedBalance()
}

func (c *Client) confirmedBalance() int {
	if c.view == nil {
		return 0
	}
	return c.wallet.ConfirmedBalance(c.view.LastConfirmedBlock().Ledger())
}

func (c *Client) refreshBalance() {
	c.metrics.ConfirmedBalance(c.confirmedBalance())
}

func (c *Client) LastBlock() *zerocash.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return nil
	}
	return c.view.LastBlock()
}

func (c *Client) LastConfirmedBlock() *zerocash.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return nil
	}
	return c.view.LastConfirmedBlock()
}

// ConfirmedLedger returns the ledger snapshot of the last confirmed block.
func (c *Client) ConfirmedLedger() (*zerocash.Ledger, error) {
	b := c.LastConfirmedBlock()
	if b == nil {
		return nil, ErrNoGenesis
	}
	return b.Ledger(), nil
}

// Block returns a block the client has accepted.
func (c *Client) Block(id zerocash.Digest) (*zerocash.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return nil, false
	}
	return c.view.Block(id)
}

// PostTransaction sends amount confirmed coins to the participant at address. If fewer than
// amount coins are spendable nothing is sent.
func (c *Client) PostTransaction(address string, amount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return ErrNoGenesis
	}
	if amount < 1 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	coins := c.wallet.Select(c.view.LastConfirmedBlock().Ledger(), amount)
	if coins == nil {
		return fmt.Errorf("%w: want %d, have %d", ErrInsufficientFunds, amount, c.confirmedBalance())
	}
	defer c.refreshBalance()
	defer c.saveWallet()
	for _, coin := range coins {
		msg, err := p2p.NewMessage(p2p.SendCoin, c.net.ID(), coin)
		if err != nil {
			return err
		}
		if err := c.net.Send(address, msg); err != nil {
			return fmt.Errorf("send coin %s to %s: %w", coin.Cm.Short(), address, err)
		}
		c.wallet.Remove(coin.Cm)
		c.log.Info().Str("to", address).Str("cm", coin.Cm.Short()).Msg("sent coin")
	}
	return nil
}

// ReceiveTransaction spends a coin handed over by its previous owner into a fresh coin held by
// this client, and broadcasts the spend.
func (c *Client) ReceiveTransaction(coin *zerocash.Coin) (*zerocash.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.receiveTransaction(coin)
	if err != nil {
		return nil, err
	}
	if err := c.broadcast(p2p.PostTransaction, tx); err != nil {
		return tx, err
	}
	return tx, nil
}

// receiveTransaction builds the spend proof and keeps the new coin. The spent commitment is
// placed at a random position next to a decoy drawn from the confirmed cmlist.
func (c *Client) receiveTransaction(coin *zerocash.Coin) (*zerocash.Transaction, error) {
	if c.view == nil {
		return nil, ErrNoGenesis
	}
	decoy, err := pickDecoy(c.view.LastConfirmedBlock().Ledger(), coin.Cm)
	if err != nil {
		return nil, err
	}
	index, err := randomInt(2)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	proof, err := c.policy.Oracle.Prove(zerocash.NewSpendWitness(coin, decoy, index))
	if err != nil {
		return nil, err
	}
	c.metrics.ProofGenerated(time.Since(start))

	fresh := zerocash.NewCoin()
	c.wallet.Add(fresh)
	c.saveWallet()
	tx := zerocash.NewTransaction(proof, fresh.Cm)
	c.log.Info().Str("tx", tx.ID().Short()).Str("cm", fresh.Cm.Short()).Dur("prove", time.Since(start)).Msg("spent received coin")
	return tx, nil
}

func pickDecoy(l *zerocash.Ledger, spent zerocash.Digest) (zerocash.Digest, error) {
	candidates := make([]zerocash.Digest, 0, l.NumCommitments())
	for _, cm := range l.Commitments() {
		if cm != spent {
			candidates = append(candidates, cm)
		}
	}
	if len(candidates) == 0 {
		return zerocash.Digest{}, zerocash.ErrNoDecoyCommitment
	}
	i, err := randomInt(len(candidates))
	if err != nil {
		return zerocash.Digest{}, err
	}
	return candidates[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// ReceiveBlock hands b to the ledger view.
func (c *Client) ReceiveBlock(b *zerocash.Block) Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receiveBlock(b)
}

func (c *Client) receiveBlock(b *zerocash.Block) Receipt {
	if c.view == nil {
		return Receipt{Outcome: Rejected, Err: ErrNoGenesis}
	}
	r := c.view.Receive(b)
	c.metrics.BlockReceived(r.Outcome.String())
	switch r.Outcome {
	case Rejected:
		c.log.Info().Err(r.Err).Str("block", b.ID().Short()).Msg("rejected block")
	case Orphaned:
		if r.RequestMissing {
			c.requestMissingBlock(r.Missing)
		}
	case Accepted:
		for _, accepted := range r.Connected {
			if c.opts.onAccept != nil {
				c.opts.onAccept(accepted)
			}
		}
		if r.TipChanged {
			c.refreshBalance()
		}
	}
	return r
}

func (c *Client) requestMissingBlock(missing zerocash.Digest) {
	c.log.Debug().Str("missing", missing.Short()).Msg("requesting missing block")
	payload := p2p.MissingBlockPayload{From: c.net.ID(), Missing: missing}
	if err := c.broadcast(p2p.MissingBlock, payload); err != nil {
		c.log.Warn().Err(err).Msg("missing block request failed")
	}
}

func (c *Client) broadcast(messageType string, payload any) error {
	msg, err := p2p.NewMessage(messageType, c.net.ID(), payload)
	if err != nil {
		return err
	}
	return c.net.Broadcast(msg)
}

func (c *Client) saveWallet() {
	if c.opts.walletPath == "" {
		return
	}
	if err := c.wallet.Save(c.opts.walletPath); err != nil {
		c.log.Error().Err(err).Str("path", c.opts.walletPath).Msg("failed to save wallet")
	}
}

func (c *Client) handleSendCoin(msg p2p.Message) {
	coin, err := zerocash.DeserializeCoin(msg.Payload)
	if err != nil {
		c.log.Debug().Err(err).Str("sender", msg.SenderID).Msg("dropping coin")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, err := c.receiveTransaction(coin)
	if err != nil {
		c.log.Warn().Err(err).Str("sender", msg.SenderID).Msg("could not spend received coin")
		return
	}
	if err := c.broadcast(p2p.PostTransaction, tx); err != nil {
		c.log.Warn().Err(err).Msg("transaction broadcast failed")
	}
}

func (c *Client) handleProofFound(msg p2p.Message) {
	b, err := zerocash.DeserializeBlock(msg.Payload)
	if err != nil {
		c.log.Debug().Err(err).Str("sender", msg.SenderID).Msg("dropping block")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiveBlock(b)
}

func (c *Client) handleMissingBlock(msg p2p.Message) {
	var req p2p.MissingBlockPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		c.log.Debug().Err(err).Msg("dropping missing block request")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view == nil {
		return
	}
	b, ok := c.view.Block(req.Missing)
	if !ok {
		return
	}
	reply, err := p2p.NewMessage(p2p.ProofFound, c.net.ID(), b)
	if err != nil {
		c.log.Error().Err(err).Msg("encode block")
		return
	}
	if err := c.net.Send(req.From, reply); err != nil {
		c.log.Debug().Err(err).Str("to", req.From).Msg("missing block reply failed")
	}
}
