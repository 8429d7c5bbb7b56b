package node

import (
	"time"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/p2p"
)

// Miner is a Client that also searches for proof-of-work and pays itself the coinbase of every
// block it seals.
//
// The search runs in bounded steps of miningRounds nonces. After each step the miner sends
// START_MINING to itself, so messages queued in the meantime are handled before the search
// resumes.
type Miner struct {
	*Client

	miningRounds int
	candidate    *zerocash.Block
	coinbase     []*zerocash.Coin // coins minted into candidate
	stopped      bool
}

// NewMiner creates a miner attached to net. Mining starts with Initialize, after the genesis
// block has been set.
func NewMiner(name string, net p2p.Transport, policy *zerocash.Policy, miningRounds int, opts ...Option) (*Miner, error) {
	c, err := newClient(name, net, policy, opts)
	if err != nil {
		return nil, err
	}
	if miningRounds < 1 {
		miningRounds = 1
	}
	m := &Miner{Client: c, miningRounds: miningRounds}
	m.registerHandlers()
	return m, nil
}

func (m *Miner) registerHandlers() {
	m.net.RegisterHandler(p2p.SendCoin, m.handleSendCoin)
	m.net.RegisterHandler(p2p.ProofFound, m.handleProofFound)
	m.net.RegisterHandler(p2p.MissingBlock, m.handleMissingBlock)
	m.net.RegisterHandler(p2p.PostTransaction, m.handlePostTransaction)
	m.net.RegisterHandler(p2p.StartMining, m.handleStartMining)
}

// Initialize builds the first candidate and schedules the first search step.
func (m *Miner) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.view == nil {
		return ErrNoGenesis
	}
	m.log.Info().Int("rounds", m.miningRounds).Msg("initializing")
	m.stopped = false
	m.startNewSearch(nil)
	return m.scheduleMining()
}

// Stop ends the search loop after the current step.
func (m *Miner) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

// CurrentBlock returns the candidate block being mined.
func (m *Miner) CurrentBlock() *zerocash.Block {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candidate
}

// StartNewSearch abandons the current candidate and starts a fresh one on the tip, re-admitting
// txs.
func (m *Miner) StartNewSearch(txs []*zerocash.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.view == nil {
		return ErrNoGenesis
	}
	m.startNewSearch(txs)
	return nil
}

func (m *Miner) startNewSearch(txs []*zerocash.Transaction) {
	tip := m.view.LastBlock()
	m.candidate = zerocash.NewBlock(tip, time.Now())
	m.coinbase = m.coinbase[:0]
	for i := 0; i < m.policy.CoinbaseAmount; i++ {
		coin := zerocash.NewCoin()
		if err := m.candidate.AddCoinbase(coin.Cm); err != nil {
			m.log.Error().Err(err).Msg("coinbase rejected by fresh candidate")
			break
		}
		m.wallet.Add(coin)
		m.coinbase = append(m.coinbase, coin)
	}
	m.saveWallet()
	for _, tx := range txs {
		m.addTransaction(tx)
	}
	m.log.Debug().Uint64("height", m.candidate.ChainLength()).Int("txs", m.candidate.NumTransactions()).Msg("starting new search")
}

// AddTransaction verifies tx against the candidate and, if valid, includes it.
func (m *Miner) AddTransaction(tx *zerocash.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candidate == nil {
		return ErrMinerNotInitialized
	}
	return m.addTransaction(tx)
}

func (m *Miner) addTransaction(tx *zerocash.Transaction) error {
	err := m.candidate.Admit(m.policy.Oracle, tx)
	m.metrics.TransactionResult(err)
	if err != nil {
		m.log.Debug().Err(err).Str("tx", tx.ID().Short()).Msg("transaction not admitted")
		return err
	}
	m.log.Debug().Str("tx", tx.ID().Short()).Uint64("height", m.candidate.ChainLength()).Msg("transaction verified, added to candidate")
	return nil
}

// FindProof tries up to miningRounds nonces on the candidate. When one satisfies the target the
// block is announced, accepted locally, and a new search starts on top of it.
func (m *Miner) FindProof() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findProof()
}

func (m *Miner) findProof() bool {
	if m.candidate == nil {
		return false
	}
	b := m.candidate
	for i := 0; i < m.miningRounds; i++ {
		if m.policy.HasValidProof(b) {
			m.metrics.HashAttempts(i + 1)
			m.sealCandidate()
			return true
		}
		b.IncrementProof()
	}
	m.metrics.HashAttempts(m.miningRounds)
	return false
}

func (m *Miner) sealCandidate() {
	b := m.candidate
	m.log.Info().Uint64("height", b.ChainLength()).Uint64("proof", b.Proof()).Int("txs", b.NumTransactions()).Str("block", b.ID().Short()).Msg("found proof")
	if err := m.broadcast(p2p.ProofFound, b); err != nil {
		m.log.Warn().Err(err).Msg("block announcement failed")
	}
	m.metrics.BlockMined()
	m.candidate = nil
	if r := m.receiveBlock(b); r.Outcome != Accepted {
		m.log.Error().Err(r.Err).Str("outcome", r.Outcome.String()).Msg("own block not accepted")
	}
	m.startNewSearch(nil)
}

// ReceiveBlock hands b to the ledger view and moves the search onto the new tip if b changed it.
func (m *Miner) ReceiveBlock(b *zerocash.Block) Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receiveAndResync(b)
}

func (m *Miner) receiveAndResync(b *zerocash.Block) Receipt {
	r := m.receiveBlock(b)
	if r.TipChanged && m.candidate != nil {
		m.cutOver()
	}
	return r
}

// cutOver abandons the candidate for the new tip. Transactions that were in the candidate or
// on the abandoned branch, and are not on the new chain, go into the next candidate.
func (m *Miner) cutOver() {
	tip := m.view.LastBlock()
	if m.candidate.PrevBlockHash() == tip.ID() {
		return
	}
	m.log.Info().Uint64("height", tip.ChainLength()).Str("tip", tip.ID().Short()).Msg("cutting over to new chain")
	txs, err := zerocash.SyncTransactions(m.view.Lookup(), m.candidate, tip)
	if err != nil {
		m.log.Warn().Err(err).Msg("could not resync transactions, dropping them")
		txs = nil
	}
	for _, coin := range m.coinbase {
		m.wallet.Remove(coin.Cm)
	}
	m.metrics.Reorg()
	m.startNewSearch(txs)
}

// ReceiveTransaction spends the received coin, broadcasts the spend and includes it in the
// miner's own candidate.
func (m *Miner) ReceiveTransaction(coin *zerocash.Coin) (*zerocash.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.receiveTransaction(coin)
	if err != nil {
		return nil, err
	}
	if m.candidate != nil {
		m.addTransaction(tx)
	}
	return tx, m.broadcast(p2p.PostTransaction, tx)
}

func (m *Miner) scheduleMining() error {
	msg, err := p2p.NewMessage(p2p.StartMining, m.net.ID(), nil)
	if err != nil {
		return err
	}
	return m.net.Send(m.net.ID(), msg)
}

func (m *Miner) handleStartMining(p2p.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.findProof()
	if err := m.scheduleMining(); err != nil {
		m.log.Error().Err(err).Msg("could not reschedule mining")
	}
}

func (m *Miner) handlePostTransaction(msg p2p.Message) {
	tx, err := zerocash.DeserializeTransaction(msg.Payload)
	if err != nil {
		m.log.Debug().Err(err).Str("sender", msg.SenderID).Msg("dropping transaction")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candidate == nil {
		return
	}
	m.addTransaction(tx)
}

func (m *Miner) handleProofFound(msg p2p.Message) {
	b, err := zerocash.DeserializeBlock(msg.Payload)
	if err != nil {
		m.log.Debug().Err(err).Str("sender", msg.SenderID).Msg("dropping block")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receiveAndResync(b)
}

func (m *Miner) handleSendCoin(msg p2p.Message) {
	coin, err := zerocash.DeserializeCoin(msg.Payload)
	if err != nil {
		m.log.Debug().Err(err).Str("sender", msg.SenderID).Msg("dropping coin")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, err := m.receiveTransaction(coin)
	if err != nil {
		m.log.Warn().Err(err).Str("sender", msg.SenderID).Msg("could not spend received coin")
		return
	}
	if m.candidate != nil {
		m.addTransaction(tx)
	}
	if err := m.broadcast(p2p.PostTransaction, tx); err != nil {
		m.log.Warn().Err(err).Msg("transaction broadcast failed")
	}
}
