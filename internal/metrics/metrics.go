// Package metrics exposes node activity as Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

const namespace = "zkchain"

// Block receipt outcomes.
const (
	BlockAccepted  = "accepted"
	BlockOrphaned  = "orphaned"
	BlockRejected  = "rejected"
	BlockDuplicate = "duplicate"
)

// Collector manages the collectors shared by every participant in the process.
// Each series is labelled with the participant name.
type Collector struct {
	blocks       *prometheus.CounterVec
	transactions *prometheus.CounterVec
	reorgs       *prometheus.CounterVec
	mined        *prometheus.CounterVec
	hashes       *prometheus.CounterVec
	proofTime    *prometheus.HistogramVec
	height       *prometheus.GaugeVec
	orphans      *prometheus.GaugeVec
	balance      *prometheus.GaugeVec
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_received_total",
			Help: "Blocks received, by outcome.",
		}, []string{"participant", "status"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transactions_total",
			Help: "Transactions offered to a candidate block, by admission result.",
		}, []string{"participant", "result"}),
		reorgs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reorgs_total",
			Help: "Times a miner abandoned its candidate for a longer chain.",
		}, []string{"participant"}),
		mined: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_mined_total",
			Help: "Blocks sealed by this miner.",
		}, []string{"participant"}),
		hashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "hash_attempts_total",
			Help: "Proof-of-work nonces tried.",
		}, []string{"participant"}),
		proofTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "proof_generation_seconds",
			Help:    "Time spent building spend proofs.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
		}, []string{"participant"}),
		height: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "chain_height",
			Help: "Chain length of the adopted tip.",
		}, []string{"participant"}),
		orphans: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "orphan_blocks",
			Help: "Blocks waiting on a missing parent.",
		}, []string{"participant"}),
		balance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "confirmed_balance",
			Help: "Coins spendable against the confirmed block.",
		}, []string{"participant"}),
	}
	if reg != nil {
		reg.MustRegister(c.blocks, c.transactions, c.reorgs, c.mined, c.hashes, c.proofTime, c.height, c.orphans, c.balance)
	}
	return c
}

// For returns the view of the collectors for one participant.
func (c *Collector) For(participant string) *Participant {
	if c == nil {
		return nil
	}
	return &Participant{c: c, name: participant}
}

// Participant records metrics for one participant. A nil *Participant records nothing.
type Participant struct {
	c    *Collector
	name string
}

func (p *Participant) BlockReceived(status string) {
	if p == nil {
		return
	}
	p.c.blocks.WithLabelValues(p.name, status).Inc()
}

// TransactionResult counts an admission attempt; err == nil means admitted.
func (p *Participant) TransactionResult(err error) {
	if p == nil {
		return
	}
	p.c.transactions.WithLabelValues(p.name, RejectionReason(err)).Inc()
}

func (p *Participant) Reorg() {
	if p == nil {
		return
	}
	p.c.reorgs.WithLabelValues(p.name).Inc()
}

func (p *Participant) BlockMined() {
	if p == nil {
		return
	}
	p.c.mined.WithLabelValues(p.name).Inc()
}

func (p *Participant) HashAttempts(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.c.hashes.WithLabelValues(p.name).Add(float64(n))
}

func (p *Participant) ProofGenerated(d time.Duration) {
	if p == nil {
		return
	}
	p.c.proofTime.WithLabelValues(p.name).Observe(d.Seconds())
}

func (p *Participant) ChainHeight(h uint64) {
	if p == nil {
		return
	}
	p.c.height.WithLabelValues(p.name).Set(float64(h))
}

func (p *Participant) Orphans(n int) {
	if p == nil {
		return
	}
	p.c.orphans.WithLabelValues(p.name).Set(float64(n))
}

func (p *Participant) ConfirmedBalance(n int) {
	if p == nil {
		return
	}
	p.c.balance.WithLabelValues(p.name).Set(float64(n))
}

// RejectionReason maps an admission error to a low-cardinality label.
func RejectionReason(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, zerocash.ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, zerocash.ErrMalformedSignals):
		return "malformed_signals"
	case errors.Is(err, zerocash.ErrUnknownCommitment):
		return "unknown_commitment"
	case errors.Is(err, zerocash.ErrDoubleSpend):
		return "double_spend"
	case errors.Is(err, zerocash.ErrDuplicateTransaction):
		return "duplicate"
	default:
		return "other"
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
