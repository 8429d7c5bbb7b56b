package node

import (
	"encoding/json"
	"os"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

// Wallet stores the coins a participant can spend.
// Coins stay in the wallet after being spent by someone else's view of the chain; the balance
// only counts coins whose serial number has not been revealed.
type Wallet struct {
	Name  string           `json:"name"`
	Coins []*zerocash.Coin `json:"coins"`
}

// NewWallet creates an empty wallet.
func NewWallet(name string) *Wallet {
	return &Wallet{Name: name, Coins: []*zerocash.Coin{}}
}

// LoadWallet loads a wallet from a JSON file.
func LoadWallet(path string) (*Wallet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var w Wallet
	if err := json.NewDecoder(f).Decode(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Save saves the wallet to a JSON file.
func (w *Wallet) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(w)
}

// Add appends a coin.
func (w *Wallet) Add(c *zerocash.Coin) {
	w.Coins = append(w.Coins, c)
}

// Remove drops the coin with commitment cm. It reports whether the coin was held.
func (w *Wallet) Remove(cm zerocash.Digest) bool {
	for i, c := range w.Coins {
		if c.Cm == cm {
			w.Coins = append(w.Coins[:i], w.Coins[i+1:]...)
			return true
		}
	}
	return false
}

// Spendable reports whether c is confirmed in l and not yet spent there.
func Spendable(l *zerocash.Ledger, c *zerocash.Coin) bool {
	return l.HasCommitment(c.Cm) && !l.HasSerialNumber(c.Sn)
}

// ConfirmedBalance counts the coins spendable against l.
func (w *Wallet) ConfirmedBalance(l *zerocash.Ledger) int {
	n := 0
	for _, c := range w.Coins {
		if Spendable(l, c) {
			n++
		}
	}
	return n
}

// Select returns the first amount coins spendable against l, in wallet order, or nil if the
// wallet holds fewer.
func (w *Wallet) Select(l *zerocash.Ledger, amount int) []*zerocash.Coin {
	selected := make([]*zerocash.Coin, 0, amount)
	for _, c := range w.Coins {
		if len(selected) == amount {
			break
		}
		if Spendable(l, c) {
			selected = append(selected, c)
		}
	}
	if len(selected) < amount {
		return nil
	}
	return selected
}
