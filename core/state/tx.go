package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"p2plend/core/types"
	"p2plend/crypto"
	"p2plend/native/escrow"
	"p2plend/native/lending"
	"p2plend/storage"
)

// Tx stages reads and writes against the database. Writes stay in memory until
// the owning Manager commits them as a single batch.
type Tx struct {
	db       storage.Database
	writes   map[string][]byte
	deleted  map[string]bool
	readOnly bool
}

var errReadOnly = errors.New("state: transaction is read-only")

func newTx(db storage.Database, readOnly bool) *Tx {
	return &Tx{
		db:       db,
		writes:   make(map[string][]byte),
		deleted:  make(map[string]bool),
		readOnly: readOnly,
	}
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if tx.deleted[k] {
		return nil, false, nil
	}
	if value, ok := tx.writes[k]; ok {
		return value, true, nil
	}
	value, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (tx *Tx) put(key []byte, value []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	k := string(key)
	delete(tx.deleted, k)
	tx.writes[k] = value
	return nil
}

func (tx *Tx) delete(key []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	k := string(key)
	delete(tx.writes, k)
	tx.deleted[k] = true
	return nil
}

func (tx *Tx) getRLP(key []byte, out interface{}) (bool, error) {
	data, ok, err := tx.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (tx *Tx) putRLP(key []byte, value interface{}) error {
	data, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return tx.put(key, data)
}

// iterate visits every live key under prefix in key order, merging staged
// writes over the committed data.
func (tx *Tx) iterate(prefix []byte, fn func(value []byte) error) error {
	merged := make(map[string][]byte)
	err := tx.db.Iterate(prefix, func(key, value []byte) bool {
		merged[string(key)] = value
		return true
	})
	if err != nil {
		return err
	}
	for k, v := range tx.writes {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}
	for k := range tx.deleted {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(merged[k]); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) batch() *storage.Batch {
	keys := make([]string, 0, len(tx.writes)+len(tx.deleted))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	for k := range tx.deleted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b := tx.db.NewBatch()
	for _, k := range keys {
		if tx.deleted[k] {
			b.Delete([]byte(k))
			continue
		}
		b.Put([]byte(k), tx.writes[k])
	}
	return b
}

// GetAccount returns the participant's holdings. Unknown participants hold
// nothing.
func (tx *Tx) GetAccount(addr crypto.Address) (*types.Account, error) {
	account := &types.Account{}
	if _, err := tx.getRLP(accountKey(addr), account); err != nil {
		return nil, err
	}
	return account, nil
}

// PutAccount stores the participant's holdings, pruning empty accounts.
func (tx *Tx) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil || len(account.Balances) == 0 {
		return tx.delete(accountKey(addr))
	}
	return tx.putRLP(accountKey(addr), account)
}

func (tx *Tx) VaultGet(addr crypto.Address) (*escrow.Vault, bool, error) {
	vault := &escrow.Vault{}
	ok, err := tx.getRLP(vaultKey(addr), vault)
	if err != nil || !ok {
		return nil, false, err
	}
	return vault, true, nil
}

func (tx *Tx) VaultPut(v *escrow.Vault) error {
	if v == nil {
		return fmt.Errorf("state: nil vault")
	}
	return tx.putRLP(vaultKey(v.Address), v)
}

func (tx *Tx) VaultDelete(addr crypto.Address) error { return tx.delete(vaultKey(addr)) }

func (tx *Tx) MarketGet() (*lending.MarketConfig, bool, error) {
	market := &lending.MarketConfig{}
	ok, err := tx.getRLP(marketKey, market)
	if err != nil || !ok {
		return nil, false, err
	}
	return market, true, nil
}

func (tx *Tx) MarketPut(market *lending.MarketConfig) error {
	if market == nil {
		return fmt.Errorf("state: nil market")
	}
	return tx.putRLP(marketKey, market)
}

func (tx *Tx) PairGet(addr crypto.Address) (*lending.AssetPairMarket, bool, error) {
	pair := &lending.AssetPairMarket{}
	ok, err := tx.getRLP(pairKey(addr), pair)
	if err != nil || !ok {
		return nil, false, err
	}
	return pair, true, nil
}

func (tx *Tx) PairPut(pair *lending.AssetPairMarket) error {
	if pair == nil {
		return fmt.Errorf("state: nil asset pair")
	}
	return tx.putRLP(pairKey(pair.Address), pair)
}

func (tx *Tx) OfferGet(addr crypto.Address) (*lending.LendingOffer, bool, error) {
	var stored storedOffer
	ok, err := tx.getRLP(offerKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toOffer(), true, nil
}

func (tx *Tx) OfferPut(offer *lending.LendingOffer) error {
	if offer == nil {
		return fmt.Errorf("state: nil offer")
	}
	return tx.putRLP(offerKey(offer.Address), newStoredOffer(offer))
}

func (tx *Tx) OfferDelete(addr crypto.Address) error { return tx.delete(offerKey(addr)) }

func (tx *Tx) LoanGet(addr crypto.Address) (*lending.Loan, bool, error) {
	var stored storedLoan
	ok, err := tx.getRLP(loanKey(addr), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toLoan(), true, nil
}

func (tx *Tx) LoanPut(loan *lending.Loan) error {
	if loan == nil {
		return fmt.Errorf("state: nil loan")
	}
	return tx.putRLP(loanKey(loan.Address), newStoredLoan(loan))
}

func (tx *Tx) LoanDelete(addr crypto.Address) error { return tx.delete(loanKey(addr)) }

// Pairs lists every registered asset pair.
func (tx *Tx) Pairs() ([]*lending.AssetPairMarket, error) {
	out := make([]*lending.AssetPairMarket, 0)
	err := tx.iterate(pairPrefix, func(value []byte) error {
		pair := &lending.AssetPairMarket{}
		if err := rlp.DecodeBytes(value, pair); err != nil {
			return err
		}
		out = append(out, pair)
		return nil
	})
	return out, err
}

// Offers lists stored offers, including consumed ones retained for history.
func (tx *Tx) Offers() ([]*lending.LendingOffer, error) {
	out := make([]*lending.LendingOffer, 0)
	err := tx.iterate(offerPrefix, func(value []byte) error {
		var stored storedOffer
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return err
		}
		out = append(out, stored.toOffer())
		return nil
	})
	return out, err
}

// Loans lists active loans.
func (tx *Tx) Loans() ([]*lending.Loan, error) {
	out := make([]*lending.Loan, 0)
	err := tx.iterate(loanPrefix, func(value []byte) error {
		var stored storedLoan
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return err
		}
		out = append(out, stored.toLoan())
		return nil
	})
	return out, err
}

var _ lending.State = (*Tx)(nil)
