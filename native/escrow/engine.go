package escrow

import (
	"errors"
	"fmt"
	"math/bits"

	"p2plend/core/events"
	"p2plend/core/types"
	"p2plend/crypto"
)

var (
	ErrNilState          = errors.New("escrow engine: state not configured")
	ErrVaultExists       = errors.New("escrow engine: vault already exists")
	ErrVaultNotFound     = errors.New("escrow engine: vault not found")
	ErrVaultAuthority    = errors.New("escrow engine: caller does not control vault")
	ErrInsufficientFunds = errors.New("escrow engine: insufficient funds")
	ErrBalanceOverflow   = errors.New("escrow engine: balance overflow")
	ErrInvalidRole       = errors.New("escrow engine: invalid vault role")
)

// State is the persistence surface the custody engine needs.
type State interface {
	VaultGet(addr crypto.Address) (*Vault, bool, error)
	VaultPut(v *Vault) error
	VaultDelete(addr crypto.Address) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

type vaultEvent struct {
	evt *types.Event
}

func (e vaultEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vaultEvent) Event() *types.Event { return e.evt }

// Engine moves value between participant accounts and vaults. It never
// decides who may use a vault beyond checking the owner presented by the
// calling module.
type Engine struct {
	state   State
	emitter events.Emitter
}

// NewEngine creates a custody engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(vaultEvent{evt: event})
}

func (e *Engine) loadVault(addr crypto.Address) (*Vault, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	vault, ok, err := e.state.VaultGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || vault == nil {
		return nil, ErrVaultNotFound
	}
	return vault, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	return acc, nil
}

// Vault returns a copy of the vault stored at addr.
func (e *Engine) Vault(addr crypto.Address) (*Vault, error) {
	vault, err := e.loadVault(addr)
	if err != nil {
		return nil, err
	}
	return vault.Clone(), nil
}

// Open allocates an empty vault for owner under role.
func (e *Engine) Open(owner crypto.Address, role Role, asset string) (*Vault, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	addr := VaultAddress(owner, role)
	if _, ok, err := e.state.VaultGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultExists, addr)
	}
	vault := &Vault{Address: addr, Owner: owner, Role: role, Asset: normalized}
	if err := e.state.VaultPut(vault); err != nil {
		return nil, err
	}
	e.emit(NewOpenedEvent(vault))
	return vault.Clone(), nil
}

// Deposit moves amount of the vault's asset from the participant account into
// the vault.
func (e *Engine) Deposit(vaultAddr, from crypto.Address, amount uint64) error {
	vault, err := e.loadVault(vaultAddr)
	if err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	acc, err := e.loadAccount(from)
	if err != nil {
		return err
	}
	if !acc.Debit(vault.Asset, amount) {
		return fmt.Errorf("%w: %s holds %d %s, needs %d", ErrInsufficientFunds, from, acc.BalanceOf(vault.Asset), vault.Asset, amount)
	}
	sum, carry := bits.Add64(vault.Balance, amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	vault.Balance = sum
	if err := e.state.PutAccount(from, acc); err != nil {
		return err
	}
	if err := e.state.VaultPut(vault); err != nil {
		return err
	}
	e.emit(NewDepositedEvent(vault, from, amount))
	return nil
}

// Release transfers amount out of the vault to a participant account. The
// authority must be the vault's owning record.
func (e *Engine) Release(vaultAddr, authority, to crypto.Address, amount uint64) error {
	vault, err := e.loadVault(vaultAddr)
	if err != nil {
		return err
	}
	if vault.Owner != authority {
		return ErrVaultAuthority
	}
	if amount == 0 {
		return nil
	}
	if vault.Balance < amount {
		return fmt.Errorf("%w: vault %s holds %d, needs %d", ErrInsufficientFunds, vault.Address, vault.Balance, amount)
	}
	acc, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	if !acc.Credit(vault.Asset, amount) {
		return ErrBalanceOverflow
	}
	vault.Balance -= amount
	if err := e.state.PutAccount(to, acc); err != nil {
		return err
	}
	if err := e.state.VaultPut(vault); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(vault, to, amount))
	return nil
}

// Close releases any residual balance to refundTo and deallocates the vault.
// The refunded amount is returned.
func (e *Engine) Close(vaultAddr, authority, refundTo crypto.Address) (uint64, error) {
	vault, err := e.loadVault(vaultAddr)
	if err != nil {
		return 0, err
	}
	if vault.Owner != authority {
		return 0, ErrVaultAuthority
	}
	residual := vault.Balance
	if residual > 0 {
		if err := e.Release(vaultAddr, authority, refundTo, residual); err != nil {
			return 0, err
		}
	}
	if err := e.state.VaultDelete(vaultAddr); err != nil {
		return 0, err
	}
	vault.Balance = 0
	e.emit(NewClosedEvent(vault, refundTo, residual))
	return residual, nil
}

// Transfer moves amount of asset directly between two participant accounts.
func (e *Engine) Transfer(from, to crypto.Address, asset string, amount uint64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount == 0 || from == to {
		return nil
	}
	src, err := e.loadAccount(from)
	if err != nil {
		return err
	}
	if !src.Debit(normalized, amount) {
		return fmt.Errorf("%w: %s holds %d %s, needs %d", ErrInsufficientFunds, from, src.BalanceOf(normalized), normalized, amount)
	}
	dst, err := e.loadAccount(to)
	if err != nil {
		return err
	}
	if !dst.Credit(normalized, amount) {
		return ErrBalanceOverflow
	}
	if err := e.state.PutAccount(from, src); err != nil {
		return err
	}
	return e.state.PutAccount(to, dst)
}

// Balance returns the participant's holdings of asset.
func (e *Engine) Balance(addr crypto.Address, asset string) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return 0, err
	}
	acc, err := e.loadAccount(addr)
	if err != nil {
		return 0, err
	}
	return acc.BalanceOf(normalized), nil
}
