package ledger

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/kfsoftware/drivenet/log"
	"github.com/kfsoftware/drivenet/store/wallet"
	"github.com/pkg/errors"
)

const (
	KindEvaluate = "evaluate"
	KindSubmit   = "submit"
)

// Contract invokes chaincode functions as one identity.
type Contract interface {
	Evaluate(fn string, args []string, transient map[string][]byte) ([]byte, error)
	Submit(fn string, args []string, transient map[string][]byte) ([]byte, error)
}

// Network is the boundary to the Fabric network: CA enrollment and channel access.
type Network interface {
	Enroll(userID string, secret string) (*wallet.Identity, error)
	HasIdentity(userID string) (bool, error)
	Connect(identity *wallet.Identity) (Contract, error)
	Height() (uint64, error)
}

// Observer is notified after every ledger transaction.
type Observer interface {
	ObserveTransaction(fn string, kind string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveTransaction(string, string, time.Duration, error) {}

type ProxyOpts struct {
	Wallet           wallet.Store
	Network          Network
	HashSalt         string
	SessionCacheSize int
	Observer         Observer
}

// Proxy maps application users onto ledger identities and forwards
// transactions to the chaincode.
type Proxy struct {
	wallet   wallet.Store
	network  Network
	hashSalt string
	observer Observer
	sessions *lru.Cache[string, Contract]
}

func NewProxy(opts ProxyOpts) (*Proxy, error) {
	if opts.Wallet == nil || opts.Network == nil {
		return nil, errors.New("wallet and network are required")
	}
	size := opts.SessionCacheSize
	if size <= 0 {
		size = 256
	}
	sessions, err := lru.New[string, Contract](size)
	if err != nil {
		return nil, err
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Proxy{
		wallet:   opts.Wallet,
		network:  opts.Network,
		hashSalt: opts.HashSalt,
		observer: observer,
		sessions: sessions,
	}, nil
}

// WalletKey derives the wallet key for a user and secret.
func WalletKey(user string, secret string, salt string) string {
	sum := sha512.Sum512([]byte(user + secret + salt))
	return hex.EncodeToString(sum[:])
}

// EnsureIdentity returns the wallet key for user/secret, enrolling the user at
// the CA first when the wallet does not hold the key yet or the signing
// identity behind it is no longer in the credential store.
func (p *Proxy) EnsureIdentity(ctx context.Context, user string, secret string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	walletKey := WalletKey(user, secret, p.hashSalt)
	exists, err := p.wallet.Exists(walletKey)
	if err != nil {
		return "", err
	}
	if exists {
		usable, err := p.network.HasIdentity(user)
		if err != nil {
			return "", err
		}
		if usable {
			return walletKey, nil
		}
		log.Infof("signing identity of %s is missing, enrolling again", user)
	}
	identity, err := p.network.Enroll(user, secret)
	if err != nil {
		return "", err
	}
	identity.Key = walletKey
	if err := p.wallet.Put(identity); err != nil {
		return "", errors.Wrapf(err, "failed to store identity for %s", user)
	}
	p.Forget(walletKey)
	log.Infof("enrolled %s (%s)", user, identity.MSPID)
	return walletKey, nil
}

func (p *Proxy) Evaluate(ctx context.Context, fn string, args []string, walletKey string) ([]byte, error) {
	return p.evaluate(ctx, fn, args, nil, walletKey)
}

func (p *Proxy) EvaluateWithTransient(ctx context.Context, fn string, args []string, transient map[string][]byte, walletKey string) ([]byte, error) {
	return p.evaluate(ctx, fn, args, transient, walletKey)
}

func (p *Proxy) Submit(ctx context.Context, fn string, args []string, walletKey string) error {
	return p.submit(ctx, fn, args, nil, walletKey)
}

func (p *Proxy) SubmitWithTransient(ctx context.Context, fn string, args []string, transient map[string][]byte, walletKey string) error {
	return p.submit(ctx, fn, args, transient, walletKey)
}

// Ready reports whether the channel can be queried.
func (p *Proxy) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	height, err := p.network.Height()
	if err != nil {
		return errors.Wrap(err, "ledger is not reachable")
	}
	log.Debugf("ledger height %d", height)
	return nil
}

// Forget drops the cached session for a wallet key.
func (p *Proxy) Forget(walletKey string) {
	p.sessions.Remove(walletKey)
}

func (p *Proxy) evaluate(ctx context.Context, fn string, args []string, transient map[string][]byte, walletKey string) ([]byte, error) {
	contract, err := p.contract(ctx, walletKey)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	payload, err := contract.Evaluate(fn, args, transient)
	p.observer.ObserveTransaction(fn, KindEvaluate, time.Since(start), err)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluate %s", fn)
	}
	return payload, nil
}

func (p *Proxy) submit(ctx context.Context, fn string, args []string, transient map[string][]byte, walletKey string) error {
	contract, err := p.contract(ctx, walletKey)
	if err != nil {
		return err
	}
	start := time.Now()
	_, err = contract.Submit(fn, args, transient)
	p.observer.ObserveTransaction(fn, KindSubmit, time.Since(start), err)
	return err
}

func (p *Proxy) contract(ctx context.Context, walletKey string) (Contract, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if contract, ok := p.sessions.Get(walletKey); ok {
		return contract, nil
	}
	identity, err := p.wallet.Get(walletKey)
	if errors.Is(err, wallet.ErrNotFound) {
		return nil, errors.Wrapf(ErrIdentityNotFound, "key %s", walletKey)
	}
	if err != nil {
		return nil, err
	}
	contract, err := p.network.Connect(identity)
	if err != nil {
		return nil, err
	}
	p.sessions.Add(walletKey, contract)
	return contract, nil
}
