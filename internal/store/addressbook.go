package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AddressGenerator requests a fresh deposit address from the payment
// processor.
type AddressGenerator interface {
	GenerateAddress(ctx context.Context, currency string) (string, error)
}

// AddressBook maps (user id, currency) to the user's deposit address, backed
// by wallets.json. A binding is created once per pair and reused forever.
// Concurrent allocations for the same never-seen pair coalesce onto a single
// generation call.
type AddressBook struct {
	mu       sync.Mutex
	path     string
	gen      AddressGenerator
	log      *slog.Logger
	wallets  map[string]map[string]string
	loadedAt time.Time
	inflight map[string]*allocation
}

type allocation struct {
	done    chan struct{}
	address string
	err     error
}

// NewAddressBook opens the address directory over the given file.
func NewAddressBook(path string, gen AddressGenerator, log *slog.Logger) *AddressBook {
	return &AddressBook{
		path:     path,
		gen:      gen,
		log:      log.With(slog.String("component", "addressbook")),
		inflight: make(map[string]*allocation),
	}
}

func (b *AddressBook) load() error {
	if b.wallets != nil && fresh(b.loadedAt) {
		return nil
	}
	m := map[string]map[string]string{}
	if err := readJSON(b.path, &m); err != nil {
		return err
	}
	b.wallets = m
	b.loadedAt = time.Now()
	return nil
}

func (b *AddressBook) flush() error {
	if err := writeJSON(b.path, b.wallets); err != nil {
		return err
	}
	b.loadedAt = time.Now()
	return nil
}

// Lookup returns the user's existing address for a currency.
func (b *AddressBook) Lookup(id, currency string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(); err != nil {
		return "", false, err
	}
	addr, ok := b.wallets[id][currency]
	return addr, ok, nil
}

// Resolve scans the directory for the user owning an address. A miss is not
// an error; callbacks for foreign addresses are a no-op upstream.
func (b *AddressBook) Resolve(address string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(); err != nil {
		return "", false, err
	}
	for id, byCurrency := range b.wallets {
		for _, addr := range byCurrency {
			if addr == address {
				return id, true, nil
			}
		}
	}
	return "", false, nil
}

// Allocate returns the user's deposit address for a currency, generating and
// persisting one on first use. If another allocation for the same pair is
// already in flight, the call waits on it instead of generating a second
// address.
func (b *AddressBook) Allocate(ctx context.Context, id, currency string) (string, error) {
	key := id + "|" + currency

	b.mu.Lock()
	if err := b.load(); err != nil {
		b.mu.Unlock()
		return "", err
	}
	if addr, ok := b.wallets[id][currency]; ok {
		b.mu.Unlock()
		return addr, nil
	}
	if pending, ok := b.inflight[key]; ok {
		b.mu.Unlock()
		select {
		case <-pending.done:
			return pending.address, pending.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	pending := &allocation{done: make(chan struct{})}
	b.inflight[key] = pending
	b.mu.Unlock()

	addr, err := b.gen.GenerateAddress(ctx, currency)

	b.mu.Lock()
	delete(b.inflight, key)
	if err == nil {
		if b.wallets[id] == nil {
			b.wallets[id] = make(map[string]string)
		}
		b.wallets[id][currency] = addr
		if ferr := b.flush(); ferr != nil {
			b.log.Error("persist address binding", "user", id, "currency", currency, "error", ferr)
			err = fmt.Errorf("persist address binding: %w", ferr)
		}
	}
	pending.address = addr
	pending.err = err
	close(pending.done)
	b.mu.Unlock()

	if err != nil {
		return "", err
	}
	b.log.Info("allocated deposit address", "user", id, "currency", currency)
	return addr, nil
}
