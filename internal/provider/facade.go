package provider

import (
	"context"
	"fmt"

	"gitlab.com/yelinaung/finsync/internal/models"
)

// Facade merges all configured adapters into one provider-agnostic view.
// Reads fan out across adapters; writes dispatch to the owning adapter by
// provider tag. It never branches on provider beyond dispatch.
type Facade struct {
	adapters map[models.Provider]Adapter
}

// NewFacade builds a facade over the given adapters.
func NewFacade(adapters ...Adapter) *Facade {
	m := make(map[models.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Facade{adapters: m}
}

// Adapter returns the adapter owning the given provider tag.
func (f *Facade) Adapter(p models.Provider) (Adapter, error) {
	a, ok := f.adapters[p]
	if !ok {
		return nil, fmt.Errorf("no adapter configured for provider %q", p)
	}
	return a, nil
}

// Providers lists the configured provider tags.
func (f *Facade) Providers() []models.Provider {
	names := make([]models.Provider, 0, len(f.adapters))
	for p := range f.adapters {
		names = append(names, p)
	}
	return names
}

// ListConnections merges connections across every configured provider. An
// adapter failure fails the whole listing; partial merges would silently
// hide connections from the caller.
func (f *Facade) ListConnections(ctx context.Context) ([]models.Connection, error) {
	var all []models.Connection
	for _, a := range f.adapters {
		conns, err := a.ListConnections(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing %s connections: %w", a.Name(), err)
		}
		all = append(all, conns...)
	}
	return all, nil
}

// ListAccounts lists accounts under one connection via its owning adapter.
func (f *Facade) ListAccounts(ctx context.Context, p models.Provider, connectionExternalID string) ([]models.Account, error) {
	a, err := f.Adapter(p)
	if err != nil {
		return nil, err
	}
	return a.ListAccounts(ctx, connectionExternalID)
}

// ListTransactions lists transactions for one account via its owning adapter.
func (f *Facade) ListTransactions(ctx context.Context, p models.Provider, accountExternalID string, filter TransactionFilter) ([]models.RawTransaction, error) {
	a, err := f.Adapter(p)
	if err != nil {
		return nil, err
	}
	return a.ListTransactions(ctx, accountExternalID, filter)
}

// GetAccount fetches a single account for balance refresh.
func (f *Facade) GetAccount(ctx context.Context, p models.Provider, accountExternalID string) (*models.Account, error) {
	a, err := f.Adapter(p)
	if err != nil {
		return nil, err
	}
	return a.GetAccount(ctx, accountExternalID)
}

// TriggerRefresh routes a refresh request to the owning adapter.
func (f *Facade) TriggerRefresh(ctx context.Context, p models.Provider, connectionExternalID string) error {
	a, err := f.Adapter(p)
	if err != nil {
		return err
	}
	return a.TriggerRefresh(ctx, connectionExternalID)
}

// PollStatus fetches the current connection status from the owning adapter.
func (f *Facade) PollStatus(ctx context.Context, p models.Provider, connectionExternalID string) (models.ConnectionStatus, error) {
	a, err := f.Adapter(p)
	if err != nil {
		return "", err
	}
	return a.PollStatus(ctx, connectionExternalID)
}

// Disconnect removes a connection at the owning provider.
func (f *Facade) Disconnect(ctx context.Context, p models.Provider, connectionExternalID string) error {
	a, err := f.Adapter(p)
	if err != nil {
		return err
	}
	return a.Disconnect(ctx, connectionExternalID)
}
