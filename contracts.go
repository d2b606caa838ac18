package bitmask

import (
	"context"
	"errors"
	"sort"

	"github.com/davecgh/go-spew/spew"
	"github.com/diba-io/bitmask/account"
	"github.com/diba-io/bitmask/fn"
	"github.com/diba-io/bitmask/issuer"
	"github.com/diba-io/bitmask/rgb"
	"github.com/diba-io/bitmask/stash"
	"github.com/diba-io/bitmask/watcher"
)

// Media is a media item of a unique asset as given by the caller.
type Media struct {
	Type   string
	Source string
}

// IssueRequest holds the parameters of a new contract.
type IssueRequest struct {
	Ticker      string
	Name        string
	Description string
	Precision   uint8

	// Supply is a decimal amount with at most Precision fractional
	// digits.
	Supply string

	// Seal is the genesis seal literal, "tapret1st:<txid>:<vout>".
	Seal string

	Iface string
	Media []Media
}

// ContractDetail describes a contract through one of its interfaces.
type ContractDetail struct {
	ContractID  rgb.ContractID
	Iface       string
	Ticker      string
	Name        string
	Description string
	Precision   uint8

	// Supply is the issued supply in atomic units.
	Supply uint64

	// Balance is the unspent state owned by the user.
	Balance uint64

	// BalanceDecimal is Balance formatted with Precision.
	BalanceDecimal string

	// Allocations are the unspent revealed allocations. IsMine is only
	// set when the details were read through a watcher.
	Allocations []watcher.Allocation

	Media []rgb.MediaItem

	// Armored is the contract consignment in its armored form.
	Armored string
}

// IfaceDetail names an interface known to the stash.
type IfaceDetail struct {
	Name string
	ID   rgb.IfaceID
}

// SchemaDetail names a schema known to the stash.
type SchemaDetail struct {
	Name   string
	ID     rgb.SchemaID
	Ifaces []string
}

// detail reads a contract through an interface. When w is set the
// allocations are joined with its UTXO cache.
func detail(ctx context.Context, st *stash.Stash, id rgb.ContractID,
	iface string, w *watcher.Watcher) (*ContractDetail, error) {

	c, err := st.Contract(id)
	if err != nil {
		return nil, err
	}

	if iface == "" {
		ifaces := st.ContractIfaces(id)
		if len(ifaces) == 0 {
			return nil, rgb.ErrNoIface
		}
		iface = ifaces[0]
	}
	pair, err := st.IfacePair(id, iface)
	if err != nil {
		return nil, err
	}

	data, err := rgb.ReadContractData(&c.Genesis, pair)
	if err != nil {
		return nil, err
	}

	state, err := st.OwnedState(id)
	if err != nil {
		return nil, err
	}
	owned := fn.Filter(state, func(s stash.OwnedState) bool {
		return s.Seal != nil && s.Outpoint != nil && !s.Spent
	})

	var allocs []watcher.Allocation
	if w != nil {
		allocs, err = w.Allocations(ctx, owned)
		if err != nil {
			return nil, err
		}
	} else {
		allocs = fn.Map(owned, func(s stash.OwnedState) watcher.Allocation {
			return watcher.Allocation{
				Opout:    s.Opout,
				Outpoint: *s.Outpoint,
				Amount:   s.Amount,
			}
		})
	}

	balance := fn.Reduce(owned, func(sum uint64, s stash.OwnedState) uint64 {
		return sum + s.Amount
	})

	consig, err := st.Consign(id, nil)
	if err != nil {
		return nil, err
	}

	media := data.Media()
	media = append(media, c.Media...)

	d := &ContractDetail{
		ContractID:     id,
		Iface:          data.Iface,
		Ticker:         data.Spec.Ticker,
		Name:           data.Spec.Name,
		Description:    data.Spec.Details,
		Precision:      data.Spec.Precision,
		Supply:         data.IssuedSupply,
		Balance:        balance,
		BalanceDecimal: rgb.FromValue(balance, data.Spec.Precision).String(),
		Allocations:    allocs,
		Media:          dedupMedia(media),
		Armored:        consig.ToArmored(),
	}
	if data.Terms.Text != "" && d.Description == "" {
		d.Description = data.Terms.Text
	}

	return d, nil
}

func dedupMedia(media []rgb.MediaItem) []rgb.MediaItem {
	seen := fn.NewSet[[32]byte]()

	return fn.Filter(media, func(m rgb.MediaItem) bool {
		if seen.Contains(m.Digest) {
			return false
		}
		seen.Add(m.Digest)
		return true
	})
}

// IssueContract issues a new contract and stores it in the user's stash.
func (s *Server) IssueContract(ctx context.Context, sk string,
	req *IssueRequest) (*ContractDetail, error) {

	return run(ctx, s, "issue_contract", sk, true,
		func(ctx context.Context, sess *session) (*ContractDetail,
			error) {

			supply, err := rgb.FromDecimalString(
				req.Supply, req.Precision,
			)
			if err != nil {
				return nil, err
			}

			st, err := sess.loadStash(ctx)
			if err != nil {
				return nil, err
			}

			iss := issuer.NewIssuer(sess.net, sess.chain, sess.clock)
			contract, err := iss.Issue(ctx, st, &issuer.Request{
				Ticker:      req.Ticker,
				Name:        req.Name,
				Description: req.Description,
				Precision:   req.Precision,
				Supply:      supply.Value(),
				Seal:        req.Seal,
				Iface:       req.Iface,
				Media: fn.Map(req.Media, func(m Media) rgb.MediaItem {
					return rgb.NewMediaItem(m.Type, m.Source)
				}),
			})
			if err != nil {
				return nil, err
			}

			if err := sess.storeStash(ctx, st); err != nil {
				return nil, err
			}

			return detail(ctx, st, contract.ContractID(), req.Iface, nil)
		},
	)
}

// ImportContract imports a contract in armored, bech32m or hex form.
// Contracts failing validation are only imported with force.
func (s *Server) ImportContract(ctx context.Context, sk, data string,
	force bool) (*ContractDetail, error) {

	return run(ctx, s, "import_contract", sk, true,
		func(ctx context.Context, sess *session) (*ContractDetail,
			error) {

			consig, err := rgb.ParseConsignment(data)
			if err != nil {
				return nil, err
			}
			bmskLog.Tracef("Importing contract: %v", spew.Sdump(consig))

			st, err := sess.loadStash(ctx)
			if err != nil {
				return nil, err
			}

			_, err = st.ImportContract(
				ctx, consig, sess.chain, sess.net, force,
			)
			if err != nil {
				return nil, err
			}

			if err := sess.storeStash(ctx, st); err != nil {
				return nil, err
			}

			return detail(ctx, st, consig.ContractID(), "", nil)
		},
	)
}

// ListContracts returns every contract of the stash the user did not hide.
func (s *Server) ListContracts(ctx context.Context,
	sk string) ([]ContractDetail, error) {

	return run(ctx, s, "list_contracts", sk, false,
		func(ctx context.Context, sess *session) ([]ContractDetail,
			error) {

			st, err := sess.loadStash(ctx)
			if err != nil {
				return nil, err
			}
			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}

			contracts := []ContractDetail{}
			for _, id := range st.ContractIDs() {
				if acc.IsHidden(id) {
					continue
				}

				d, err := detail(ctx, st, id, "", nil)
				if err != nil {
					return nil, err
				}
				contracts = append(contracts, *d)
			}

			return contracts, nil
		},
	)
}

// HideContract removes a contract from ListContracts. It stays in the
// stash.
func (s *Server) HideContract(ctx context.Context, sk string,
	id rgb.ContractID) error {

	_, err := run(ctx, s, "hide_contract", sk, true,
		func(ctx context.Context, sess *session) (struct{}, error) {
			st, err := sess.loadStash(ctx)
			if err != nil {
				return struct{}{}, err
			}
			if _, err := st.Contract(id); err != nil {
				return struct{}{}, err
			}

			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return struct{}{}, err
			}
			if !acc.Hide(id) {
				return struct{}{}, nil
			}

			return struct{}{}, sess.storeAccount(ctx, acc)
		},
	)

	return err
}

// ListInterfaces returns the interfaces known to the stash.
func (s *Server) ListInterfaces(ctx context.Context,
	sk string) ([]IfaceDetail, error) {

	return run(ctx, s, "list_interfaces", sk, false,
		func(ctx context.Context, sess *session) ([]IfaceDetail, error) {
			st, err := sess.loadStash(ctx)
			if err != nil {
				return nil, err
			}

			ifaces := []IfaceDetail{}
			for id, iface := range st.Ifaces {
				ifaces = append(ifaces, IfaceDetail{
					Name: iface.Name,
					ID:   id,
				})
			}
			sort.Slice(ifaces, func(i, j int) bool {
				return ifaces[i].Name < ifaces[j].Name
			})

			return ifaces, nil
		},
	)
}

// ListSchemas returns the schemas known to the stash with the interfaces
// they are implemented for.
func (s *Server) ListSchemas(ctx context.Context,
	sk string) ([]SchemaDetail, error) {

	return run(ctx, s, "list_schemas", sk, false,
		func(ctx context.Context, sess *session) ([]SchemaDetail,
			error) {

			st, err := sess.loadStash(ctx)
			if err != nil {
				return nil, err
			}

			schemas := []SchemaDetail{}
			for id, schema := range st.Schemas {
				d := SchemaDetail{Name: schema.Name, ID: id}
				for _, impl := range st.Impls {
					if impl.Schema != id {
						continue
					}
					if iface, ok := st.Ifaces[impl.Iface]; ok {
						d.Ifaces = append(d.Ifaces, iface.Name)
					}
				}
				sort.Strings(d.Ifaces)
				schemas = append(schemas, d)
			}
			sort.Slice(schemas, func(i, j int) bool {
				return schemas[i].Name < schemas[j].Name
			})

			return schemas, nil
		},
	)
}

// ContractIface describes a contract through an interface. Allocations
// are joined with the default watcher when the user has one.
func (s *Server) ContractIface(ctx context.Context, sk string,
	id rgb.ContractID, iface string) (*ContractDetail, error) {

	return run(ctx, s, "contract_iface", sk, false,
		func(ctx context.Context, sess *session) (*ContractDetail,
			error) {

			st, err := sess.loadStash(ctx)
			if err != nil {
				return nil, err
			}
			acc, err := sess.loadAccount(ctx)
			if err != nil {
				return nil, err
			}

			w, err := sess.watcher(acc, DefaultWatcher)
			switch {
			case errors.Is(err, account.ErrNoWatcher):
				w = nil
			case err != nil:
				return nil, err
			}

			return detail(ctx, st, id, iface, w)
		},
	)
}
