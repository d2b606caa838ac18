package marketplace

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/diba-io/bitmask/fn"
	"github.com/google/uuid"
)

// OpKind is the type of a board operation.
type OpKind uint8

const (
	OpAddOffer    OpKind = 0
	OpUpdateOffer OpKind = 1
	OpRemoveOffer OpKind = 2
	OpAddBid      OpKind = 3
)

func (k OpKind) String() string {
	switch k {
	case OpAddOffer:
		return "add_offer"
	case OpUpdateOffer:
		return "update_offer"
	case OpRemoveOffer:
		return "remove_offer"
	case OpAddBid:
		return "add_bid"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Op is one edit of the public board. Ops are immutable once appended.
type Op struct {
	ID uuid.UUID

	// Clock is the Lamport timestamp of the op: one more than the highest
	// clock the author had seen.
	Clock uint64

	// Actor is hex(pubkey) of the author.
	Actor string

	Kind   OpKind
	Target uuid.UUID

	// Status and TransferID are the fields set by an update.
	Status     Status
	TransferID string

	Offer *Offer
	Bid   *PublicBid
}

// before orders ops causally: by clock, ties broken by author then id.
func before(a, b *Op) bool {
	if a.Clock != b.Clock {
		return a.Clock < b.Clock
	}
	if a.Actor != b.Actor {
		return a.Actor < b.Actor
	}

	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// Log is the replicated document of the public board: the set of every op
// any client appended, kept in causal order. Merging two logs is their set
// union, so replicas converge whatever order they merge in.
type Log struct {
	Ops []Op
}

// normalize sorts the ops and drops duplicates.
func (l *Log) normalize() {
	sort.SliceStable(l.Ops, func(i, j int) bool {
		return before(&l.Ops[i], &l.Ops[j])
	})

	seen := fn.NewSet[uuid.UUID]()
	ops := l.Ops[:0]
	for _, op := range l.Ops {
		if seen.Contains(op.ID) {
			continue
		}
		seen.Add(op.ID)
		ops = append(ops, op)
	}
	l.Ops = ops
}

// Clock returns the highest clock in the log.
func (l *Log) Clock() uint64 {
	var c uint64
	for _, op := range l.Ops {
		c = max(c, op.Clock)
	}

	return c
}

// Append stamps ops as authored by actor after everything in the log and
// adds them. The stamped ops are returned.
func (l *Log) Append(actor string, ops ...Op) []Op {
	clock := l.Clock()
	for i := range ops {
		clock++
		ops[i].Clock = clock
		ops[i].Actor = actor
		if ops[i].ID == uuid.Nil {
			ops[i].ID = uuid.New()
		}
	}

	l.Ops = append(l.Ops, ops...)
	l.normalize()

	return ops
}

// Merge returns the union of two logs. It is commutative, associative and
// idempotent.
func Merge(a, b *Log) *Log {
	out := &Log{Ops: make([]Op, 0, len(a.Ops)+len(b.Ops))}
	out.Ops = append(out.Ops, a.Ops...)
	out.Ops = append(out.Ops, b.Ops...)
	out.normalize()

	return out
}

// MergeBytes merges two encoded logs, the merge function of the board
// object.
func MergeBytes(stored, local []byte) ([]byte, error) {
	a, err := DecodeLog(stored)
	if err != nil {
		return nil, fmt.Errorf("stored board: %w", err)
	}
	b, err := DecodeLog(local)
	if err != nil {
		return nil, fmt.Errorf("local board: %w", err)
	}

	return Merge(a, b).Bytes(), nil
}

// State is the board a log replays to.
type State struct {
	offers  map[uuid.UUID]*Offer
	bids    map[uuid.UUID][]PublicBid
	removed fn.Set[uuid.UUID]

	// order lists offer ids by first addition.
	order []uuid.UUID
}

// State replays the log. Removal is final: ops on a removed offer are
// ignored whatever their clock.
func (l *Log) State() *State {
	s := &State{
		offers:  make(map[uuid.UUID]*Offer),
		bids:    make(map[uuid.UUID][]PublicBid),
		removed: fn.NewSet[uuid.UUID](),
	}

	for i := range l.Ops {
		s.apply(&l.Ops[i])
	}

	return s
}

func (s *State) apply(op *Op) {
	if s.removed.Contains(op.Target) {
		return
	}

	switch op.Kind {
	case OpAddOffer:
		if op.Offer == nil {
			return
		}
		offer := *op.Offer
		offer.ID = op.Target
		if _, ok := s.offers[op.Target]; !ok {
			s.order = append(s.order, op.Target)
		}
		s.offers[op.Target] = &offer

	case OpUpdateOffer:
		offer, ok := s.offers[op.Target]
		if !ok {
			return
		}
		offer.Status = op.Status
		if op.TransferID != "" {
			offer.TransferID = op.TransferID
		}

	case OpRemoveOffer:
		s.removed.Add(op.Target)
		delete(s.offers, op.Target)
		delete(s.bids, op.Target)

	case OpAddBid:
		if op.Bid == nil {
			return
		}
		if _, ok := s.offers[op.Target]; !ok {
			return
		}
		bid := *op.Bid
		bid.OfferID = op.Target
		for i := range s.bids[op.Target] {
			if s.bids[op.Target][i].ID == bid.ID {
				s.bids[op.Target][i] = bid
				return
			}
		}
		s.bids[op.Target] = append(s.bids[op.Target], bid)

	default:
		log.Debugf("Skipping board op %v of unknown kind %v", op.ID,
			op.Kind)
	}
}

// Offer returns an offer on the board, open or not.
func (s *State) Offer(id uuid.UUID) (*Offer, bool) {
	offer, ok := s.offers[id]
	if !ok {
		return nil, false
	}
	cp := *offer

	return &cp, true
}

// Removed reports whether the offer was taken off the board.
func (s *State) Removed(id uuid.UUID) bool {
	return s.removed.Contains(id)
}

// Offers lists the offers on the board by first publication.
func (s *State) Offers() []Offer {
	out := make([]Offer, 0, len(s.order))
	for _, id := range s.order {
		if offer, ok := s.offers[id]; ok {
			out = append(out, *offer)
		}
	}

	return out
}

// OpenOffers lists the offers still open and not expired at now.
func (s *State) OpenOffers(now time.Time) []Offer {
	return fn.Filter(s.Offers(), func(o Offer) bool {
		return o.Status == StatusOpen && !o.Expired(now)
	})
}

// Bids lists the bids placed on an offer.
func (s *State) Bids(offer uuid.UUID) []PublicBid {
	return append([]PublicBid(nil), s.bids[offer]...)
}
