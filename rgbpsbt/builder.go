// Package rgbpsbt builds the host PSBTs RGB transfers are committed into.
package rgbpsbt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/davecgh/go-spew/spew"
	"github.com/diba-io/bitmask/chain"
	"github.com/diba-io/bitmask/commitment"
	"github.com/diba-io/bitmask/keys"
	"github.com/diba-io/bitmask/network"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

const (
	// DustLimit is the smallest output value accepted without AllowDust.
	DustLimit uint64 = 546

	// hostVBytes scales the host output value with the fee rate.
	hostVBytes = 182

	// minScaledRate is the fee rate from which the host output value
	// scales, 3 sat/vB.
	minScaledRate chainfee.SatPerKVByte = 3000

	// p2trScriptSize is the size of a P2TR output script.
	p2trScriptSize = 34

	// rbfSequence signals replaceability on every input.
	rbfSequence = wire.MaxTxInSequenceNum - 2
)

var (
	// ErrNoInputs is returned for requests without inputs.
	ErrNoInputs = errors.New("rgbpsbt: no inputs")

	// ErrInvalidFee is returned when neither a fee nor a fee rate is set.
	ErrInvalidFee = errors.New("rgbpsbt: no fee or fee rate given")

	// ErrInsufficientFunds is returned when the inputs cannot pay for the
	// outputs and the fee.
	ErrInsufficientFunds = errors.New("rgbpsbt: insufficient funds")

	// ErrDustOutput is returned for outputs below the dust limit.
	ErrDustOutput = errors.New("rgbpsbt: output is dust")

	// ErrWrongOutput is returned for malformed address:amount outputs.
	ErrWrongOutput = errors.New("rgbpsbt: wrong output")

	// ErrScriptMismatch is returned when the previous output of an input
	// is not paying to the key its terminal derives.
	ErrScriptMismatch = errors.New("rgbpsbt: derived script does not " +
		"match previous output")
)

// InputRequest is an input to spend.
type InputRequest struct {
	// Descriptor is the tr() descriptor the input key derives from.
	Descriptor string

	Outpoint wire.OutPoint

	// Terminal is the derivation terminal of the input key.
	Terminal keys.Terminal

	// Tweak is the tapret commitment of an output that hosted an earlier
	// transfer. When nil the builder asks its TweakSource.
	Tweak *commitment.TapretCommitment
}

// Output is a non-asset payment.
type Output struct {
	Address string
	Amount  uint64
}

// ParseOutput parses "address:amount".
func ParseOutput(s string) (Output, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 {
		return Output{}, fmt.Errorf("%w: %q", ErrWrongOutput, s)
	}
	amount, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil {
		return Output{}, fmt.Errorf("%w: amount of %q", ErrWrongOutput,
			s)
	}

	return Output{Address: s[:i], Amount: amount}, nil
}

// String renders the output as "address:amount".
func (o Output) String() string {
	return fmt.Sprintf("%s:%d", o.Address, o.Amount)
}

// Request describes the PSBT to build.
type Request struct {
	// Assets are the inputs carrying contract state. All of them are
	// spent.
	Assets []InputRequest

	// Bitcoin are extra inputs, spent in order as far as the fee needs.
	Bitcoin []InputRequest

	Outputs []Output

	// Fee is an absolute fee in satoshis. It takes precedence over
	// FeeRate.
	Fee uint64

	FeeRate chainfee.SatPerKVByte

	// ChangeTerminal receives the host output and the bitcoin change.
	// It defaults to keys.DefaultChangeTerminal.
	ChangeTerminal *keys.Terminal

	AllowDust bool
}

// TweakSource knows the tapret tweaks of hosting outputs.
type TweakSource interface {
	Tweak(t keys.Terminal) *commitment.TapretCommitment
}

// Builder creates host PSBTs.
type Builder struct {
	Net      *network.Params
	Resolver chain.TxResolver

	// Tweaks is optional.
	Tweaks TweakSource
}

// NewBuilder creates a PSBT builder.
func NewBuilder(net *network.Params, resolver chain.TxResolver,
	tweaks TweakSource) *Builder {

	return &Builder{Net: net, Resolver: resolver, Tweaks: tweaks}
}

// Result is a built PSBT.
type Result struct {
	Packet *psbt.Packet

	// ChangeTerminal is the terminal of the host and change outputs.
	ChangeTerminal keys.Terminal

	Fee uint64
}

type input struct {
	desc     *keys.Descriptor
	terminal keys.Terminal
	outpoint wire.OutPoint
	internal *btcec.PublicKey
	prevOut  *wire.TxOut
	tweak    *commitment.TapretCommitment
}

// HostAmount returns the value of the host output at a fee rate.
func HostAmount(rate chainfee.SatPerKVByte) uint64 {
	if rate < minScaledRate {
		return DustLimit
	}

	scaled := (uint64(rate)*hostVBytes + 999) / 1000
	if scaled < DustLimit {
		return DustLimit
	}

	return scaled
}

func (r *Request) fee(numIns int, outs []*wire.TxOut,
	changeScriptSize int) uint64 {

	if r.Fee > 0 {
		return r.Fee
	}

	vsize := txsizes.EstimateVirtualSize(
		0, numIns, 0, 0, outs, changeScriptSize,
	)

	return (uint64(r.FeeRate)*uint64(vsize) + 999) / 1000
}

func (b *Builder) resolveInput(ctx context.Context,
	req InputRequest) (*input, error) {

	desc, err := keys.ParseDescriptor(req.Descriptor)
	if err != nil {
		return nil, err
	}
	internal, err := desc.TerminalKey(req.Terminal)
	if err != nil {
		return nil, err
	}

	info, err := b.Resolver.ResolveTx(ctx, req.Outpoint.Hash)
	switch {
	case errors.Is(err, chain.ErrTxNotFound):
		return nil, fmt.Errorf("%w: previous tx %v not found",
			chain.ErrResolverUnavailable, req.Outpoint.Hash)

	case err != nil:
		return nil, err
	}
	if int(req.Outpoint.Index) >= len(info.Tx.TxOut) {
		return nil, fmt.Errorf("%w: %v has no such output",
			ErrScriptMismatch, req.Outpoint)
	}
	prevOut := info.Tx.TxOut[req.Outpoint.Index]

	in := &input{
		desc:     desc,
		terminal: req.Terminal,
		outpoint: req.Outpoint,
		internal: internal,
		prevOut:  prevOut,
	}

	plain, err := txscript.PayToTaprootScript(
		txscript.ComputeTaprootKeyNoScript(internal),
	)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(plain, prevOut.PkScript) {
		return in, nil
	}

	tweak := req.Tweak
	if tweak == nil && b.Tweaks != nil {
		tweak = b.Tweaks.Tweak(req.Terminal)
	}
	if tweak != nil {
		tweaked, err := tweak.PkScript(internal)
		if err != nil {
			return nil, err
		}
		if bytes.Equal(tweaked, prevOut.PkScript) {
			in.tweak = tweak
			return in, nil
		}
	}

	return nil, fmt.Errorf("%w: %v at %v", ErrScriptMismatch,
		req.Outpoint, req.Terminal)
}

func (b *Builder) outputScript(o Output) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(o.Address, b.Net.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongOutput, err)
	}
	if !addr.IsForNet(b.Net.Params) {
		return nil, fmt.Errorf("%w: %v is not a %v address",
			ErrWrongOutput, o.Address, b.Net.Name)
	}

	return txscript.PayToAddrScript(addr)
}

// Build creates the host PSBT of a transfer. Output 0 is the tapret host
// at the change terminal, followed by the requested outputs and the bitcoin
// change, if it is worth an output.
func (b *Builder) Build(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Assets)+len(req.Bitcoin) == 0 {
		return nil, ErrNoInputs
	}
	if req.Fee == 0 && req.FeeRate == 0 {
		return nil, ErrInvalidFee
	}

	changeTerminal := keys.DefaultChangeTerminal
	if req.ChangeTerminal != nil {
		changeTerminal = *req.ChangeTerminal
	}

	var assets, extra []*input
	for _, r := range req.Assets {
		in, err := b.resolveInput(ctx, r)
		if err != nil {
			return nil, err
		}
		assets = append(assets, in)
	}
	for _, r := range req.Bitcoin {
		in, err := b.resolveInput(ctx, r)
		if err != nil {
			return nil, err
		}
		extra = append(extra, in)
	}

	// The host and the change pay to the change terminal of the first
	// input's account.
	var changeDesc *keys.Descriptor
	if len(assets) > 0 {
		changeDesc = assets[0].desc
	} else {
		changeDesc = extra[0].desc
	}
	changeKey, err := changeDesc.TerminalKey(changeTerminal)
	if err != nil {
		return nil, err
	}
	changeScript, err := txscript.PayToTaprootScript(
		txscript.ComputeTaprootKeyNoScript(changeKey),
	)
	if err != nil {
		return nil, err
	}

	hostValue := DustLimit
	if req.Fee == 0 {
		hostValue = HostAmount(req.FeeRate)
	}
	txOuts := []*wire.TxOut{wire.NewTxOut(int64(hostValue), changeScript)}
	for _, o := range req.Outputs {
		if o.Amount < DustLimit && !req.AllowDust {
			return nil, fmt.Errorf("%w: %v", ErrDustOutput, o)
		}
		pkScript, err := b.outputScript(o)
		if err != nil {
			return nil, err
		}
		txOuts = append(txOuts, wire.NewTxOut(int64(o.Amount), pkScript))
	}
	target := uint64(txauthor.SumOutputValues(txOuts))

	selected := append([]*input{}, assets...)
	var total uint64
	for _, in := range selected {
		total += uint64(in.prevOut.Value)
	}
	for next := 0; total < target+req.fee(len(selected), txOuts, 0); next++ {
		if next >= len(extra) {
			return nil, fmt.Errorf("%w: have %d, need %d",
				ErrInsufficientFunds, total,
				target+req.fee(len(selected), txOuts, 0))
		}
		selected = append(selected, extra[next])
		total += uint64(extra[next].prevOut.Value)
	}

	// Change below the relay dust threshold is left to the miners.
	changeFee := req.fee(len(selected), txOuts, p2trScriptSize)
	if total > target+changeFee {
		change := total - target - changeFee
		if !txrules.IsDustOutput(
			wire.NewTxOut(int64(change), changeScript),
			txrules.DefaultRelayFeePerKb,
		) {

			txOuts = append(txOuts, wire.NewTxOut(
				int64(change), changeScript,
			))
		}
	}
	fee := total - uint64(txauthor.SumOutputValues(txOuts))

	outpoints := make([]*wire.OutPoint, len(selected))
	sequences := make([]uint32, len(selected))
	for i, in := range selected {
		op := in.outpoint
		outpoints[i] = &op
		sequences[i] = rbfSequence
	}
	p, err := psbt.New(outpoints, txOuts, 2, 0, sequences)
	if err != nil {
		return nil, err
	}

	for i, in := range selected {
		if err := fillInput(&p.Inputs[i], in); err != nil {
			return nil, err
		}
	}
	for i := range p.Outputs {
		if !bytes.Equal(txOuts[i].PkScript, changeScript) {
			continue
		}
		p.Outputs[i].TaprootInternalKey = schnorr.SerializePubKey(
			changeKey,
		)
		p.Outputs[i].TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
			XOnlyPubKey:          schnorr.SerializePubKey(changeKey),
			MasterKeyFingerprint: changeDesc.Fingerprint,
			Bip32Path:            changeDesc.Bip32Path(changeTerminal),
		}}
	}

	if err := SetOutputKey(p, 0, TapretKey(SubtypeTapretHost), nil); err != nil {
		return nil, err
	}
	err = SetOutputKey(p, 0, TapretKey(SubtypeTapretCommitment), nil)
	if err != nil {
		return nil, err
	}

	log.Debugf("Built PSBT spending %d inputs into %d outputs, fee=%d",
		len(selected), len(txOuts), fee)
	log.Tracef("PSBT: %v", spew.Sdump(p))

	return &Result{
		Packet:         p,
		ChangeTerminal: changeTerminal,
		Fee:            fee,
	}, nil
}

func fillInput(pIn *psbt.PInput, in *input) error {
	xonly := schnorr.SerializePubKey(in.internal)

	pIn.WitnessUtxo = in.prevOut
	pIn.SighashType = txscript.SigHashDefault
	pIn.TaprootInternalKey = xonly
	pIn.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
		XOnlyPubKey:          xonly,
		MasterKeyFingerprint: in.desc.Fingerprint,
		Bip32Path:            in.desc.Bip32Path(in.terminal),
	}}

	if in.tweak == nil {
		return nil
	}

	controlBlock, err := in.tweak.ControlBlock(in.internal)
	if err != nil {
		return err
	}
	root := in.tweak.TapHash()
	pIn.TaprootMerkleRoot = root[:]
	pIn.TaprootLeafScript = []*psbt.TaprootTapLeafScript{{
		ControlBlock: controlBlock,
		Script:       in.tweak.Script(),
		LeafVersion:  txscript.BaseLeafVersion,
	}}

	return nil
}

func parseXOnly(b []byte) (*btcec.PublicKey, error) {
	return schnorr.ParsePubKey(b)
}
