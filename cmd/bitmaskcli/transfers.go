package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/diba-io/bitmask"
	"github.com/diba-io/bitmask/rgb"
	"github.com/urfave/cli"
)

var transferCommands = []cli.Command{
	{
		Name:      "transfers",
		ShortName: "t",
		Usage:     "Create invoices and move contract state.",
		Category:  "Transfers",
		Subcommands: []cli.Command{
			createInvoiceCommand,
			createPsbtCommand,
			sendTransferCommand,
			validateTransferCommand,
			acceptTransferCommand,
			receiveTransferCommand,
			listTransfersCommand,
			saveTransferCommand,
			removeTransferCommand,
			verifyTransfersCommand,
		},
	},
}

const (
	amountName      = "amount"
	expiryName      = "expiry"
	endpointName    = "endpoint"
	requestName     = "request"
	psbtName        = "psbt"
	invoiceName     = "invoice"
	rbfName         = "rbf"
	consignmentName = "consignment"
	recipientName   = "recipient"
	consigIDName    = "consig_id"
)

var consignmentFlag = cli.StringFlag{
	Name:  consignmentName,
	Usage: "the armored, bech32m or hex consignment",
}

var createInvoiceCommand = cli.Command{
	Name:  "invoice",
	Usage: "create an invoice paying to a blinded seal",
	Flags: []cli.Flag{
		contractIDFlag,
		ifaceFlag,
		cli.StringFlag{
			Name:  amountName,
			Usage: "the decimal amount to receive",
		},
		cli.StringFlag{
			Name:  sealName,
			Usage: "the beneficiary seal, tapret1st:<txid>:<vout>",
		},
		cli.DurationFlag{
			Name:  expiryName,
			Usage: "the time the invoice stays payable, zero for ever",
		},
		cli.StringSliceFlag{
			Name: endpointName,
			Usage: "a relay the payer may post the consignment to, " +
				"can be given several times",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		id, err := parseContractID(c)
		if err != nil {
			return nil, err
		}

		req := &bitmask.InvoiceRequest{
			ContractID: id,
			Iface:      c.String(ifaceName),
			Amount:     c.String(amountName),
			Seal:       c.String(sealName),
			Endpoints:  c.StringSlice(endpointName),
		}
		if expiry := c.Duration(expiryName); expiry > 0 {
			at := time.Now().Add(expiry)
			req.Expiry = &at
		}

		return srv.CreateInvoice(ctx, sk, req)
	}),
}

// readRequest decodes a JSON request given inline or as @file.
func readRequest(raw string, req interface{}) error {
	data := []byte(raw)
	if len(raw) > 0 && raw[0] == '@' {
		var err error
		data, err = os.ReadFile(raw[1:])
		if err != nil {
			return fmt.Errorf("unable to read request: %w", err)
		}
	}

	if err := json.Unmarshal(data, req); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	return nil
}

var createPsbtCommand = cli.Command{
	Name:  "psbt",
	Usage: "build a host PSBT spending asset and bitcoin inputs",
	Description: `
	The request is the JSON form of a PSBT request, given inline or as
	@path. For example:

	{"Assets": [{"Descriptor": "tr(...)", "Utxo": "<txid>:0",
	  "Terminal": "/20/0"}], "FeeRate": 2}
	`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  requestName,
			Usage: "the JSON request, inline or @path",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		var req bitmask.PsbtRequest
		if err := readRequest(c.String(requestName), &req); err != nil {
			return nil, err
		}

		return srv.CreatePsbt(ctx, sk, &req)
	}),
}

var sendTransferCommand = cli.Command{
	Name:  "send",
	Usage: "pay an invoice with a host PSBT",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  psbtName,
			Usage: "the base64 host PSBT",
		},
		cli.StringFlag{
			Name:  invoiceName,
			Usage: "the invoice to pay",
		},
		cli.BoolFlag{
			Name:  rbfName,
			Usage: "replace a pending payment spending the same inputs",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.TransferAsset(
			ctx, sk, c.String(psbtName), c.String(invoiceName),
			c.Bool(rbfName),
		)
	}),
}

var validateTransferCommand = cli.Command{
	Name:  "validate",
	Usage: "validate a consignment against the chain",
	Flags: []cli.Flag{consignmentFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.ValidateTransfer(ctx, sk, c.String(consignmentName))
	}),
}

var acceptTransferCommand = cli.Command{
	Name:  "accept",
	Usage: "accept a received consignment into the stash",
	Flags: []cli.Flag{
		consignmentFlag,
		cli.BoolFlag{
			Name:  forceName,
			Usage: "accept even if the consignment fails validation",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.AcceptTransfer(
			ctx, sk, c.String(consignmentName), c.Bool(forceName),
		)
	}),
}

var receiveTransferCommand = cli.Command{
	Name:  "receive",
	Usage: "fetch a consignment from the relay and accept it",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  recipientName,
			Usage: "the blinded seal the consignment was posted for",
		},
		cli.BoolFlag{
			Name:  forceName,
			Usage: "accept even if the consignment fails validation",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.ReceiveTransfer(
			ctx, sk, c.String(recipientName), c.Bool(forceName),
		)
	}),
}

var listTransfersCommand = cli.Command{
	Name:  "list",
	Usage: "list the transfers of a contract with their status",
	Flags: []cli.Flag{contractIDFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		id, err := parseContractID(c)
		if err != nil {
			return nil, err
		}

		return srv.ListTransfers(ctx, sk, id)
	}),
}

var saveTransferCommand = cli.Command{
	Name:  "save",
	Usage: "record a consignment to follow until it is mined",
	Flags: []cli.Flag{ifaceFlag, consignmentFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.SaveTransfer(
			ctx, sk, c.String(ifaceName), c.String(consignmentName),
		)
	}),
}

var removeTransferCommand = cli.Command{
	Name:  "remove",
	Usage: "forget recorded transfers of a contract",
	Flags: []cli.Flag{
		contractIDFlag,
		cli.StringSliceFlag{
			Name:  consigIDName,
			Usage: "a consignment id to forget, can be given several times",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		id, err := parseContractID(c)
		if err != nil {
			return nil, err
		}

		var consigIDs []rgb.ConsignmentID
		for _, s := range c.StringSlice(consigIDName) {
			consigID, err := rgb.ParseConsignmentID(s)
			if err != nil {
				return nil, err
			}
			consigIDs = append(consigIDs, consigID)
		}

		removed, err := srv.RemoveTransfer(ctx, sk, id, consigIDs...)
		if err != nil {
			return nil, err
		}

		return map[string]int{"removed": removed}, nil
	}),
}

var verifyTransfersCommand = cli.Command{
	Name:  "verify",
	Usage: "refresh the status of every recorded transfer",
	Action: userAction(func(ctx context.Context, _ *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		updated, err := srv.VerifyTransfers(ctx, sk)
		if err != nil {
			return nil, err
		}

		return map[string]int{"updated": updated}, nil
	}),
}
