package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/diba-io/bitmask"
	"github.com/diba-io/bitmask/rgb"
	"github.com/urfave/cli"
)

var contractCommands = []cli.Command{
	{
		Name:      "contracts",
		ShortName: "c",
		Usage:     "Issue, import and inspect contracts.",
		Category:  "Contracts",
		Subcommands: []cli.Command{
			issueContractCommand,
			importContractCommand,
			listContractsCommand,
			showContractCommand,
			hideContractCommand,
			listIfacesCommand,
			listSchemasCommand,
		},
	},
}

const (
	tickerName      = "ticker"
	contractName    = "name"
	descriptionName = "description"
	precisionName   = "precision"
	supplyName      = "supply"
	sealName        = "seal"
	mediaName       = "media"
	contractIDName  = "contract_id"
	dataName        = "data"
)

var contractIDFlag = cli.StringFlag{
	Name:  contractIDName,
	Usage: "the id of the contract, rgb:...",
}

// parseContractID reads the contract id flag, which is required.
func parseContractID(c *cli.Context) (rgb.ContractID, error) {
	if !c.IsSet(contractIDName) {
		return rgb.ContractID{}, fmt.Errorf("%s must be set",
			contractIDName)
	}

	return rgb.ParseContractID(c.String(contractIDName))
}

// parseMedia reads "mime=source" pairs.
func parseMedia(items []string) ([]bitmask.Media, error) {
	media := make([]bitmask.Media, 0, len(items))
	for _, item := range items {
		mime, source, ok := strings.Cut(item, "=")
		if !ok || mime == "" || source == "" {
			return nil, fmt.Errorf("invalid media %q, expected "+
				"mime=source", item)
		}
		media = append(media, bitmask.Media{Type: mime, Source: source})
	}

	return media, nil
}

var issueContractCommand = cli.Command{
	Name:      "issue",
	ShortName: "i",
	Usage:     "issue a new contract",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  tickerName,
			Usage: "the ticker of the asset",
		},
		cli.StringFlag{
			Name:  contractName,
			Usage: "the name of the asset",
		},
		cli.StringFlag{
			Name:  descriptionName,
			Usage: "the contract terms",
		},
		cli.UintFlag{
			Name:  precisionName,
			Usage: "the number of decimal digits of the asset",
		},
		cli.StringFlag{
			Name:  supplyName,
			Usage: "the decimal supply to issue",
		},
		cli.StringFlag{
			Name:  sealName,
			Usage: "the genesis seal, tapret1st:<txid>:<vout>",
		},
		ifaceFlag,
		cli.StringSliceFlag{
			Name: mediaName,
			Usage: "a media item of a unique asset, mime=source, " +
				"can be given several times",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		media, err := parseMedia(c.StringSlice(mediaName))
		if err != nil {
			return nil, err
		}
		if c.Uint(precisionName) > rgb.MaxPrecision {
			return nil, fmt.Errorf("precision above %d",
				rgb.MaxPrecision)
		}

		return srv.IssueContract(ctx, sk, &bitmask.IssueRequest{
			Ticker:      c.String(tickerName),
			Name:        c.String(contractName),
			Description: c.String(descriptionName),
			Precision:   uint8(c.Uint(precisionName)),
			Supply:      c.String(supplyName),
			Seal:        c.String(sealName),
			Iface:       c.String(ifaceName),
			Media:       media,
		})
	}),
}

var importContractCommand = cli.Command{
	Name:  "import",
	Usage: "import a contract in any of its wire forms",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  dataName,
			Usage: "the armored, bech32m or hex contract",
		},
		cli.BoolFlag{
			Name:  forceName,
			Usage: "import even if the contract fails validation",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.ImportContract(
			ctx, sk, c.String(dataName), c.Bool(forceName),
		)
	}),
}

var listContractsCommand = cli.Command{
	Name:  "list",
	Usage: "list the contracts of the user with their balances",
	Action: userAction(func(ctx context.Context, _ *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.ListContracts(ctx, sk)
	}),
}

var showContractCommand = cli.Command{
	Name:  "show",
	Usage: "show a contract through one of its interfaces",
	Flags: []cli.Flag{contractIDFlag, ifaceFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		id, err := parseContractID(c)
		if err != nil {
			return nil, err
		}

		return srv.ContractIface(ctx, sk, id, c.String(ifaceName))
	}),
}

var hideContractCommand = cli.Command{
	Name:  "hide",
	Usage: "hide a contract from the contract list",
	Flags: []cli.Flag{contractIDFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		id, err := parseContractID(c)
		if err != nil {
			return nil, err
		}
		if err := srv.HideContract(ctx, sk, id); err != nil {
			return nil, err
		}

		return struct{}{}, nil
	}),
}

var listIfacesCommand = cli.Command{
	Name:  "ifaces",
	Usage: "list the interfaces known to the stash",
	Action: userAction(func(ctx context.Context, _ *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.ListInterfaces(ctx, sk)
	}),
}

var listSchemasCommand = cli.Command{
	Name:  "schemas",
	Usage: "list the schemas known to the stash",
	Action: userAction(func(ctx context.Context, _ *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.ListSchemas(ctx, sk)
	}),
}
