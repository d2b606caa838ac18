package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"syscall"

	"github.com/diba-io/bitmask"
	"github.com/diba-io/bitmask/commitment"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

var walletCommands = []cli.Command{
	{
		Name:      "mnemonic",
		ShortName: "m",
		Usage:     "Create or restore wallet keys.",
		Category:  "Wallet",
		Subcommands: []cli.Command{
			newMnemonicCommand,
			saveMnemonicCommand,
		},
	},
	{
		Name:      "watcher",
		ShortName: "w",
		Usage:     "Manage the watch-only wallets of a user.",
		Category:  "Wallet",
		Subcommands: []cli.Command{
			createWatcherCommand,
			listWatchersCommand,
			watcherAddressCommand,
			watcherUtxoCommand,
			watcherUnspentCommand,
			watcherDetailsCommand,
			syncWatcherCommand,
			tapretTweakCommand,
			destroyWatcherCommand,
		},
	},
}

const (
	seedPasswordName = "seed_password"
	promptName       = "prompt"
	mnemonicName     = "mnemonic"
	watcherName      = "name"
	xpubName         = "xpub"
	forceName        = "force"
	ifaceName        = "iface"
	terminalName     = "terminal"
	tweakName        = "tweak"

	defaultWatcherName = "default"
)

var seedPasswordFlag = cli.StringFlag{
	Name:  seedPasswordName,
	Usage: "the optional password the seed is derived with",
}

var promptFlag = cli.BoolFlag{
	Name:  promptName,
	Usage: "read the seed password from the terminal",
}

// readPassword reads a password from the terminal. This requires there to be
// an actual TTY so passing in a password from stdin won't work.
func readPassword(text string) ([]byte, error) {
	fmt.Print(text)

	// The variable syscall.Stdin is of a different type in the Windows API
	// that's why we need the explicit cast.
	pw, err := term.ReadPassword(int(syscall.Stdin)) // nolint:unconvert
	fmt.Println()
	return pw, err
}

// seedPassword returns the seed password of the flags, prompting for it when
// asked to.
func seedPassword(ctx *cli.Context) (string, error) {
	if !ctx.Bool(promptName) {
		return ctx.String(seedPasswordName), nil
	}

	pw, err := readPassword("Seed password: ")
	if err != nil {
		return "", err
	}

	return string(pw), nil
}

var watcherNameFlag = cli.StringFlag{
	Name:  watcherName,
	Usage: "the name of the watcher",
	Value: defaultWatcherName,
}

var ifaceFlag = cli.StringFlag{
	Name:  ifaceName,
	Usage: "the interface the branch serves, RGB20 or RGB21",
	Value: "RGB20",
}

var newMnemonicCommand = cli.Command{
	Name:   "new",
	Usage:  "generate a new mnemonic and derive its wallet keys",
	Flags:  []cli.Flag{seedPasswordFlag, promptFlag},
	Action: newMnemonic,
}

func newMnemonic(ctx *cli.Context) error {
	password, err := seedPassword(ctx)
	if err != nil {
		return err
	}

	srv, cleanUp, err := getServer(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	resp, err := srv.NewMnemonic(password)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

var saveMnemonicCommand = cli.Command{
	Name:  "save",
	Usage: "derive the wallet keys of an existing mnemonic",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  mnemonicName,
			Usage: "the space separated mnemonic words",
		},
		seedPasswordFlag,
		promptFlag,
	},
	Action: saveMnemonic,
}

func saveMnemonic(ctx *cli.Context) error {
	if !ctx.IsSet(mnemonicName) {
		return cli.ShowSubcommandHelp(ctx)
	}

	password, err := seedPassword(ctx)
	if err != nil {
		return err
	}

	srv, cleanUp, err := getServer(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	resp, err := srv.SaveMnemonic(ctx.String(mnemonicName), password)
	if err != nil {
		return err
	}

	printJSON(resp)
	return nil
}

var createWatcherCommand = cli.Command{
	Name:  "create",
	Usage: "create a watcher for an account xpub",
	Flags: []cli.Flag{
		watcherNameFlag,
		cli.StringFlag{
			Name:  xpubName,
			Usage: "the account xpub or tr() descriptor to watch",
		},
		cli.BoolFlag{
			Name: forceName,
			Usage: "replace an existing watcher of the same name " +
				"bound to another xpub",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		if !c.IsSet(xpubName) {
			return nil, fmt.Errorf("%s must be set", xpubName)
		}

		return srv.CreateWatcher(
			ctx, sk, c.String(watcherName), c.String(xpubName),
			c.Bool(forceName),
		)
	}),
}

var listWatchersCommand = cli.Command{
	Name:  "list",
	Usage: "list the watchers of the user",
	Action: userAction(func(ctx context.Context, _ *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.ListWatchers(ctx, sk)
	}),
}

var watcherAddressCommand = cli.Command{
	Name:  "address",
	Usage: "return the next unused address of a branch",
	Flags: []cli.Flag{watcherNameFlag, ifaceFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.WatcherNextAddress(
			ctx, sk, c.String(watcherName), c.String(ifaceName),
		)
	}),
}

var watcherUtxoCommand = cli.Command{
	Name:  "utxo",
	Usage: "return the next output of a branch free of contract state",
	Flags: []cli.Flag{watcherNameFlag, ifaceFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.WatcherNextUtxo(
			ctx, sk, c.String(watcherName), c.String(ifaceName),
		)
	}),
}

var watcherUnspentCommand = cli.Command{
	Name:  "unspent",
	Usage: "list the cached unspent outputs of a branch",
	Flags: []cli.Flag{watcherNameFlag, ifaceFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.WatcherUnspent(
			ctx, sk, c.String(watcherName), c.String(ifaceName),
		)
	}),
}

var watcherDetailsCommand = cli.Command{
	Name:  "details",
	Usage: "list the cached unspent outputs of every branch",
	Flags: []cli.Flag{watcherNameFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.WatcherDetails(ctx, sk, c.String(watcherName))
	}),
}

var syncWatcherCommand = cli.Command{
	Name:  "sync",
	Usage: "rescan the chain for the outputs of a watcher",
	Flags: []cli.Flag{watcherNameFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.SyncWatcher(ctx, sk, c.String(watcherName))
	}),
}

var tapretTweakCommand = cli.Command{
	Name:  "tweak",
	Usage: "record the tapret commitment hosted at a terminal",
	Flags: []cli.Flag{
		watcherNameFlag,
		cli.StringFlag{
			Name:  terminalName,
			Usage: "the terminal of the hosting output, /app/index",
		},
		cli.StringFlag{
			Name:  tweakName,
			Usage: "the hex encoded tapret commitment",
		},
	},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		raw, err := hex.DecodeString(c.String(tweakName))
		if err != nil {
			return nil, fmt.Errorf("invalid tweak: %w", err)
		}
		tweak, err := commitment.ParseTapretCommitment(raw)
		if err != nil {
			return nil, err
		}

		err = srv.AddTapretTweak(
			ctx, sk, c.String(watcherName), c.String(terminalName),
			tweak,
		)
		if err != nil {
			return nil, err
		}

		return struct{}{}, nil
	}),
}

var destroyWatcherCommand = cli.Command{
	Name:  "destroy",
	Usage: "remove a watcher from the account",
	Flags: []cli.Flag{watcherNameFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		err := srv.DestroyWatcher(ctx, sk, c.String(watcherName))
		if err != nil {
			return nil, err
		}

		return struct{}{}, nil
	}),
}
