package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/diba-io/bitmask"
	"github.com/diba-io/bitmask/bitmaskcfg"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/urfave/cli"
)

const (
	// Environment variables names that can be used to set the global flags.
	envVarNetwork   = "BITCOIN_NETWORK"
	envVarCarbonado = "CARBONADO_ENDPOINT"
	envVarSecretKey = "BITMASK_SK"
	envVarDir       = "BITMASK_DIR"
	envVarProxy     = "BITMASK_PROXY"
	envVarBitcoind  = "BITMASK_BITCOIND"
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "bitmaskcli"
	app.Version = bitmask.Version()
	app.Usage = "run bitmask wallet operations against a local or " +
		"remote object store"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "network, n",
			Usage:  "The network to operate on: bitcoin, testnet, signet or regtest.",
			Value:  "regtest",
			EnvVar: envVarNetwork,
		},
		cli.StringFlag{
			Name:      "bitmaskdir",
			Usage:     "The base directory of the local object store.",
			Value:     bitmaskcfg.DefaultBitmaskDir,
			TakesFile: true,
			EnvVar:    envVarDir,
		},
		cli.StringFlag{
			Name:  "backend",
			Usage: "The object store backend: fs, http or sqlite.",
			Value: bitmaskcfg.StoreBackendFS,
		},
		cli.StringSliceFlag{
			Name: "endpoint",
			Usage: "A carbonado endpoint of the http backend, " +
				"can be given several times.",
			EnvVar: envVarCarbonado,
		},
		cli.StringFlag{
			Name:   "bitcoind",
			Usage:  "The host:port of the bitcoind rpc interface.",
			Value:  "localhost:18443",
			EnvVar: envVarBitcoind,
		},
		cli.StringFlag{
			Name:  "bitcoind.user",
			Usage: "The bitcoind rpc user.",
		},
		cli.StringFlag{
			Name:  "bitcoind.pass",
			Usage: "The bitcoind rpc password.",
		},
		cli.StringFlag{
			Name:   "proxy",
			Usage:  "The base URL of the consignment relay.",
			EnvVar: envVarProxy,
		},
		cli.StringFlag{
			Name:  "boardsecret",
			Usage: "The hex secret key of the public offer board.",
		},
		cli.StringFlag{
			Name: "sk",
			Usage: "The hex secret key of the user, as returned " +
				"by the mnemonic commands.",
			EnvVar: envVarSecretKey,
		},
	}

	app.Commands = append(app.Commands, walletCommands...)
	app.Commands = append(app.Commands, contractCommands...)
	app.Commands = append(app.Commands, transferCommands...)
	app.Commands = append(app.Commands, marketCommands...)
	app.Commands = append(app.Commands, objectCommands...)

	return app
}

func getContext() context.Context {
	shutdownInterceptor, err := signal.Intercept()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctxc, cancel := context.WithCancel(context.Background())
	go func() {
		<-shutdownInterceptor.ShutdownChannel()
		cancel()
	}()
	return ctxc
}

// serverConfig turns the global flags into a daemon config.
func serverConfig(ctx *cli.Context) (*bitmaskcfg.Config, error) {
	cfg := bitmaskcfg.DefaultConfig()
	cfg.BitmaskDir = ctx.GlobalString("bitmaskdir")
	cfg.ChainConf.Network = ctx.GlobalString("network")
	cfg.ChainConf.Host = ctx.GlobalString("bitcoind")
	cfg.ChainConf.User = ctx.GlobalString("bitcoind.user")
	cfg.ChainConf.Pass = ctx.GlobalString("bitcoind.pass")
	cfg.Carbonado.Backend = ctx.GlobalString("backend")
	if endpoints := ctx.GlobalStringSlice("endpoint"); len(endpoints) > 0 {
		cfg.Carbonado.Backend = bitmaskcfg.StoreBackendHTTP
		cfg.Carbonado.Endpoints = endpoints
	}
	cfg.Proxy.Endpoint = ctx.GlobalString("proxy")
	cfg.BoardSecret = ctx.GlobalString("boardsecret")

	if err := bitmaskcfg.NormalizeConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getServer creates an in-process server from the global flags.
func getServer(ctx *cli.Context) (*bitmask.Server, func(), error) {
	cfg, err := serverConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	server, cleanup, err := bitmaskcfg.CreateServerFromConfig(
		cfg, btclog.Disabled,
	)
	if err != nil {
		return nil, nil, err
	}
	if err := server.Start(); err != nil {
		cleanup()
		return nil, nil, err
	}

	return server, func() {
		_ = server.Stop()
		cleanup()
	}, nil
}

// secretKey returns the user secret of the global flags.
func secretKey(ctx *cli.Context) (string, error) {
	sk := ctx.GlobalString("sk")
	if sk == "" {
		return "", fmt.Errorf("the user secret key must be set with "+
			"--sk or %v", envVarSecretKey)
	}

	return sk, nil
}

// userAction wraps an action that runs an operation of a user.
func userAction(f func(ctx context.Context, c *cli.Context,
	srv *bitmask.Server, sk string) (interface{}, error)) cli.ActionFunc {

	return func(c *cli.Context) error {
		sk, err := secretKey(c)
		if err != nil {
			return err
		}

		srv, cleanUp, err := getServer(c)
		if err != nil {
			return err
		}
		defer cleanUp()

		resp, err := f(getContext(), c, srv, sk)
		if err != nil {
			return err
		}

		printJSON(resp)
		return nil
	}
}

// serverAction wraps an action that needs no user secret.
func serverAction(f func(ctx context.Context, c *cli.Context,
	srv *bitmask.Server) (interface{}, error)) cli.ActionFunc {

	return func(c *cli.Context) error {
		srv, cleanUp, err := getServer(c)
		if err != nil {
			return err
		}
		defer cleanUp()

		resp, err := f(getContext(), c, srv)
		if err != nil {
			return err
		}

		printJSON(resp)
		return nil
	}
}

func printJSON(resp interface{}) {
	b, err := json.Marshal(resp)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var out bytes.Buffer
	_ = json.Indent(&out, b, "", "\t")
	out.WriteString("\n")
	_, _ = out.WriteTo(os.Stdout)
}
