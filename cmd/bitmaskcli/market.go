package main

import (
	"context"
	"fmt"

	"github.com/diba-io/bitmask"
	"github.com/diba-io/bitmask/marketplace"
	"github.com/google/uuid"
	"github.com/urfave/cli"
)

var marketCommands = []cli.Command{
	{
		Name:     "offers",
		Usage:    "Publish and settle offers on the board.",
		Category: "Market",
		Subcommands: []cli.Command{
			publishOfferCommand,
			cancelOfferCommand,
			fillOfferCommand,
			myOffersCommand,
			publicOffersCommand,
			offerBidsCommand,
		},
	},
	{
		Name:     "bids",
		Usage:    "Publish and settle bids on the board.",
		Category: "Market",
		Subcommands: []cli.Command{
			publishBidCommand,
			fillBidCommand,
			myBidsCommand,
		},
	},
}

const (
	orderIDName    = "id"
	transferIDName = "transfer_id"
)

var orderIDFlag = cli.StringFlag{
	Name:  orderIDName,
	Usage: "the uuid of the order",
}

var transferIDFlag = cli.StringFlag{
	Name:  transferIDName,
	Usage: "the id of the swap consignment",
}

var orderRequestFlag = cli.StringFlag{
	Name:  requestName,
	Usage: "the JSON order, inline or @path",
}

func parseOrderID(c *cli.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.String(orderIDName))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", orderIDName, err)
	}

	return id, nil
}

var publishOfferCommand = cli.Command{
	Name:  "publish",
	Usage: "publish an offer selling contract state",
	Flags: []cli.Flag{orderRequestFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		var offer marketplace.Offer
		err := readRequest(c.String(requestName), &offer)
		if err != nil {
			return nil, err
		}

		return srv.PublishOffer(ctx, sk, offer)
	}),
}

var cancelOfferCommand = cli.Command{
	Name:  "cancel",
	Usage: "cancel an open offer of the user",
	Flags: []cli.Flag{orderIDFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		id, err := parseOrderID(c)
		if err != nil {
			return nil, err
		}
		if err := srv.CancelOffer(ctx, sk, id); err != nil {
			return nil, err
		}

		return struct{}{}, nil
	}),
}

var fillOfferCommand = cli.Command{
	Name:  "fill",
	Usage: "mark an offer of the user as filled",
	Flags: []cli.Flag{orderIDFlag, transferIDFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		id, err := parseOrderID(c)
		if err != nil {
			return nil, err
		}

		return srv.FillOffer(ctx, sk, id, c.String(transferIDName))
	}),
}

var myOffersCommand = cli.Command{
	Name:  "mine",
	Usage: "list the offers of the user",
	Action: userAction(func(ctx context.Context, _ *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.MyOffers(ctx, sk)
	}),
}

var publicOffersCommand = cli.Command{
	Name:  "public",
	Usage: "list the open offers of the board",
	Action: serverAction(func(ctx context.Context, _ *cli.Context,
		srv *bitmask.Server) (interface{}, error) {

		return srv.ListPublicOffers(ctx)
	}),
}

var offerBidsCommand = cli.Command{
	Name:  "bids",
	Usage: "list the public bids on an offer",
	Flags: []cli.Flag{orderIDFlag},
	Action: serverAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server) (interface{}, error) {

		id, err := parseOrderID(c)
		if err != nil {
			return nil, err
		}

		return srv.OfferBids(ctx, id)
	}),
}

var publishBidCommand = cli.Command{
	Name:  "publish",
	Usage: "publish a bid on an offer",
	Flags: []cli.Flag{orderRequestFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		var bid marketplace.Bid
		if err := readRequest(c.String(requestName), &bid); err != nil {
			return nil, err
		}

		return srv.PublishBid(ctx, sk, bid)
	}),
}

var fillBidCommand = cli.Command{
	Name:  "fill",
	Usage: "mark a bid of the user as filled",
	Flags: []cli.Flag{orderIDFlag, transferIDFlag},
	Action: userAction(func(ctx context.Context, c *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		id, err := parseOrderID(c)
		if err != nil {
			return nil, err
		}

		return srv.FillBid(ctx, sk, id, c.String(transferIDName))
	}),
}

var myBidsCommand = cli.Command{
	Name:  "mine",
	Usage: "list the bids of the user",
	Action: userAction(func(ctx context.Context, _ *cli.Context,
		srv *bitmask.Server, sk string) (interface{}, error) {

		return srv.MyBids(ctx, sk)
	}),
}
