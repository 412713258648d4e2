package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/urfave/cli"

	"github.com/blacktrace-labs/blacktrace/internal/app"
	"github.com/blacktrace-labs/blacktrace/internal/errs"
	"github.com/blacktrace-labs/blacktrace/internal/ids"
	"github.com/blacktrace-labs/blacktrace/internal/settlement"
	"github.com/blacktrace-labs/blacktrace/internal/wire"
)

// derivePrivKey builds a node identity key from --node-id-seed if given,
// else draws a fresh one, matching the teacher's loadConfig default of
// "generate if unset" for any key material a flag doesn't pin down.
func derivePrivKey(seed string) (*btcec.PrivateKey, error) {
	if seed == "" {
		return btcec.NewPrivateKey()
	}
	digest := sha256.Sum256([]byte(seed))
	priv, _ := btcec.PrivKeyFromBytes(digest[:])
	return priv, nil
}

// buildApp constructs an App from the global flags, used by every
// subcommand whether or not it ends up run inside the long-lived `node`
// process.
func buildApp(ctx *cli.Context) (*app.App, error) {
	priv, err := derivePrivKey(ctx.GlobalString("node-id-seed"))
	if err != nil {
		return nil, err
	}

	var coord *settlement.Coordinator
	if !ctx.GlobalBool("no-bus") {
		coord, err = settlement.NewCoordinator(ctx.GlobalString("bus-url"))
		if err != nil {
			return nil, err
		}
	}

	a := app.New(priv, []byte(ctx.GlobalString("node-id-seed")), coord)
	if err := a.Listen(uint16(ctx.GlobalInt("port"))); err != nil {
		return nil, err
	}
	if connect := ctx.GlobalString("connect"); connect != "" {
		if _, err := a.ConnectToPeer(connect); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// dispatch runs one `order|negotiate|query <subcommand> [args...]` line
// against a already-constructed App, shared between the `node` REPL and
// the standalone one-shot subcommands below, so both paths exercise the
// exact same logic.
func dispatch(a *app.App, args []string) (string, error) {
	if len(args) == 0 {
		return "", errs.New(errs.KindInvalidProposal, "empty command")
	}

	switch args[0] {
	case "order":
		return dispatchOrder(a, args[1:])
	case "negotiate":
		return dispatchNegotiate(a, args[1:])
	case "query":
		return dispatchQuery(a, args[1:])
	default:
		return "", errs.New(errs.KindInvalidProposal, "unknown command %q", args[0])
	}
}

func dispatchOrder(a *app.App, args []string) (string, error) {
	if len(args) == 0 {
		return "", errs.New(errs.KindInvalidProposal, "usage: order create|list|cancel")
	}
	switch args[0] {
	case "create":
		fs := args[1:]
		if len(fs) != 5 {
			return "", errs.New(errs.KindInvalidProposal,
				"usage: order create <side> <amount> <min-price> <max-price> <stablecoin>")
		}
		amount, err := strconv.ParseUint(fs[1], 10, 64)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidProposal, err)
		}
		minPrice, err := strconv.ParseUint(fs[2], 10, 64)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidProposal, err)
		}
		maxPrice, err := strconv.ParseUint(fs[3], 10, 64)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidProposal, err)
		}
		orderID, err := a.CreateOrder(wire.Side(fs[0]), amount, minPrice, maxPrice, wire.Stablecoin(fs[4]))
		if err != nil {
			return "", err
		}
		return orderID.String(), nil

	case "list":
		orders := a.ListOrders()
		var lines []string
		for _, o := range orders {
			lines = append(lines, fmt.Sprintf("%v %v %v", o.OrderID, o.Side, o.Stablecoin))
		}
		return strings.Join(lines, "\n"), nil

	case "cancel":
		if len(args) != 2 {
			return "", errs.New(errs.KindInvalidProposal, "usage: order cancel <order-id>")
		}
		return "", a.CancelOrder(ids.OrderID(args[1]))

	default:
		return "", errs.New(errs.KindInvalidProposal, "unknown order subcommand %q", args[0])
	}
}

func dispatchNegotiate(a *app.App, args []string) (string, error) {
	if len(args) == 0 {
		return "", errs.New(errs.KindInvalidProposal, "usage: negotiate request|propose|accept|cancel")
	}
	switch args[0] {
	case "request":
		if len(args) != 3 {
			return "", errs.New(errs.KindInvalidProposal, "usage: negotiate request <order-id> <maker-peer-id>")
		}
		return "", a.RequestOrderDetails(ids.OrderID(args[1]), ids.PeerID(args[2]))

	case "propose":
		if len(args) != 4 {
			return "", errs.New(errs.KindInvalidProposal, "usage: negotiate propose <order-id> <price> <amount>")
		}
		price, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidProposal, err)
		}
		amount, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidProposal, err)
		}
		return "", a.ProposePrice(ids.OrderID(args[1]), price, amount)

	case "accept":
		if len(args) != 10 {
			return "", errs.New(errs.KindInvalidProposal,
				"usage: negotiate accept <order-id> <native-amount> <stablecoin-amount> <stablecoin-type> "+
					"<maker-address> <taker-address> <secret-hash-hex> <timelock-blocks> <counterparty-sig-hex>")
		}
		nativeAmount, err := strconv.ParseUint(args[2], 10, 64)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidProposal, err)
		}
		stableAmount, err := strconv.ParseUint(args[3], 10, 64)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidProposal, err)
		}
		secretHash, err := ids.HashFromHex(args[7])
		if err != nil {
			return "", err
		}
		timelock, err := strconv.ParseUint(args[8], 10, 32)
		if err != nil {
			return "", errs.Wrap(errs.KindInvalidProposal, err)
		}
		counterpartySig, err := hex.DecodeString(args[9])
		if err != nil {
			return "", errs.Wrap(errs.KindHexDecode, err)
		}

		terms := wire.SettlementTerms{
			OrderID:          ids.OrderID(args[1]),
			NativeAmount:     nativeAmount,
			StablecoinAmount: stableAmount,
			StablecoinType:   wire.Stablecoin(args[4]),
			MakerAddress:     args[5],
			TakerAddress:     args[6],
			SecretHash:       secretHash,
			TimelockBlocks:   uint32(timelock),
		}
		signed, err := a.AcceptTerms(ids.OrderID(args[1]), terms, counterpartySig)
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(signed)
		if err != nil {
			return "", errs.Wrap(errs.KindSerialization, err)
		}
		return string(b), nil

	case "cancel":
		if len(args) != 3 {
			return "", errs.New(errs.KindInvalidProposal, "usage: negotiate cancel <order-id> <reason>")
		}
		return "", a.CancelNegotiation(ids.OrderID(args[1]), args[2])

	default:
		return "", errs.New(errs.KindInvalidProposal, "unknown negotiate subcommand %q", args[0])
	}
}

func dispatchQuery(a *app.App, args []string) (string, error) {
	if len(args) == 0 {
		return "", errs.New(errs.KindInvalidProposal, "usage: query peers|orders|negotiations")
	}
	switch args[0] {
	case "peers":
		var lines []string
		for _, p := range a.ConnectedPeers() {
			lines = append(lines, p.String())
		}
		return strings.Join(lines, "\n"), nil

	case "orders":
		var lines []string
		for _, o := range a.ListOrders() {
			lines = append(lines, o.OrderID.String())
		}
		return strings.Join(lines, "\n"), nil

	case "negotiations":
		var lines []string
		for _, session := range a.Negotiations() {
			status, err := a.NegotiationStatus(session.OrderID())
			if err != nil {
				return "", err
			}
			lines = append(lines, fmt.Sprintf("%v: %v", session.OrderID(), status))
		}
		return strings.Join(lines, "\n"), nil

	default:
		return "", errs.New(errs.KindInvalidProposal, "unknown query subcommand %q", args[0])
	}
}

var orderCommand = cli.Command{
	Name:  "order",
	Usage: "create, list, or cancel an order announcement",
	Subcommands: []cli.Command{
		{
			Name:      "create",
			ArgsUsage: "side amount min-price max-price stablecoin",
			Action:    runOneShot("order", "create"),
		},
		{
			Name:   "list",
			Action: runOneShot("order", "list"),
		},
		{
			Name:      "cancel",
			ArgsUsage: "order-id",
			Action:    runOneShot("order", "cancel"),
		},
	},
}

var negotiateCommand = cli.Command{
	Name:  "negotiate",
	Usage: "request details, propose terms, accept, or cancel a negotiation",
	Subcommands: []cli.Command{
		{Name: "request", ArgsUsage: "order-id maker-peer-id", Action: runOneShot("negotiate", "request")},
		{Name: "propose", ArgsUsage: "order-id price amount", Action: runOneShot("negotiate", "propose")},
		{
			Name: "accept",
			ArgsUsage: "order-id native-amount stablecoin-amount stablecoin-type maker-address " +
				"taker-address secret-hash-hex timelock-blocks counterparty-sig-hex",
			Action: runOneShot("negotiate", "accept"),
		},
		{Name: "cancel", ArgsUsage: "order-id reason", Action: runOneShot("negotiate", "cancel")},
	},
}

var queryCommand = cli.Command{
	Name:  "query",
	Usage: "inspect connected peers, local orders, or open negotiations",
	Subcommands: []cli.Command{
		{Name: "peers", Action: runOneShot("query", "peers")},
		{Name: "orders", Action: runOneShot("query", "orders")},
		{Name: "negotiations", Action: runOneShot("query", "negotiations")},
	},
}

// runOneShot builds an ephemeral App, runs one dispatch call against it,
// and prints the result, for invocations outside the long-lived `node`
// process.
func runOneShot(group, sub string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		args := append([]string{group, sub}, ctx.Args()...)
		out, err := dispatch(a, args)
		if err != nil {
			return err
		}
		if out != "" {
			fmt.Println(out)
		}
		return nil
	}
}
