package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tokenexchange/cmd/executor"
	"tokenexchange/cmd/keys"
	"tokenexchange/src/app"
	"tokenexchange/src/database"
	"tokenexchange/src/model"
	"tokenexchange/src/repository"
)

var Version string

func main() {
	_ = godotenv.Load()

	cliApp := cli.NewApp()
	cliApp.Name = "exchangectl"
	cliApp.Usage = "Operate the tokenized asset exchange"
	cliApp.Version = Version

	cliApp.Commands = []cli.Command{
		executorCMD,
		reconcileCMD,
		completeSettlementCMD,
		addMarketCMD,
		keysCMD,
	}

	if err := cliApp.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	executorCMD = cli.Command{
		Name:        "executor",
		Usage:       "run the matching and reconciliation loop",
		Action:      executorAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{cli.BoolFlag{Name: "once", Usage: "run a single pass and exit"}},
		Description: `Runs ExecuteMatches and Reconcile for every active market on LOOP_PERIOD`,
	}
	reconcileCMD = cli.Command{
		Name:   "reconcile",
		Usage:  "reconcile the mirror of one asset against the ledger",
		Action: reconcileAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "asset", Usage: "asset id"},
		},
		Description: `Prints the reconciliation report as JSON`,
	}
	completeSettlementCMD = cli.Command{
		Name:   "complete-settlement",
		Usage:  "finish the custodian leg of a partial fallback settlement",
		Action: completeSettlementAction,
		Flags: []cli.Flag{
			cli.UintFlag{Name: "incident", Usage: "incident id"},
		},
	}
	addMarketCMD = cli.Command{
		Name:   "add-market",
		Usage:  "register a market",
		Action: addMarketAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "asset", Usage: "asset id"},
			cli.StringFlag{Name: "name"},
			cli.StringFlag{Name: "exchange", Usage: "exchange contract address"},
			cli.StringFlag{Name: "token", Usage: "asset token address"},
			cli.StringFlag{Name: "currency", Usage: "settlement currency address"},
			cli.IntFlag{Name: "token-decimals", Value: 18},
			cli.IntFlag{Name: "currency-decimals", Value: 6},
			cli.BoolFlag{Name: "fallback", Usage: "enable fallback settlement"},
			cli.StringFlag{Name: "deadline", Usage: "trading deadline, RFC3339"},
		},
	}
	keysCMD = cli.Command{
		Name:        "keys",
		Usage:       "generate a ledger signing key and an operator API key",
		Action:      keysAction,
		Description: `Prints new secrets to stdout; nothing is stored`,
	}
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func executorAction(c *cli.Context) error {
	logrus.WithField("cmd", "executor").Info("Starting executor CMD")

	executorLoop := &executor.Executor{Once: c.Bool("once")}
	err := executorLoop.Start()
	if err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}

	return nil
}

func reconcileAction(c *cli.Context) error {
	asset := c.String("asset")
	if asset == "" {
		return errors.New("--asset is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Reconcile.Reconcile(ctx, asset)
	if report != nil {
		if printErr := printJSON(report); printErr != nil {
			return printErr
		}
	}
	return err
}

func completeSettlementAction(c *cli.Context) error {
	id := c.Uint("incident")
	if id == 0 {
		return errors.New("--incident is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Fallback.CompletePartial(ctx, id)
	if err != nil {
		logrus.WithError(err).WithField("incident_id", id).Error("Completing settlement failed")
		return err
	}
	return printJSON(result)
}

func addMarketAction(c *cli.Context) error {
	market := model.Market{
		AssetID:          c.String("asset"),
		Name:             c.String("name"),
		TokenDecimals:    int32(c.Int("token-decimals")),
		CurrencyDecimals: int32(c.Int("currency-decimals")),
		FallbackEnabled:  c.Bool("fallback"),
		Active:           true,
	}
	if market.AssetID == "" {
		return errors.New("--asset is required")
	}

	var err error
	for flag, dst := range map[string]*string{
		"exchange": &market.ExchangeAddress,
		"token":    &market.TokenAddress,
		"currency": &market.CurrencyAddress,
	} {
		if *dst, err = model.NormalizeAddress(c.String(flag)); err != nil {
			return fmt.Errorf("--%s: %w", flag, err)
		}
	}
	if s := c.String("deadline"); s != "" {
		deadline, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("--deadline: %w", err)
		}
		deadline = deadline.UTC()
		market.TradingDeadline = &deadline
	}

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}
	if err := repository.NewMarketRepository().Create(context.Background(), &market); err != nil {
		return err
	}
	return printJSON(market)
}

func keysAction(_ *cli.Context) error {
	g, err := keys.Generate(keys.GetConfig())
	if err != nil {
		return err
	}
	fmt.Printf("LEDGER_CUSTODIAN_KEY=%s\n", g.LedgerKey)
	fmt.Printf("LEDGER_CUSTODIAN_ADDRESS=%s\n", g.LedgerAddress)
	fmt.Printf("OPERATOR_API_KEY=%s\n", g.OperatorAPIKey)
	return nil
}
