package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"livefeed/cmd/contracts"
	"livefeed/cmd/keys"
	"livefeed/cmd/live"
	"livefeed/src/connectors"
	"livefeed/src/database"
	"livefeed/src/instruments"
	"livefeed/src/repository"
	"livefeed/src/utils"
)

var Version string

func main() {
	_ = godotenv.Load()
	setupLogger()

	app := cli.NewApp()
	app.Name = "livefeed"
	app.Usage = "Live market data manager and signal pipeline"
	app.Version = Version

	app.Commands = []cli.Command{
		liveCMD,
		resolveCMD,
		syncContractsCMD,
		hashTokenCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger() {
	level, err := logrus.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

var (
	liveCMD = cli.Command{
		Name:        "live",
		Aliases:     []string{"run"},
		Usage:       "run the live feed, poller, pipeline and control API",
		Action:      liveAction,
		Description: `Run the live market data manager`,
	}
	resolveCMD = cli.Command{
		Name:        "resolve",
		Usage:       "resolve logical instrument names to venue contracts",
		Action:      resolveAction,
		ArgsUsage:   "[NAME...]",
		Description: `Print the resolved instruments as JSON; all configured names when none are given`,
	}
	syncContractsCMD = cli.Command{
		Name:        "sync-contracts",
		Usage:       "refresh the reference DB from the venue contract master",
		Action:      syncContractsAction,
		Description: `Download the contract master for CONTRACT_EXCHANGES and upsert it`,
	}
	hashTokenCMD = cli.Command{
		Name:        "hash-token",
		Usage:       "print the bcrypt hash of a control token",
		Action:      hashTokenAction,
		ArgsUsage:   "[TOKEN]",
		Description: `Hash the token argument, or CONTROL_TOKEN, for CONTROL_TOKEN_HASH`,
	}
)

func liveAction(_ *cli.Context) error {
	logrus.Info("Starting live CMD")

	l := &live.Live{Log: logrus.WithField("cmd", "live")}
	if err := l.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func resolveAction(c *cli.Context) error {
	log := logrus.WithField("cmd", "resolve")
	if err := database.InitReferenceDB(); err != nil {
		log.WithError(err).Warn("Failed to open reference database")
	}

	instCfg := instruments.GetConfig()
	table, err := live.LoadTable(instCfg)
	if err != nil {
		return err
	}
	loc := utils.VenueLocation(instCfg.Timezone)
	rest := connectors.NewRestClient(log, connectors.GetConfig())
	resolver := live.NewResolver(log, table, rest, loc)

	names := []string(c.Args())
	if len(names) == 0 {
		names = table.Names()
	}
	ctx, cancel := context.WithTimeout(context.Background(), instCfg.ResolveTimeout)
	defer cancel()
	resolved, failed := resolver.ResolveAll(ctx, names)

	out := struct {
		Resolved interface{}       `json:"resolved"`
		Failed   map[string]string `json:"failed,omitempty"`
	}{Resolved: resolved, Failed: map[string]string{}}
	for name, err := range failed {
		out.Failed[name] = err.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func syncContractsAction(_ *cli.Context) error {
	log := logrus.WithField("cmd", "sync-contracts")
	if err := database.InitReferenceDB(); err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	repo := repository.NewContractRepository()
	if !repo.Available() {
		return fmt.Errorf("sync-contracts needs ENABLE_DB=true: %w", repository.ErrNoReferenceDB)
	}

	s := &contracts.Sync{
		Log:    log,
		Source: connectors.NewRestClient(log, connectors.GetConfig()),
		Store:  repo,
	}
	res, err := s.Start(context.Background())
	if err != nil {
		log.WithError(err).Error("contract sync finished with errors")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(res); encErr != nil {
		return encErr
	}
	return err
}

func hashTokenAction(c *cli.Context) error {
	return keys.HashToken(os.Stdout, c.Args().First())
}
