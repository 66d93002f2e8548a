package live

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"livefeed/src/auth"
	"livefeed/src/connectors"
	"livefeed/src/database"
	"livefeed/src/executors"
	"livefeed/src/feed"
	"livefeed/src/instruments"
	"livefeed/src/pipeline"
	"livefeed/src/poller"
	"livefeed/src/repository"
	"livefeed/src/risk"
	"livefeed/src/server"
	"livefeed/src/utils"
)

type Live struct {
	Log *logrus.Entry
}

// LoadTable returns the configured instrument-class table.
func LoadTable(cfg instruments.Config) (*instruments.Table, error) {
	if cfg.TablePath != "" {
		return instruments.LoadTable(cfg.TablePath)
	}
	return instruments.DefaultTable()
}

// NewResolver wires the resolver to the reference DB when one is open and
// to the venue search.
func NewResolver(log *logrus.Entry, table *instruments.Table, rest *connectors.RestClient, loc *time.Location) *instruments.Resolver {
	var store instruments.ContractStore
	if repo := repository.NewContractRepository(); repo.Available() {
		store = repo
	} else {
		log.Warn("reference DB unavailable, resolving through venue search and static table")
	}
	return instruments.NewResolver(log, table, store, rest, instruments.WithLocation(loc))
}

func (l *Live) Start() error {
	log := l.Log
	if log == nil {
		log = logrus.WithField("cmd", "live")
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := database.InitReferenceDB(); err != nil {
		log.WithError(err).Warn("Failed to open reference database")
	}

	instCfg := instruments.GetConfig()
	table, err := LoadTable(instCfg)
	if err != nil {
		log.WithError(err).Error("Failed to load instrument table")
		return err
	}
	loc := utils.VenueLocation(instCfg.Timezone)

	venueCfg := connectors.GetConfig()
	version, err := connectors.ParseProtocolVersion(venueCfg.Protocol)
	if err != nil {
		return err
	}
	proto, err := connectors.NewProtocol(version)
	if err != nil {
		return err
	}
	if !venueCfg.HasCredentials() {
		log.Warn("venue credentials missing, the stream will stay disconnected until configured")
	}
	rest := connectors.NewRestClient(log, venueCfg)
	dialer := connectors.NewStreamDialer(log, venueCfg, proto)

	resolver := NewResolver(log, table, rest, loc)
	names := instCfg.Instruments
	if len(names) == 0 {
		names = table.Names()
	}
	resolveCtx, cancel := context.WithTimeout(ctx, instCfg.ResolveTimeout)
	resolved, failed := resolver.ResolveAll(resolveCtx, names)
	cancel()

	manager := feed.NewManager(log, feed.GetConfig(), dialer, feed.WithStaleFunc(func(name string) time.Duration {
		if _, class, ok := table.Lookup(name); ok {
			return class.StaleAfter
		}
		return 0
	}))
	defer manager.Close()

	riskCfg := risk.GetConfig()
	holidays, err := risk.ParseHolidays(riskCfg.MarketHolidays)
	if err != nil {
		return fmt.Errorf("market holidays: %w", err)
	}
	calendar := risk.NewCalendar(loc, holidays)

	engine := poller.NewEngine(log, poller.GetConfig(), rest, manager, table, poller.WithCalendar(calendar, riskCfg.PollConfig()))
	defer engine.Stop()
	manager.OnInstrumentRemoved(engine.Remove)

	book := risk.NewBook(riskCfg.TotalCapital, riskCfg.MaxDailyLossPercent)
	pipe, err := pipeline.New(log, pipeline.GetConfig(), book, pipeline.WithBroker(rest), pipeline.WithInstruments(manager))
	if err != nil {
		log.WithError(err).Error("Failed to build pipeline")
		return err
	}
	manager.RegisterListener(pipe.Listener(ctx))

	if err := manager.Start(ctx, resolved); err != nil {
		return err
	}
	for name, cause := range failed {
		manager.Exclude(name, cause)
	}
	for _, inst := range resolved {
		engine.Add(ctx, inst)
	}

	app := NewApp(ctx, log, resolver, manager, engine, loc)
	go app.WatchExpiry(ctx, GetConfig().ExpiryCheckPeriod)
	go func() {
		if err := executors.StartLoop(ctx, manager, pipe); err != nil {
			log.WithError(err).Error("revalue loop stopped")
		}
	}()

	log.WithFields(logrus.Fields{
		"instruments": len(resolved),
		"excluded":    len(failed),
		"protocol":    version.String(),
		"mode":        pipe.Mode(),
	}).Info("live feed started")

	srvCfg := server.GetConfig()
	router := server.NewRouter(server.Deps{
		Market:    manager,
		Poller:    engine,
		Control:   app,
		Pipeline:  pipe,
		TokenHash: auth.GetConfig().ControlTokenHash,
	})
	return server.StartServer(ctx, srvCfg.Port, router, srvCfg.ShutdownTimeout)
}
