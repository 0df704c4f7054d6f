package di

import (
	"log/slog"

	"github.com/anthill-platform/anthill-market/internal/access"
	"github.com/anthill-platform/anthill-market/internal/api"
	"github.com/anthill-platform/anthill-market/internal/clock"
	"github.com/anthill-platform/anthill-market/internal/config"
	"github.com/anthill-platform/anthill-market/internal/market"
	"github.com/anthill-platform/anthill-market/internal/metrics"
	"github.com/anthill-platform/anthill-market/internal/notify"
	"github.com/anthill-platform/anthill-market/internal/storage/relationaldb"
)

// Provider configures and registers services in the container.
type Provider struct {
	container *Container
	config    *config.Config
	logger    *slog.Logger
	version   string
}

// NewProvider creates a new service provider.
func NewProvider(container *Container, cfg *config.Config, logger *slog.Logger, version string) *Provider {
	return &Provider{
		container: container,
		config:    cfg,
		logger:    logger,
		version:   version,
	}
}

// RegisterAll registers all services. Construction is lazy; nothing
// opens a connection until first resolved.
func (p *Provider) RegisterAll() {
	p.container.Register(ServiceConfig, p.config)
	p.container.Register(ServiceLogger, p.logger)
	p.container.Register(ServiceMetrics, metrics.New())

	p.registerStorage()
	p.registerNotify()
	p.registerEngine()
	p.registerAPI()
}

func (p *Provider) metrics() *metrics.Metrics {
	return p.container.MustGet(ServiceMetrics).(*metrics.Metrics)
}

func (p *Provider) store() market.Store {
	return p.container.MustGet(ServiceStore).(market.Store)
}

func (p *Provider) notifier() market.Notifier {
	return p.container.MustGet(ServiceNotifier).(market.Notifier)
}

func (p *Provider) registerStorage() {
	p.container.RegisterBuilder(ServiceStore, func(c *Container) (interface{}, error) {
		return relationaldb.NewManager(&p.config.Database, p.logger)
	})
}

func (p *Provider) registerNotify() {
	p.container.RegisterBuilder(ServiceHub, func(c *Container) (interface{}, error) {
		if !p.config.Notify.Websocket {
			return (*notify.Hub)(nil), nil
		}
		return notify.NewHub(p.logger, p.metrics()), nil
	})

	p.container.RegisterBuilder(ServiceOutbox, func(c *Container) (interface{}, error) {
		if p.config.Notify.OutboxPath == "" || p.config.Notify.Mode != "webhook" {
			return (*notify.Outbox)(nil), nil
		}
		webhook := notify.NewWebhook(
			p.config.Notify.WebhookURL, p.config.Notify.WebhookTimeout, p.logger, p.metrics())
		return notify.NewOutbox(
			p.config.Notify.OutboxPath, webhook, p.config.Notify.DrainInterval, p.logger)
	})

	p.container.RegisterBuilder(ServiceNotifier, func(c *Container) (interface{}, error) {
		var base market.Notifier
		if outbox := c.MustGet(ServiceOutbox).(*notify.Outbox); outbox != nil {
			base = outbox
		} else if p.config.Notify.Mode == "webhook" {
			base = notify.NewWebhook(
				p.config.Notify.WebhookURL, p.config.Notify.WebhookTimeout, p.logger, p.metrics())
		} else {
			base = notify.NewLog(p.logger, p.metrics())
		}

		if hub := c.MustGet(ServiceHub).(*notify.Hub); hub != nil {
			return notify.Multi{base, hub}, nil
		}
		return base, nil
	})
}

func (p *Provider) registerEngine() {
	p.container.RegisterBuilder(ServiceLedger, func(c *Container) (interface{}, error) {
		return market.NewLedger(p.store(), p.logger), nil
	})

	p.container.RegisterBuilder(ServiceJournal, func(c *Container) (interface{}, error) {
		return market.NewJournal(p.store(), p.logger), nil
	})

	p.container.RegisterBuilder(ServiceOrders, func(c *Container) (interface{}, error) {
		ledger := c.MustGet(ServiceLedger).(*market.Ledger)
		return market.NewOrders(
			p.store(), ledger, p.notifier(), p.metrics(),
			clock.System{}, p.config.Market.MaxOrderLifetime, p.logger), nil
	})

	p.container.RegisterBuilder(ServiceMatcher, func(c *Container) (interface{}, error) {
		ledger := c.MustGet(ServiceLedger).(*market.Ledger)
		journal := c.MustGet(ServiceJournal).(*market.Journal)
		return market.NewMatcher(
			p.store(), ledger, journal, p.notifier(), p.metrics(),
			clock.System{}, p.logger), nil
	})

	p.container.RegisterBuilder(ServiceRegistry, func(c *Container) (interface{}, error) {
		return market.NewMarketRegistry(p.store(), p.config.Market.CacheSize, p.logger)
	})

	p.container.RegisterBuilder(ServiceReaper, func(c *Container) (interface{}, error) {
		orders := c.MustGet(ServiceOrders).(*market.Orders)
		return market.NewReaper(
			p.store(), orders, clock.System{}, p.config.Market.ReapInterval, p.logger), nil
	})
}

func (p *Provider) registerAPI() {
	p.container.RegisterBuilder(ServiceSigner, func(c *Container) (interface{}, error) {
		return access.NewSigner(p.config.Auth.Secret)
	})

	p.container.RegisterBuilder(ServiceAPI, func(c *Container) (interface{}, error) {
		return api.NewServer(api.Options{
			Config:   p.config.API,
			Logger:   p.logger,
			Signer:   c.MustGet(ServiceSigner).(*access.Signer),
			Clock:    clock.System{},
			Metrics:  p.metrics(),
			Version:  p.version,
			Registry: c.MustGet(ServiceRegistry).(*market.MarketRegistry),
			Ledger:   c.MustGet(ServiceLedger).(*market.Ledger),
			Orders:   c.MustGet(ServiceOrders).(*market.Orders),
			Matcher:  c.MustGet(ServiceMatcher).(*market.Matcher),
			Journal:  c.MustGet(ServiceJournal).(*market.Journal),
			Hub:      c.MustGet(ServiceHub).(*notify.Hub),
		}), nil
	})
}
