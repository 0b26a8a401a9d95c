package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/pders01/crossread/internal/catalog"
	"github.com/pders01/crossread/internal/catalog/anilist"
	"github.com/pders01/crossread/internal/config"
	"github.com/pders01/crossread/internal/debuglog"
	"github.com/pders01/crossread/internal/history"
	"github.com/pders01/crossread/internal/launcher"
	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/provider/feed"
	"github.com/pders01/crossread/internal/provider/mangadex"
	"github.com/pders01/crossread/internal/provider/site"
	"github.com/pders01/crossread/internal/reconcile"
	"github.com/pders01/crossread/internal/resolve"
	"github.com/pders01/crossread/internal/search"
	"github.com/pders01/crossread/internal/searchcache"
	"github.com/pders01/crossread/internal/storage"
	"github.com/pders01/crossread/internal/tui"
	"github.com/pders01/crossread/internal/validation"
)

type commandContext struct {
	configFlag   string
	dbFlag       string
	logLevelFlag string
	verboseFlag  bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	buildCatalog   func(*config.Config) catalog.Source
	buildProviders func(*config.Config) (*provider.Registry, error)
	openURL        func(*config.Config, string) error
}

func newCommandContext() *commandContext {
	return &commandContext{
		buildCatalog:   defaultCatalog,
		buildProviders: defaultProviders,
		openURL:        defaultOpenURL,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(strings.TrimSpace(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if c.dbFlag != "" {
			cfg.Database.Path = c.dbFlag
		}
		if err := c.setupLogging(cfg); err != nil {
			c.configErr = err
			return
		}
		tui.ApplyColors(cfg.UI.Colors)
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) setupLogging(cfg *config.Config) error {
	if c.verboseFlag {
		debuglog.SetOutput(debuglog.LevelDebug, os.Stderr)
		return nil
	}
	level := cfg.Log.Level
	if c.logLevelFlag != "" {
		level = c.logLevelFlag
	}
	if err := debuglog.Setup(debuglog.ParseLogLevel(level), cfg.Log.File); err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	return nil
}

// services is everything a command needs, opened once per invocation.
type services struct {
	cfg      *config.Config
	store    *storage.Store
	ledger   *history.Ledger
	registry *provider.Registry
	catalog  catalog.Source
	cache    *searchcache.Cache
	engine   *reconcile.Engine
	resolver *resolve.Resolver
	index    *search.BleveEngine
}

func (c *commandContext) withServices(fn func(*services) error) error {
	s, err := c.openServices()
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func (c *commandContext) openServices() (*services, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	registry, err := c.buildProviders(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &services{
		cfg:      cfg,
		store:    store,
		ledger:   history.New(store),
		registry: registry,
		catalog:  c.buildCatalog(cfg),
		cache:    searchcache.New(cfg.Cache.TTL, searchcache.WithPrefetchWorkers(cfg.Cache.PrefetchWorkers)),
	}
	s.engine = reconcile.New(store, s.ledger, s.catalog, registry)

	if cfg.Database.SearchIndex != "" {
		idx, err := search.NewBleveEngine(store, cfg.Database.SearchIndex)
		if err != nil {
			debuglog.Warnf("library index unavailable, using direct scan: %v", err)
		} else {
			s.index = idx
			s.ledger.AddListener(idx)
			s.engine.AddListener(idx)
		}
	}

	s.resolver = resolve.New(resolve.Deps{
		Store:     store,
		Catalog:   s.catalog,
		Providers: registry,
		Cache:     s.cache,
		Engine:    s.engine,
	}, resolve.WithMatching(cfg.Matching))
	return s, nil
}

// Close waits for background prefetches, then releases the index and the
// database.
func (s *services) Close() error {
	s.resolver.Wait()
	var errs []error
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	errs = append(errs, s.store.Close())
	return errors.Join(errs...)
}

func (s *services) searcher() search.Searcher {
	if s.index != nil {
		return s.index
	}
	return search.NewEngine(s.store)
}

// providerNames returns the --providers selection, or the enabled list.
func (s *services) providerNames(flag []string) []string {
	if len(flag) > 0 {
		return flag
	}
	return s.cfg.Providers.Enabled
}

// chapters fetches the chapter list of the series keys point at.
func (s *services) chapters(ctx context.Context, keys history.Keys) ([]provider.Chapter, error) {
	if keys.Provider == "" || keys.ProviderSeriesID == "" {
		return nil, errors.New("chapter lists need --provider and --provider-id")
	}
	p, err := s.registry.Get(keys.Provider)
	if err != nil {
		return nil, err
	}
	entry, err := p.Details(ctx, keys.ProviderSeriesID)
	if err != nil {
		return nil, fmt.Errorf("fetching chapters: %w", err)
	}
	return entry.Chapters, nil
}

func defaultCatalog(cfg *config.Config) catalog.Source {
	return anilist.New(cfg.Catalog.Endpoint, cfg.Catalog.Token, cfg.Catalog.Timeout)
}

func defaultProviders(cfg *config.Config) (*provider.Registry, error) {
	client := provider.NewClient(cfg.Providers.HTTPTimeout, cfg.Providers.UserAgent)
	validator := validation.NewSourceURLValidator()
	if cfg.Providers.AllowLocal {
		validator = validation.NewPermissiveSourceURLValidator()
	}

	registry := provider.NewRegistry()
	registry.Register(mangadex.New(client, cfg.Providers.MangaDex.APIURL, cfg.Providers.MangaDex.Language))
	for _, sc := range cfg.Providers.Sites {
		p, err := site.New(sc, client, validator)
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}
	for _, fc := range cfg.Providers.Feeds {
		registry.Register(feed.New(fc, client))
	}
	return registry, nil
}

func defaultOpenURL(cfg *config.Config, rawURL string) error {
	return launcher.New(cfg.UI.Opener).Open(rawURL)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
