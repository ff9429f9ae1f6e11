package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agux/roscrape/internal/checker"
	"github.com/agux/roscrape/internal/conf"
	"github.com/agux/roscrape/internal/fetcher"
	"github.com/agux/roscrape/internal/logging"
	"github.com/agux/roscrape/internal/metrics"
	"github.com/agux/roscrape/internal/network"
	"github.com/agux/roscrape/internal/pool"
	"github.com/agux/roscrape/internal/scraper"
	"github.com/agux/roscrape/internal/types"
	"github.com/agux/roscrape/internal/ua"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logging.Logger

func main() {
	code := 0
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("unexpected failure: %+v", r)
			code = 1
		}
		logrus.Exit(code)
	}()

	log.Infof("config file used: %s", conf.ConfigFileUsed())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if e := run(ctx); e != nil {
		log.Error(e)
		code = 1
	}
}

func run(ctx context.Context) error {
	metrics.Serve(conf.Args.Metrics.Port)

	src, e := fetcher.FromConfig()
	if e != nil {
		return e
	}
	proxies, e := fetcher.Fetch(ctx, src)
	if e != nil {
		return errors.Wrap(e, "failed to load proxies")
	}
	if pb := conf.Args.Probe; pb.Enabled {
		timeout := time.Duration(pb.Timeout) * time.Second
		proxies = checker.Probe(ctx, proxies, pb.Size, timeout)
		if pb.EchoURL != "" {
			profile, e := ua.Lookup(conf.Args.Network.Profile)
			if e != nil {
				return e
			}
			proxies = checker.Relay(ctx, network.NewClient(profile, timeout), proxies, pb.Size, pb.EchoURL)
		}
	}

	doer, e := newDoer()
	if e != nil {
		return e
	}
	p := pool.New(proxies)
	items := conf.Args.Scraper.Items
	log.Infof("scraping %d item(s) through %d proxies", len(items), p.Size())

	s := scraper.New(p, doer, scraper.OptionsFromConfig())
	failed := 0
	for r := range s.Run(ctx, items) {
		if r.Err != nil {
			failed++
			log.WithField("item", r.Item).Errorf("%v", r.Err)
			continue
		}
		printProduct(os.Stdout, r.Product)
	}
	log.Infof("done: %d succeeded, %d failed, %d proxies left", len(items)-failed, failed, p.Size())
	if failed > 0 {
		return errors.Errorf("%d of %d item(s) failed", failed, len(items))
	}
	return nil
}

func printProduct(w io.Writer, p types.Product) {
	fmt.Fprintf(w, "Product Title: %s\n", p.Title)
	fmt.Fprintf(w, "Price Symbol: %s\n", p.Symbol)
	fmt.Fprintf(w, "Price Whole: %s\n", p.Whole)
	fmt.Fprintf(w, "Price Fraction: %s\n\n", p.Fraction)
}

func newDoer() (scraper.Doer, error) {
	nw := conf.Args.Network
	profile, e := ua.Lookup(nw.Profile)
	if e != nil {
		return nil, e
	}
	switch nw.Mode {
	case "", "http":
		return network.NewClient(profile, time.Duration(nw.HTTPTimeout)*time.Second,
			network.WithHeaders(nw.Headers),
			network.WithCookies(nw.Cookies),
			network.WithInsecureSkipVerify(nw.InsecureSkipVerify),
		), nil
	case "browser":
		wd := conf.Args.WebDriver
		return network.NewBrowser(profile, time.Duration(wd.Timeout)*time.Second,
			wd.Headless, wd.NoImage, nw.Headers), nil
	default:
		return nil, errors.Errorf("unsupported network mode %q, expected 'http' or 'browser'", nw.Mode)
	}
}
