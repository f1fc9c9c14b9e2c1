// Command pagesim loads a rendered page, runs the ad page runtime against it
// and reports the visitor state afterwards. It exercises rotation and the
// configured tracking channels without a browser.
//
//	pagesim -page index.html -for 20s -click 12
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	app "ad-decision-engine/internal/app/server"
	"ad-decision-engine/internal/config"
	"ad-decision-engine/internal/dom"
	"ad-decision-engine/internal/page"
	"ad-decision-engine/internal/tracking"
)

func main() {
	path := flag.String("page", "", "rendered HTML page")
	dur := flag.Duration("for", 10*time.Second, "how long to keep the page open")
	click := flag.String("click", "", "tracking id of an ad to click after load")
	ref := flag.String("referrer", "", "document referrer")
	flag.Parse()

	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	if *path == "" {
		flag.Usage()
		os.Exit(2)
	}

	fh, err := os.Open(*path)
	if err != nil {
		log.Fatal().Err(err).Msg("open page")
	}
	doc, err := dom.Parse(fh)
	fh.Close()
	if err != nil {
		log.Fatal().Err(err).Msg("parse page")
	}

	rt := page.New(doc, app.PageOptions(cfg), page.Deps{
		Channels: app.Channels(cfg.Tracking),
		Navigator: tracking.NavigatorFunc(func(href string) {
			log.Info().Str("href", href).Msg("navigate")
		}),
	})

	ctx := context.Background()
	if err := rt.Ready(ctx, page.Visit{Referrer: *ref}); err != nil {
		log.Fatal().Err(err).Msg("page ready")
	}
	if *click != "" {
		clickAd(doc, *click)
	}

	time.Sleep(*dur)
	rt.Coordinator().Wait()
	rt.Unload()

	st := rt.State().Snapshot(ctx)
	fmt.Printf("site impressions: %d\nad impressions: %v\nad clicks: %v\n",
		st.SiteImpressions, st.AdImpressions, st.AdClicks)
}

func clickAd(doc *dom.Document, id string) {
	els := doc.FindAll(func(e *dom.Element) bool {
		v, _ := e.Attr(tracking.AttrTrackingID)
		return v == id
	})
	if len(els) == 0 {
		log.Warn().Str("ad_id", id).Msg("ad not on page")
		return
	}
	target := els[0]
	if links := target.FindAll(func(e *dom.Element) bool { return e.Tag() == "a" }); len(links) > 0 {
		target = links[0]
	}
	prevented := target.Dispatch(&dom.Event{Type: "click"})
	log.Info().Str("ad_id", id).Bool("deferred", prevented).Msg("clicked")
}
