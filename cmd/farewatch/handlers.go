package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elonfeng/farewatch/internal/config"
	"github.com/elonfeng/farewatch/internal/logging"
	"github.com/elonfeng/farewatch/internal/scheduler"
	"github.com/elonfeng/farewatch/internal/store"
	"github.com/elonfeng/farewatch/internal/tracker"
	"github.com/elonfeng/farewatch/pkg/alert"
	"github.com/elonfeng/farewatch/pkg/flight"
	"github.com/elonfeng/farewatch/pkg/itinerary"
	"github.com/elonfeng/farewatch/pkg/pricing"
	"github.com/elonfeng/farewatch/pkg/server"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// setup loads config and opens the store. Sweeping commands pass
// validate so a half-configured trip fails before any search.
func setup(validate bool) (*config.Config, *store.SQLiteStore, *slog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	log := logging.New(os.Stderr, cfg.Logging)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, db, log, nil
}

func filterRules(cfg *config.Config) flight.Rules {
	pairs := make([][2][]string, len(cfg.Preferences.NonstopOnlyPairs))
	for i, p := range cfg.Preferences.NonstopOnlyPairs {
		pairs[i] = [2][]string{p.A, p.B}
	}
	return flight.Rules{
		Origin:                cfg.Trip.Origin,
		DestinationAirports:   cfg.Trip.AllAirports(),
		NoRedEyes:             cfg.Preferences.NoRedEyes,
		RedEyeDepartureBefore: cfg.Preferences.RedEyeDepartureBefore,
		RedEyeArrivalAfter:    cfg.Preferences.RedEyeArrivalAfter,
		NonstopRequired:       cfg.Preferences.NonstopRequired,
		MaxStops:              cfg.Preferences.MaxStops,
		NonstopOnlyPairs:      pairs,
	}
}

func buildProvider(cfg *config.Config, log *slog.Logger) (flight.Provider, error) {
	api, err := flight.NewAmadeus(flight.AmadeusOptions{
		APIKey:    cfg.Provider.Amadeus.APIKey,
		APISecret: cfg.Provider.Amadeus.APISecret,
		Env:       cfg.Provider.Amadeus.Env,
		BaseURL:   cfg.Provider.Amadeus.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	searcher := flight.WithRetry(api, flight.RetryPolicy{
		MaxAttempts:     cfg.Provider.Retry.MaxAttempts,
		InitialInterval: cfg.Provider.Retry.ParseInitialInterval(),
		MaxInterval:     cfg.Provider.Retry.ParseMaxInterval(),
	}, log)

	filter, err := flight.NewFilter(filterRules(cfg))
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}

	routes := make([]flight.Route, 0, len(cfg.Trip.OpenJaw))
	for _, o := range cfg.Trip.OpenJaw {
		routes = append(routes, flight.Route{
			InboundAirports:  cfg.Trip.Destinations[o.Inbound],
			OutboundAirports: cfg.Trip.Destinations[o.Outbound],
			Description:      o.Description,
		})
	}

	return flight.NewOpenJaw(searcher, filter, cfg.Trip.Origin, routes, cfg.Provider.Combinations, log), nil
}

func buildAlertManager(cfg *config.Config) (*alert.Manager, error) {
	var notifiers []alert.Notifier

	if e := cfg.Alerts.Email; e.Enabled {
		email, err := alert.NewEmail(alert.EmailOptions{
			Server:    e.Server,
			Port:      e.Port,
			Sender:    e.Sender,
			Password:  e.Password,
			Recipient: e.Recipient,
		})
		if err != nil {
			return nil, fmt.Errorf("email alerts: %w", err)
		}
		notifiers = append(notifiers, email)
	}
	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers), nil
}

func buildTracker(cfg *config.Config, db *store.SQLiteStore, log *slog.Logger) (*tracker.Tracker, error) {
	provider, err := buildProvider(cfg, log)
	if err != nil {
		return nil, err
	}
	alerts, err := buildAlertManager(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := pricing.NewAlertPolicy(cfg.Alerts.Threshold())
	if err != nil {
		return nil, err
	}
	if !alerts.HasNotifiers() {
		log.Info("no notifiers configured, price drops will only be logged")
	}

	return tracker.New(db, provider, alerts, tracker.Options{
		Window: tracker.Window{
			Start:        store.Date(cfg.Trip.Window.Start),
			End:          store.Date(cfg.Trip.Window.End),
			DurationDays: cfg.Trip.TripDurationDays,
		},
		Adults: cfg.Trip.Adults,
		Policy: policy,
		Logger: log,
	}), nil
}

// buildSuggestor plans with the first open-jaw option's cities. With the
// bloom feed enabled the calendar is refreshed first; a feed failure only
// leaves the built-in dates in place.
func buildSuggestor(ctx context.Context, cfg *config.Config, db *store.SQLiteStore, log *slog.Logger) (*itinerary.Suggestor, error) {
	if len(cfg.Trip.OpenJaw) == 0 {
		return nil, errors.New("trip.open_jaw needs at least one option")
	}
	first := cfg.Trip.OpenJaw[0]
	cities := []itinerary.City{
		{Name: first.Inbound, Airports: cfg.Trip.Destinations[first.Inbound]},
		{Name: first.Outbound, Airports: cfg.Trip.Destinations[first.Outbound]},
	}

	cal := itinerary.NewCalendar()
	if cfg.Bloom.Enabled && cfg.Bloom.FeedURL != "" {
		if _, err := itinerary.NewFeedRefresher(cfg.Bloom.FeedURL, cal, log).Refresh(ctx); err != nil {
			log.Warn("bloom feed refresh failed, using built-in dates", "err", err)
		}
	}

	return itinerary.NewSuggestor(db, cal, itinerary.Options{
		Cities:    cities,
		BloomCity: cfg.Bloom.City,
		SplitDays: cfg.Trip.ItinerarySplitDays,
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runTrack(cmd *cobra.Command, report bool) error {
	cfg, db, log, err := setup(true)
	if err != nil {
		return err
	}
	defer db.Close()

	t, err := buildTracker(cfg, db, log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	rep, err := t.Sweep(ctx)
	if err == nil && report {
		if rerr := t.SendDailyReport(ctx, rep); rerr != nil {
			log.Error("daily report failed", "err", rerr)
		}
	}
	if rep != nil {
		if perr := printReport(cmd.OutOrStdout(), rep); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("sweep aborted: %w", err)
	}
	return nil
}

func runHistory(cmd *cobra.Command, departure, ret string) error {
	key, err := parseRouteKey(departure, ret)
	if err != nil {
		return err
	}
	_, db, _, err := setup(false)
	if err != nil {
		return err
	}
	defer db.Close()

	obs, err := db.QueryHistory(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("query history: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), obs)
	}
	if len(obs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no prices recorded for %s (try: farewatch track)\n", key)
		return nil
	}
	return printObservations(cmd.OutOrStdout(), obs)
}

func runBest(cmd *cobra.Command, date string, rebuild bool) error {
	day := store.DateOf(time.Now())
	if date != "" {
		d, err := store.ParseDate(date)
		if err != nil {
			return err
		}
		day = d
	}
	_, db, _, err := setup(false)
	if err != nil {
		return err
	}
	defer db.Close()

	var best *store.DailyBest
	if rebuild {
		best, err = db.RebuildDailyBest(cmd.Context(), day)
	} else {
		best, err = db.GetDailyBest(cmd.Context(), day)
	}
	if err != nil {
		return fmt.Errorf("daily best %s: %w", day, err)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), best)
	}
	if best == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "no prices recorded on %s\n", day)
		return nil
	}
	return printDailyBest(cmd.OutOrStdout(), best)
}

func runRecent(cmd *cobra.Command, limit int) error {
	_, db, _, err := setup(false)
	if err != nil {
		return err
	}
	defer db.Close()

	obs, err := db.QueryRecent(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("query recent: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), obs)
	}
	if len(obs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no prices recorded yet (try: farewatch track)")
		return nil
	}
	return printObservations(cmd.OutOrStdout(), obs)
}

func runExport(cmd *cobra.Command, id int64, output, format string) error {
	if format != "json" && format != "csv" {
		return fmt.Errorf("unknown export format %q (json or csv)", format)
	}
	_, db, _, err := setup(false)
	if err != nil {
		return err
	}
	defer db.Close()

	o, err := db.GetObservation(cmd.Context(), id)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}

	if format == "csv" {
		err = exportCSV(w, o)
	} else {
		err = printJSON(w, o)
	}
	if err != nil {
		return fmt.Errorf("export observation %d: %w", id, err)
	}
	if output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "exported observation %d to %s\n", id, output)
	}
	return nil
}

func runItinerary(cmd *cobra.Command, departure, ret string) error {
	cfg, db, log, err := setup(false)
	if err != nil {
		return err
	}
	defer db.Close()

	var pairs []store.RouteKey
	if departure != "" {
		key, err := parseRouteKey(departure, ret)
		if err != nil {
			return err
		}
		pairs = []store.RouteKey{key}
	} else {
		pairs, err = tracker.DatePairs(store.Date(cfg.Trip.Window.Start), store.Date(cfg.Trip.Window.End), cfg.Trip.TripDurationDays)
		if err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	sg, err := buildSuggestor(ctx, cfg, db, log)
	if err != nil {
		return err
	}

	var all []*itinerary.Suggestion
	for _, key := range pairs {
		s, err := sg.Suggest(ctx, key.Departure, key.Return)
		if err != nil {
			return err
		}
		all = append(all, s)
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), all)
	}
	for _, s := range all {
		printSuggestion(cmd.OutOrStdout(), s)
	}
	return nil
}

type hotelArgs struct {
	city, checkIn, checkOut, name, perNight, currency string
}

func runHotelsRecord(cmd *cobra.Command, h hotelArgs) error {
	key, err := parseRouteKey(h.checkIn, h.checkOut)
	if err != nil {
		return err
	}
	nights := int(key.Return.Time().Sub(key.Departure.Time()).Hours() / 24)
	if nights <= 0 {
		return errors.New("check-out must be after check-in")
	}
	perNight, err := decimal.NewFromString(h.perNight)
	if err != nil || perNight.IsNegative() {
		return fmt.Errorf("invalid price per night %q", h.perNight)
	}

	_, db, _, err := setup(false)
	if err != nil {
		return err
	}
	defer db.Close()

	obs := &store.HotelObservation{
		City:          h.city,
		CheckInDate:   key.Departure,
		CheckOutDate:  key.Return,
		HotelName:     h.name,
		PricePerNight: perNight,
		TotalPrice:    perNight.Mul(decimal.NewFromInt(int64(nights))),
		Currency:      h.currency,
	}
	id, err := db.SaveHotelObservation(cmd.Context(), obs)
	if err != nil {
		return fmt.Errorf("record hotel: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), obs)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recorded %s in %s: %d nights, %s total (id %d)\n",
		h.name, h.city, nights, money(obs.Currency, obs.TotalPrice), id)
	return nil
}

func runHotelsList(cmd *cobra.Command, city, checkIn, checkOut string) error {
	key, err := parseRouteKey(checkIn, checkOut)
	if err != nil {
		return err
	}
	_, db, _, err := setup(false)
	if err != nil {
		return err
	}
	defer db.Close()

	hotels, err := db.ListHotelObservations(cmd.Context(), city, key.Departure, key.Return)
	if err != nil {
		return fmt.Errorf("list hotels: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), hotels)
	}
	if len(hotels) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no hotel prices recorded for %s %s\n", city, key)
		return nil
	}
	return printHotels(cmd.OutOrStdout(), hotels)
}

func runHotelsPlan(cmd *cobra.Command, departure string) error {
	dep, err := store.ParseDate(departure)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	stays, err := itinerary.HotelStays(dep, cfg.Trip.TripDurationDays, cfg.Trip.ItinerarySplitDays)
	if err != nil {
		return err
	}
	if len(cfg.Trip.OpenJaw) > 0 {
		stays[0].City = cfg.Trip.OpenJaw[0].Inbound
		stays[1].City = cfg.Trip.OpenJaw[0].Outbound
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), stays)
	}
	for _, s := range stays {
		fmt.Fprintf(cmd.OutOrStdout(), "%-15s %s → %s (%d nights)\n", s.City, s.CheckIn, s.CheckOut, s.Nights)
	}
	return nil
}

// buildServer wires the API. Without provider credentials the server still
// serves history, and tracking is disabled.
func buildServer(ctx context.Context, cfg *config.Config, db *store.SQLiteStore, log *slog.Logger, t *tracker.Tracker, port int) (*server.Server, error) {
	if port == 0 {
		port = cfg.Server.Port
	}
	sg, err := buildSuggestor(ctx, cfg, db, log)
	if err != nil {
		return nil, err
	}

	var tr server.Tracker
	if t != nil {
		tr = t
	}
	return server.New(db, tr, sg, port, log), nil
}

func runServe(port int) error {
	cfg, db, log, err := setup(false)
	if err != nil {
		return err
	}
	defer db.Close()

	t, err := buildTracker(cfg, db, log)
	if err != nil {
		log.Warn("tracking endpoint disabled", "err", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv, err := buildServer(ctx, cfg, db, log, t, port)
	if err != nil {
		return err
	}
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDaemon(cmd *cobra.Command, port int) error {
	cfg, db, log, err := setup(true)
	if err != nil {
		return err
	}
	defer db.Close()

	t, err := buildTracker(cfg, db, log)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv, err := buildServer(ctx, cfg, db, log, t, port)
	if err != nil {
		return err
	}

	sched := scheduler.New(t, cfg.Schedule.ParseSweepInterval(), log)
	sched.OnSweep(func(rep *tracker.Report, _ error) {
		if rep == nil {
			return
		}
		if err := printReport(cmd.OutOrStdout(), rep); err != nil {
			log.Error("print sweep report", "err", err)
		}
	})

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("scheduler error", "err", err)
		}
	}()

	err = srv.ListenAndServe(ctx)
	log.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func parseRouteKey(departure, ret string) (store.RouteKey, error) {
	dep, err := store.ParseDate(departure)
	if err != nil {
		return store.RouteKey{}, err
	}
	r, err := store.ParseDate(ret)
	if err != nil {
		return store.RouteKey{}, err
	}
	if r < dep {
		return store.RouteKey{}, fmt.Errorf("%s is before %s", r, dep)
	}
	return store.RouteKey{Departure: dep, Return: r}, nil
}
