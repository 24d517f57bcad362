package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	jsonOutput bool
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "farewatch",
		Short:         "Track open-jaw flight prices and alert on drops",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	root.AddCommand(trackCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(bestCmd())
	root.AddCommand(recentCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(itineraryCmd())
	root.AddCommand(hotelsCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func trackCmd() *cobra.Command {
	var report bool

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Sweep the date window once and record prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(cmd, report)
		},
	}

	cmd.Flags().BoolVar(&report, "report", false, "send the daily report after the sweep")
	return cmd
}

func historyCmd() *cobra.Command {
	var departure, ret string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show every price seen for a date pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, departure, ret)
		},
	}

	cmd.Flags().StringVar(&departure, "departure", "", "departure date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&ret, "return", "", "return date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("departure")
	cmd.MarkFlagRequired("return")
	return cmd
}

func bestCmd() *cobra.Command {
	var (
		date    string
		rebuild bool
	)

	cmd := &cobra.Command{
		Use:   "best",
		Short: "Show the best price recorded on a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBest(cmd, date, rebuild)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "checked date (default: today)")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "re-derive the day's best from recorded prices")
	return cmd
}

func recentCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show the most recently recorded prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecent(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max rows to show")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		id     int64
		output string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one recorded observation with its flight data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, id, output, format)
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "observation id")
	cmd.Flags().StringVar(&output, "output", "", "output file (default: stdout)")
	cmd.Flags().StringVar(&format, "format", "json", "json or csv")
	cmd.MarkFlagRequired("id")
	return cmd
}

func itineraryCmd() *cobra.Command {
	var departure, ret string

	cmd := &cobra.Command{
		Use:   "itinerary",
		Short: "Recommend which city to visit first",
		Long:  "Without dates, plans every date pair in the configured window.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItinerary(cmd, departure, ret)
		},
	}

	cmd.Flags().StringVar(&departure, "departure", "", "departure date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&ret, "return", "", "return date (YYYY-MM-DD)")
	cmd.MarkFlagsRequiredTogether("departure", "return")
	return cmd
}

func hotelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hotels",
		Short: "Record and list hotel prices",
	}
	cmd.AddCommand(hotelsRecordCmd())
	cmd.AddCommand(hotelsListCmd())
	cmd.AddCommand(hotelsPlanCmd())
	return cmd
}

func hotelsRecordCmd() *cobra.Command {
	var h hotelArgs

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a hotel quote",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHotelsRecord(cmd, h)
		},
	}

	cmd.Flags().StringVar(&h.city, "city", "", "city key (e.g. washington_dc)")
	cmd.Flags().StringVar(&h.checkIn, "check-in", "", "check-in date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&h.checkOut, "check-out", "", "check-out date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&h.name, "hotel", "", "hotel name")
	cmd.Flags().StringVar(&h.perNight, "price-per-night", "", "nightly price")
	cmd.Flags().StringVar(&h.currency, "currency", "USD", "currency code")
	for _, f := range []string{"city", "check-in", "check-out", "hotel", "price-per-night"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func hotelsListCmd() *cobra.Command {
	var city, checkIn, checkOut string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List hotel quotes for a stay, cheapest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHotelsList(cmd, city, checkIn, checkOut)
		},
	}

	cmd.Flags().StringVar(&city, "city", "", "city key")
	cmd.Flags().StringVar(&checkIn, "check-in", "", "check-in date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&checkOut, "check-out", "", "check-out date (YYYY-MM-DD)")
	for _, f := range []string{"city", "check-in", "check-out"} {
		cmd.MarkFlagRequired(f)
	}
	return cmd
}

func hotelsPlanCmd() *cobra.Command {
	var departure string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the hotel stays for a departure date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHotelsPlan(cmd, departure)
		},
	}

	cmd.Flags().StringVar(&departure, "departure", "", "departure date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("departure")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
