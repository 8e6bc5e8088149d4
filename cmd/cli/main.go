package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"eventscatalog/internal/catalog"
	"eventscatalog/internal/client"
	"eventscatalog/internal/server"
	"eventscatalog/internal/stress"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultServerURL = "http://localhost:8080"

var (
	serverURL = getEnv("SERVER_URL", defaultServerURL)
	locale    string
	timeout   time.Duration
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func newClient() *client.Client {
	return client.New(serverURL, timeout)
}

var rootCmd = &cobra.Command{
	Use:   "eventscatalog-cli",
	Short: "CLI for querying an events catalog server",
	Long: `Search, inspect and aggregate Microsoft events through a running
eventscatalog server. Filters use the option-string form "topic:ai,region:europe".`,
	SilenceUsage: true,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search events by free text and filters",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := client.SearchParams{Locale: locale}
		if len(args) == 1 {
			p.Query = args[0]
		}
		p.Filters, _ = cmd.Flags().GetString("filters")
		p.Limit, _ = cmd.Flags().GetInt("limit")
		res, err := newClient().Search(cmd.Context(), p)
		if err != nil {
			return err
		}
		printResponse("Search", res)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <event-id>",
	Short: "Show one event including its raw content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Get(cmd.Context(), locale, args[0])
		if err != nil {
			return err
		}
		printResponse("Get", res)
		return nil
	},
}

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "List filter categories and values with counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Filters(cmd.Context(), locale)
		if err != nil {
			return err
		}
		printResponse("Filters", res)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate filtered events by dimension",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := client.StatsParams{Locale: locale}
		p.Filters, _ = cmd.Flags().GetString("filters")
		p.Dimensions, _ = cmd.Flags().GetString("dimensions")
		p.Limit, _ = cmd.Flags().GetInt("limit")
		res, err := newClient().Stats(cmd.Context(), p)
		if err != nil {
			return err
		}
		printResponse("Stats", res)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the server over REST and the gRPC health service",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newClient().Health(cmd.Context())
		if err != nil {
			return err
		}
		printResponse("Health", h)

		u, err := url.Parse(serverURL)
		if err != nil {
			return fmt.Errorf("invalid server url: %w", err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		status, err := client.CheckHealth(ctx, u.Host, server.ServiceName)
		if err != nil {
			return err
		}
		fmt.Printf("gRPC health (%s): %s\n", server.ServiceName, status)
		return nil
	},
}

// interactCmd triggers the interactive mode
var interactCmd = &cobra.Command{
	Use:   "interact",
	Short: "Query the server interactively",
	Run: func(cmd *cobra.Command, args []string) {
		runInteractive(cmd.Context())
	},
}

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run concurrent read load against the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := stress.Config{Locale: locale}
		cfg.Duration, _ = cmd.Flags().GetDuration("duration")
		cfg.Concurrency, _ = cmd.Flags().GetInt("concurrency")
		cfg.Delay, _ = cmd.Flags().GetDuration("delay")
		cfg.Queries, _ = cmd.Flags().GetStringSlice("queries")

		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer logger.Sync()

		log.Printf("Starting stress test for %v with %d workers per operation, targeting %s", cfg.Duration, cfg.Concurrency, serverURL)
		rep := stress.Run(cmd.Context(), newClient(), cfg, logger)
		printReport(rep)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", serverURL, "catalog server base URL (env SERVER_URL)")
	rootCmd.PersistentFlags().StringVarP(&locale, "locale", "l", "", "locale, e.g. en-us (server default when empty)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 90*time.Second, "HTTP timeout; the first query for a locale waits for the upstream fetch")

	searchCmd.Flags().StringP("filters", "f", "", `filters, e.g. "topic:ai,region:europe"`)
	searchCmd.Flags().IntP("limit", "n", 0, "maximum events to return (0 = all)")

	statsCmd.Flags().StringP("filters", "f", "", "filters applied before aggregation")
	statsCmd.Flags().StringP("dimensions", "d", "", `dimensions, e.g. "country,topic" (default country,city,format,topic)`)
	statsCmd.Flags().IntP("limit", "n", 20, "top entries per dimension (0 = all)")

	stressCmd.Flags().Duration("duration", stress.DefaultDuration, "test duration")
	stressCmd.Flags().Int("concurrency", stress.DefaultConcurrency, "workers per operation")
	stressCmd.Flags().Duration("delay", stress.DefaultDelay, "pause between requests of one worker")
	stressCmd.Flags().StringSlice("queries", nil, "search queries to rotate through")

	rootCmd.AddCommand(searchCmd, getCmd, filtersCmd, statsCmd, healthCmd, interactCmd, stressCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute CLI: %v", err)
	}
}

// runInteractive handles the interactive CLI flow
func runInteractive(ctx context.Context) {
	c := newClient()
	for {
		action := selectAction()
		if action == "exit" || action == "" {
			fmt.Println("Exiting...")
			return
		}

		var (
			res any
			err error
		)
		switch action {
		case "search":
			p := client.SearchParams{Locale: locale}
			p.Query = promptInput("Search text (empty for all):", "")
			p.Filters = promptFilters(ctx, c)
			p.Limit, _ = strconv.Atoi(promptInput("Limit (0 = all):", "20"))
			res, err = c.Search(ctx, p)
		case "get":
			id := promptInput("Event ID:", "")
			if id == "" {
				continue
			}
			res, err = c.Get(ctx, locale, id)
		case "filters":
			res, err = c.Filters(ctx, locale)
		case "stats":
			p := client.StatsParams{Locale: locale, Limit: 20}
			p.Filters = promptFilters(ctx, c)
			p.Dimensions = strings.Join(promptDimensions(), ",")
			res, err = c.Stats(ctx, p)
		case "locale":
			locale = catalog.NormalizeLocale(promptInput("Locale:", locale))
			continue
		}
		if err != nil {
			log.Printf("Request failed: %v", err)
			continue
		}
		printResponse(action, res)
	}
}

// selectAction prompts the user to choose an action
func selectAction() string {
	options := []string{
		"search (GET /events)",
		"get (GET /events/{id})",
		"filters (GET /filters)",
		"stats (GET /stats)",
		"locale (switch locale)",
		"exit",
	}
	prompt := &survey.Select{
		Message: "Select an action:",
		Options: options,
	}
	var choice string
	survey.AskOne(prompt, &choice)
	return strings.Split(choice, " ")[0] // Extract action name
}

func promptInput(message, def string) string {
	var answer string
	survey.AskOne(&survey.Input{Message: message, Default: def}, &answer)
	return strings.TrimSpace(answer)
}

// promptFilters offers the values the server actually has, grouped as
// "category:value (count)".
func promptFilters(ctx context.Context, c *client.Client) string {
	res, err := c.Filters(ctx, locale)
	if err != nil {
		log.Printf("Could not load filters: %v", err)
		return promptInput("Filters (category:value,...):", "")
	}

	var options []string
	for _, cat := range sortedKeys(res.Categories) {
		for _, vc := range res.Categories[cat] {
			options = append(options, fmt.Sprintf("%s:%s (%d)", cat, vc.Value, vc.Count))
		}
	}
	var picked []string
	survey.AskOne(&survey.MultiSelect{
		Message:  "Filters:",
		Options:  options,
		PageSize: 15,
	}, &picked)

	filters := make([]string, 0, len(picked))
	for _, p := range picked {
		filters = append(filters, strings.Split(p, " ")[0])
	}
	return strings.Join(filters, ",")
}

func promptDimensions() []string {
	var dims []string
	survey.AskOne(&survey.MultiSelect{
		Message: "Dimensions:",
		Options: []string{"country", "state", "city", "format", "topic", "product", "region"},
		Default: catalog.DefaultDimensions,
	}, &dims)
	return dims
}

func sortedKeys(m map[string][]catalog.ValueCount) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func printResponse(method string, resp interface{}) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		log.Printf("Failed to format %s response: %v", method, err)
		return
	}
	fmt.Printf("%s response:\n%s\n", method, data)
}

func printReport(rep stress.Report) {
	log.Println("Stress Test Report:")
	log.Println("===================")
	for _, name := range rep.Names() {
		st := rep.Ops[name]
		total := st.Total()
		rate := 0.0
		if total > 0 {
			rate = float64(st.Success) / float64(total) * 100
		}
		log.Printf("%-8s total=%d success=%d failed=%d rate_limited=%d (%.1f%% ok)",
			name, total, st.Success, st.Failed, st.RateLimited, rate)
	}
	tot := rep.Totals()
	rps := 0.0
	if rep.Elapsed > 0 {
		rps = float64(tot.Total()) / rep.Elapsed.Seconds()
	}
	log.Printf("all      total=%d success=%d failed=%d rate_limited=%d, %.1f req/s over %v",
		tot.Total(), tot.Success, tot.Failed, tot.RateLimited, rps, rep.Elapsed.Round(time.Millisecond))
}
