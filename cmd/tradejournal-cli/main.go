package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"tradejournal/pkg/tradejournal"
)

const version = "0.1.0"

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// pct renders a percentage green when positive and red when negative.
func pct(v float64) string {
	s := fmt.Sprintf("%.2f%%", v)
	switch {
	case v > 0:
		return gainStyle.Render(s)
	case v < 0:
		return lossStyle.Render(s)
	}
	return s
}

// printTable aligns tab-separated rows and dims the header row. Styling is
// applied after alignment so escape codes do not skew the columns.
func printTable(header string, rows []string) error {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	for _, r := range rows {
		fmt.Fprintln(tw, r)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	fmt.Println(colHeaderStyle.Render(lines[0]))
	for _, l := range lines[1:] {
		fmt.Println(l)
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: tradejournal-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version              Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  strategies           List available strategies\n")
	fmt.Fprintf(os.Stderr, "  run -f <file>        Run a backtest from a JSON request file\n")
	fmt.Fprintf(os.Stderr, "  optimize -f <file>   Run a parameter optimization from a JSON request file\n")
	fmt.Fprintf(os.Stderr, "  history [-limit n]   List saved runs, newest first\n")
	fmt.Fprintf(os.Stderr, "  show <id>            Print a saved run as JSON\n")
	fmt.Fprintf(os.Stderr, "\nEvery command except version accepts -server (default $TRADEJOURNAL_URL or http://localhost:8080).\n")
	fmt.Fprintf(os.Stderr, "The bearer token is read from $TRADEJOURNAL_AUTH_TOKEN.\n")
}

func main() {
	flag.Usage = usage
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("tradejournal-cli %s\n", version)
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	server := fs.String("server", envOr("TRADEJOURNAL_URL", "http://localhost:8080"), "server base URL")
	file := fs.String("f", "", "request file (JSON), - for stdin")
	limit := fs.Int("limit", 0, "history entries to list (0 = server default)")
	asJSON := fs.Bool("json", false, "print the raw JSON response")
	fs.Parse(args)

	var opts []tradejournal.Option
	if tok := os.Getenv("TRADEJOURNAL_AUTH_TOKEN"); tok != "" {
		opts = append(opts, tradejournal.WithToken(tok))
	}
	client := tradejournal.NewClient(*server, opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "strategies":
		err = strategies(ctx, client, *asJSON)
	case "run":
		err = run(ctx, client, *file, *asJSON)
	case "optimize":
		err = optimize(ctx, client, *file, *asJSON)
	case "history":
		err = history(ctx, client, *limit, *asJSON)
	case "show":
		if fs.NArg() != 1 {
			fmt.Fprintf(os.Stderr, "show requires exactly one id\n")
			os.Exit(1)
		}
		err = show(ctx, client, fs.Arg(0))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func readRequest(path string, v any) error {
	if path == "" {
		return fmt.Errorf("missing -f <file>")
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func strategies(ctx context.Context, c *tradejournal.Client, raw bool) error {
	list, err := c.Strategies(ctx)
	if err != nil {
		return err
	}
	if raw {
		return printJSON(list)
	}
	rows := make([]string, 0, len(list))
	for _, s := range list {
		var params []string
		for _, p := range s.ParameterDefs {
			params = append(params, fmt.Sprintf("%s=%g", p.Name, p.Default))
		}
		rows = append(rows, fmt.Sprintf("%s\t%s\t%s", s.Type, s.Label, strings.Join(params, " ")))
	}
	return printTable("TYPE\tLABEL\tPARAMETERS", rows)
}

func run(ctx context.Context, c *tradejournal.Client, path string, raw bool) error {
	var req tradejournal.BacktestRequest
	if err := readRequest(path, &req); err != nil {
		return err
	}
	res, err := c.RunBacktest(ctx, req)
	if err != nil {
		return err
	}
	if raw {
		return printJSON(res)
	}
	printSummary(res)
	return nil
}

func optimize(ctx context.Context, c *tradejournal.Client, path string, raw bool) error {
	var req tradejournal.OptimizationRequest
	if err := readRequest(path, &req); err != nil {
		return err
	}
	res, err := c.Optimize(ctx, req)
	if err != nil {
		return err
	}
	if raw {
		return printJSON(res)
	}

	fmt.Printf("target:        %s\n", res.Target)
	fmt.Printf("combinations:  %d (%d skipped)\n", res.TotalCombinations, res.Skipped)
	if res.Cancelled {
		fmt.Printf("cancelled:     partial results\n")
	}
	fmt.Printf("elapsed:       %dms\n", res.ExecutionTimeMs)
	if res.ID != "" {
		fmt.Printf("id:            %s\n", res.ID)
	}
	fmt.Printf("best:          %s\n\n", titleStyle.Render(formatParams(res.BestParameters)))

	var rows []string
	for i, r := range res.AllResults {
		if i == 10 {
			break
		}
		rows = append(rows, fmt.Sprintf("%s\t%.2f\t%.2f\t%.2f\t%d\t%s",
			formatParams(r.Parameters), r.TotalReturn, r.SharpeRatio, r.MaxDrawdown, r.TotalTrades, r.Error))
	}
	if err := printTable("PARAMETERS\tRETURN%\tSHARPE\tMAXDD%\tTRADES\tERROR", rows); err != nil {
		return err
	}
	if n := len(res.AllResults); n > 10 {
		fmt.Println(dimStyle.Render(fmt.Sprintf("... %d more", n-10)))
	}
	return nil
}

func history(ctx context.Context, c *tradejournal.Client, limit int, raw bool) error {
	entries, err := c.History(ctx, limit)
	if err != nil {
		return err
	}
	if raw {
		return printJSON(entries)
	}
	rows := make([]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, fmt.Sprintf("%s\t%s\t%s\t%s\t%.2f\t%s", e.ID, e.Kind, e.Symbol, e.StrategyType, e.TotalReturn, e.CreatedAt))
	}
	return printTable("ID\tKIND\tSYMBOL\tSTRATEGY\tRETURN%\tCREATED", rows)
}

func show(ctx context.Context, c *tradejournal.Client, id string) error {
	raw, err := c.GetResult(ctx, id)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return printJSON(v)
}

func printSummary(r *tradejournal.BacktestResult) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("%s %s  %s .. %s", r.Symbol, r.Strategy.Type, r.StartDate, r.EndDate)))
	if r.ID != "" {
		fmt.Printf("id:             %s\n", r.ID)
	}
	fmt.Printf("capital:        %.2f -> %.2f\n", r.InitialCapital, r.FinalCapital)
	fmt.Printf("total return:   %s (benchmark %s)\n", pct(r.TotalReturn), pct(r.BenchmarkReturn))
	fmt.Printf("cagr:           %s\n", pct(r.CAGR))
	fmt.Printf("max drawdown:   %.2f%%\n", r.MaxDrawdown)
	fmt.Printf("sharpe:         %.2f\n", r.SharpeRatio)
	fmt.Printf("sortino:        %s\n", optional(r.SortinoRatio))
	fmt.Printf("calmar:         %s\n", optional(r.CalmarRatio))
	fmt.Printf("trades:         %d (%d won, %d lost, win rate %.1f%%)\n", r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate)
	fmt.Printf("profit factor:  %s\n", optional(r.ProfitFactor))
	fmt.Printf("avg holding:    %.1f days\n", r.AvgHoldingDays)
}

func optional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatParams(p map[string]float64) string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p[k])
	}
	return strings.Join(parts, " ")
}
