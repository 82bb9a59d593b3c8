// tournament is the operator CLI: it registers teams, creates the contests
// in DOMjudge and walks the bracket through its rounds, one subcommand per
// transition.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/DoyleJ11/coder-combat/internal/app"
	"github.com/DoyleJ11/coder-combat/internal/bracket"
	"github.com/DoyleJ11/coder-combat/internal/config"
	"github.com/DoyleJ11/coder-combat/internal/engine"
	"github.com/DoyleJ11/coder-combat/internal/logging"
	"github.com/DoyleJ11/coder-combat/internal/results"
	"github.com/DoyleJ11/coder-combat/internal/roster"
)

type command struct {
	summary string
	flags   func(fs *pflag.FlagSet)
	run     func(ctx context.Context, a *app.App, fs *pflag.FlagSet) error
}

// Commands that need no database.
var offline = map[string]func(fs *pflag.FlagSet) error{
	"check-topology": checkTopology,
}

var commands = map[string]command{
	"import":     {summary: "register the 48 teams from a CSV file", run: importTeams},
	"team-ref":   {summary: "set the DOMjudge team id of a team", flags: teamRefFlags, run: teamRef},
	"create":     {summary: "create every contest in DOMjudge (skips existing ones)", run: create},
	"seed":       {summary: "place the registered teams into round 1", run: seed},
	"start":      {summary: "activate the current round", flags: startFlags, run: start},
	"refresh":    {summary: "poll DOMjudge for contest status", run: refresh},
	"process":    {summary: "rank finished contests and stage the next round", run: process},
	"decide":     {summary: "record a coin flip for tied teams", flags: decideFlags, run: decide},
	"activate":   {summary: "advance the staged teams into the next round", run: activate},
	"status":     {summary: "show where the tournament stands", run: status},
	"standings":  {summary: "show a round and the placings", flags: standingsFlags, run: showStandings},
	"revalidate": {summary: "run the bracket validator over the current round", run: revalidate},
	"events":     {summary: "print the audit trail", run: events},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage()
		return nil
	}
	name := args[0]

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	envFile := fs.String("env", ".env", "environment file")

	if check, ok := offline[name]; ok {
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return check(fs)
	}

	cmd, ok := commands[name]
	if !ok {
		usage()
		return fmt.Errorf("unknown command %q", name)
	}
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return cmd.run(ctx, a, fs)
}

func usage() {
	names := make([]string, 0, len(commands)+len(offline))
	for n := range commands {
		names = append(names, n)
	}
	for n := range offline {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintln(os.Stderr, "Usage: tournament <command> [flags]\n\nCommands:")
	for _, n := range names {
		summary := "check a topology file and list every problem"
		if c, ok := commands[n]; ok {
			summary = c.summary
		}
		fmt.Fprintf(os.Stderr, "  %-15s %s\n", n, summary)
	}
}

// describe spells out every contest failure of a round.
func describe(err error) string {
	var re *engine.RoundError
	if !errors.As(err, &re) {
		return err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "round %d:", re.Round)
	for _, e := range multierr.Errors(re.Err) {
		fmt.Fprintf(&b, "\n  - %v", e)
	}
	return b.String()
}

func checkTopology(fs *pflag.FlagSet) error {
	if fs.NArg() != 1 {
		return errors.New("usage: tournament check-topology <file.yaml>")
	}
	topo, err := bracket.LoadUnchecked(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := topo.Check(); err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Println(e)
		}
		return fmt.Errorf("%d problem(s) found", len(multierr.Errors(err)))
	}
	fmt.Printf("%s: %d rounds, %d teams, ok\n", fs.Arg(0), len(topo.Rounds), topo.Teams)
	return nil
}

func importTeams(ctx context.Context, a *app.App, fs *pflag.FlagSet) error {
	if fs.NArg() != 1 {
		return errors.New("usage: tournament import <teams.csv>")
	}
	teams, err := roster.Load(fs.Arg(0))
	if err != nil {
		for _, e := range multierr.Errors(err) {
			fmt.Println(e)
		}
		return errors.New("roster rejected")
	}
	if err := a.Service.Register(ctx, teams); err != nil {
		return err
	}
	fmt.Printf("registered %d teams\n", len(teams))
	return nil
}

func teamRefFlags(fs *pflag.FlagSet) {
	fs.Int("team", 0, "internal team id")
	fs.String("ref", "", "DOMjudge team id")
}

func teamRef(ctx context.Context, a *app.App, fs *pflag.FlagSet) error {
	id, _ := fs.GetInt("team")
	ref, _ := fs.GetString("ref")
	if id == 0 || ref == "" {
		return errors.New("--team and --ref are required")
	}
	return a.Service.SetTeamRef(ctx, id, ref)
}

func create(ctx context.Context, a *app.App, _ *pflag.FlagSet) error {
	rep, err := a.Service.CreateContests(ctx)
	fmt.Println("round  planned  created")
	for _, r := range rep.Rounds {
		fmt.Printf("%5d  %7d  %7d\n", r.Round, r.Planned, r.Created)
	}
	return err
}

func seed(ctx context.Context, a *app.App, _ *pflag.FlagSet) error {
	if err := a.Service.Seed(ctx); err != nil {
		return err
	}
	return status(ctx, a, nil)
}

func startFlags(fs *pflag.FlagSet) {
	fs.String("start-time", "", "contest start time (RFC 3339); keeps the scheduled one when empty")
}

func start(ctx context.Context, a *app.App, fs *pflag.FlagSet) error {
	var at time.Time
	if v, _ := fs.GetString("start-time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("--start-time: %w", err)
		}
		at = t
	}
	if err := a.Service.Start(ctx, at); err != nil {
		return err
	}
	return status(ctx, a, nil)
}

func refresh(ctx context.Context, a *app.App, _ *pflag.FlagSet) error {
	evs, err := a.Service.Refresh(ctx)
	if err != nil {
		return err
	}
	for _, e := range evs {
		fmt.Printf("%s %s\n", e.Slot, e.Type)
	}
	return status(ctx, a, nil)
}

func process(ctx context.Context, a *app.App, _ *pflag.FlagSet) error {
	s, err := a.Service.Process(ctx)
	if err != nil {
		var flip *results.CoinFlipRequired
		if errors.As(err, &flip) {
			fmt.Println("record the coin flips with: tournament decide --slot <slot> --order <id,id,...>")
		}
		return err
	}
	fmt.Printf("staged %d seats, %d exits, digest %s\n", len(s.Staged.Assignments), len(s.Staged.Exits), s.Digest)
	fmt.Println(s.Validated)
	return nil
}

func decideFlags(fs *pflag.FlagSet) {
	fs.String("slot", "", "slot of the tied teams")
	fs.IntSlice("order", nil, "tied team ids, best first")
}

func decide(ctx context.Context, a *app.App, fs *pflag.FlagSet) error {
	slot, _ := fs.GetString("slot")
	order, _ := fs.GetIntSlice("order")
	return a.Service.Decide(ctx, results.Decision{Slot: slot, Order: order})
}

func activate(ctx context.Context, a *app.App, _ *pflag.FlagSet) error {
	if err := a.Service.Activate(ctx); err != nil {
		return err
	}
	return status(ctx, a, nil)
}

func status(ctx context.Context, a *app.App, _ *pflag.FlagSet) error {
	s := a.Service.State()
	t := engine.Count(a.Topology, s)
	fmt.Println(engine.Summary(s))
	fmt.Printf("%d live, %d eliminated, %d/%d contests finished\n", t.Live, t.Eliminated, t.Finished, t.Contests)
	return nil
}

func standingsFlags(fs *pflag.FlagSet) {
	fs.Int("round", 0, "round to show (default: current)")
}

func showStandings(ctx context.Context, a *app.App, fs *pflag.FlagSet) error {
	v, err := a.Service.View(ctx)
	if err != nil {
		return err
	}
	if round, _ := fs.GetInt("round"); round != 0 {
		return v.RenderRound(os.Stdout, round)
	}
	return v.Render(os.Stdout)
}

func revalidate(_ context.Context, a *app.App, _ *pflag.FlagSet) error {
	res := a.Service.Revalidate()
	fmt.Println(res)
	if !res.Valid() {
		return engine.ErrValidationFailed
	}
	return nil
}

func events(ctx context.Context, a *app.App, _ *pflag.FlagSet) error {
	evs, err := a.Store.Events(ctx)
	if err != nil {
		return err
	}
	for _, e := range evs {
		line := []string{string(e.Type), fmt.Sprintf("round=%d", e.Round)}
		if e.Slot != "" {
			line = append(line, "slot="+e.Slot)
		}
		if e.TeamID != 0 {
			line = append(line, fmt.Sprintf("team=%d place=%d", e.TeamID, e.Place))
		}
		if e.Digest != "" {
			line = append(line, "digest="+e.Digest)
		}
		fmt.Println(strings.Join(line, " "))
	}
	return nil
}
