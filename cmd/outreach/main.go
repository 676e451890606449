package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/outreach/internal/account"
	"github.com/TobiSchelling/outreach/internal/config"
	"github.com/TobiSchelling/outreach/internal/database"
	"github.com/TobiSchelling/outreach/internal/discovery"
	"github.com/TobiSchelling/outreach/internal/llm"
	"github.com/TobiSchelling/outreach/internal/pipeline"
	"github.com/TobiSchelling/outreach/internal/replies"
	"github.com/TobiSchelling/outreach/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "outreach",
	Short:   "Small-business outreach CRM",
	Long:    "outreach tracks accounts through their lifecycle, finds and verifies contact emails, and watches the news for signals.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			setLogFlags(verbose)
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setLogFlags(verbose || strings.EqualFold(cfg.Logging.Level, "debug"))
		return nil
	},
}

func setLogFlags(debug bool) {
	if debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	} else {
		log.SetFlags(log.LstdFlags)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd, versionCmd, statusCmd, boardCmd, addCmd)
	rootCmd.AddCommand(discoverCmd, rediscoverCmd, bounceCmd)
	rootCmd.AddCommand(transitionCmd, dncCmd, maintenanceCmd, eventCmd, replyCmd)
	rootCmd.AddCommand(signalsCmd, runCmd, serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("outreach", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/outreach/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to set probe caps, news feeds, the finder API key and the LLM provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show account and discovery totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		today := database.GetToday()
		stats, err := db.GetBoardStats(today)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Today: %s\n\n", today)
		fmt.Printf("Contacts: %d\n", stats.Total)
		fmt.Println("\nAccounts:")
		for _, s := range boardOrder {
			fmt.Printf("  %-10s %4d  (avg confidence %.0f)\n", s, stats.ByStatus[s], stats.AvgConfidence[s])
		}
		fmt.Println("\nConfidence (excluding dnc):")
		fmt.Printf("  High (70+):  %d\n", stats.HighConfidence)
		fmt.Printf("  Medium:      %d\n", stats.MediumConfidence)
		fmt.Printf("  Low (<40):   %d\n", stats.LowConfidence)
		fmt.Println("\nEmail discovery:")
		for _, s := range []string{"verified", "likely", "pending", "needs_manual", "invalid", "bounced", "exhausted"} {
			if n := stats.ByEmailStatus[s]; n > 0 {
				fmt.Printf("  %-12s %d\n", s, n)
			}
		}
		fmt.Printf("\nSMTP probes today: %d / %d\n", stats.ProbesToday, cfg.Discovery.DailyCap)
		return nil
	},
}

// --- board command ---

var (
	boardStatus string
	boardLimit  int
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Show the account board",
	RunE: func(cmd *cobra.Command, args []string) error {
		if boardStatus != "" {
			if _, err := account.ParseStatus(boardStatus); err != nil {
				return err
			}
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetBoardStats(database.GetToday())
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		contacts, err := db.ListContacts(strings.ToLower(boardStatus), boardLimit)
		if err != nil {
			return fmt.Errorf("listing contacts: %w", err)
		}
		fmt.Println(renderBoard(stats, contacts, boardStatus))
		return nil
	},
}

func init() {
	boardCmd.Flags().StringVarP(&boardStatus, "status", "s", "", "Only show contacts in this account status")
	boardCmd.Flags().IntVarP(&boardLimit, "limit", "n", 25, "Maximum contacts to list")
}

// --- add command ---

var newContact database.Contact

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a contact",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(newContact.CompanyName) == "" {
			return errors.New("--company is required")
		}
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		c := newContact
		c.Tier = strings.ToUpper(c.Tier)
		if c.Website != "" && c.Domain == "" {
			c.Domain = discovery.ExtractDomain(c.Website)
		}
		id, err := db.InsertContact(&c)
		if err != nil {
			return fmt.Errorf("adding contact: %w", err)
		}

		score, err := account.NewManager(db, cfg.Account, nil).ComputeConfidenceScore(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Added contact #%d: %s (confidence %d)\n", id, c.CompanyName, score)
		return nil
	},
}

func init() {
	f := addCmd.Flags()
	f.StringVar(&newContact.CompanyName, "company", "", "Company name")
	f.StringVar(&newContact.ContactName, "name", "", "Contact person")
	f.StringVar(&newContact.TitleRole, "title", "", "Contact's title or role")
	f.StringVar(&newContact.Website, "website", "", "Company website")
	f.StringVar(&newContact.Domain, "domain", "", "Email domain (derived from --website if empty)")
	f.StringVar(&newContact.City, "city", "", "City")
	f.StringVar(&newContact.Phone, "phone", "", "Phone number")
	f.StringVar(&newContact.Tier, "tier", "", "Priority tier (A-E, HOT)")
	f.StringVar(&newContact.Source, "source", "", "Where the lead came from")
	f.StringVar(&newContact.Notes, "notes", "", "Free-form notes (markdown)")
	f.BoolVar(&newContact.DecisionMakerFound, "decision-maker", false, "The contact is a decision maker")
}

// --- discovery commands ---

var discoverBatch int

var discoverCmd = &cobra.Command{
	Use:   "discover [id...]",
	Short: "Find and verify email addresses",
	Long:  "Runs discovery for the given contacts, or for the highest-priority pending contacts when no IDs are given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			engine := p.Discovery()
			if len(ids) == 0 {
				results, err := engine.DiscoverBatch(ctx, discoverBatch)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Println("No contacts pending discovery.")
				}
				for _, r := range results {
					printOutcome(r.ContactID, r.Outcome, r.Err)
				}
				return nil
			}
			for _, id := range ids {
				out, err := engine.Discover(ctx, id)
				printOutcome(id, out, err)
			}
			return nil
		})
	},
}

func init() {
	discoverCmd.Flags().IntVarP(&discoverBatch, "batch", "b", 0, "Batch size (default discovery.batch_size)")
}

var rediscoverCmd = &cobra.Command{
	Use:   "rediscover <id>",
	Short: "Run the deep discovery pass for a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			out, err := p.Discovery().Rediscover(ctx, id)
			printOutcome(id, out, err)
			return err
		})
	},
}

var bounceCmd = &cobra.Command{
	Use:   "bounce <id> [email]",
	Short: "Record a bounce and look for a replacement address",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		email := ""
		if len(args) > 1 {
			email = args[1]
		}
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			out, err := p.Discovery().RecoverBounce(ctx, id, email)
			printOutcome(id, out, err)
			return err
		})
	},
}

func printOutcome(id int64, out *discovery.Outcome, err error) {
	switch {
	case err != nil:
		fmt.Printf("  #%d  error: %v\n", id, err)
	case out.Email != "":
		fmt.Printf("  #%d  %-12s %s (%s)\n", id, out.Status, out.Email, out.Source)
	default:
		fmt.Printf("  #%d  %s\n", id, out.Status)
	}
}

// --- lifecycle commands ---

var transitionNotes string

var transitionCmd = &cobra.Command{
	Use:   "transition <id> <status>",
	Short: "Move a contact to another account status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		to, err := account.ParseStatus(args[1])
		if err != nil {
			return err
		}
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			res, err := p.Accounts().TransitionStatus(ctx, id, to, transitionNotes)
			return reportTransition(id, res, err)
		})
	},
}

func init() {
	transitionCmd.Flags().StringVarP(&transitionNotes, "notes", "m", "", "Note for the touch log")
}

var dncReason string

var dncCmd = &cobra.Command{
	Use:   "dnc <id>",
	Short: "Mark a contact do-not-contact (permanent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			res, err := p.Accounts().MarkDNC(ctx, id, dncReason)
			return reportTransition(id, res, err)
		})
	},
}

func init() {
	dncCmd.Flags().StringVarP(&dncReason, "reason", "r", "", "Why the contact asked to stop")
}

func reportTransition(id int64, res *account.TransitionResult, err error) error {
	if err != nil {
		return err
	}
	if res.Err != nil {
		return fmt.Errorf("contact #%d: %w", id, res.Err)
	}
	fmt.Printf("Contact #%d: %s → %s\n", id, res.OldStatus, res.NewStatus)
	return nil
}

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Rescore contacts and enforce revisit timers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			r := p.Accounts().RunMaintenance(ctx)
			fmt.Printf("Rescored:    %d\n", r.Recalculated)
			fmt.Printf("Reactivated: %d\n", r.Reactivated)
			fmt.Printf("Parked:      %d\n", r.Parked)
			if r.Errors > 0 {
				return fmt.Errorf("%d maintenance steps failed", r.Errors)
			}
			return nil
		})
	},
}

var (
	eventBundle    int64
	eventSentiment string
)

var eventCmd = &cobra.Command{
	Use:       "event <sent|opened|reply|followup-exhausted> <id>",
	Short:     "Feed an email event into the account lifecycle",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"sent", "opened", "reply", "followup-exhausted"},
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			m := p.Accounts()
			switch args[0] {
			case "sent":
				err = m.OnEmailSent(ctx, id, eventBundle)
			case "opened":
				err = m.OnEmailOpened(ctx, id, eventBundle)
			case "reply":
				err = m.OnReplyReceived(ctx, id, account.ParseSentiment(eventSentiment), eventBundle)
			case "followup-exhausted":
				err = m.OnFollowupExhausted(ctx, id)
			default:
				return fmt.Errorf("unknown event %q", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Printf("Recorded %s for contact #%d\n", args[0], id)
			return nil
		})
	},
}

func init() {
	eventCmd.Flags().Int64VarP(&eventBundle, "bundle", "b", 0, "Bundle ID the event belongs to")
	eventCmd.Flags().StringVar(&eventSentiment, "sentiment", "neutral", "Reply sentiment: positive, negative or neutral")
}

var (
	replyFrom    string
	replySubject string
	replyBundle  int64
)

var replyCmd = &cobra.Command{
	Use:   "reply",
	Short: "Classify a reply read from stdin and update the account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replyFrom == "" {
			return errors.New("--from is required")
		}
		body, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
		if err != nil {
			return fmt.Errorf("reading reply body: %w", err)
		}
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			classifier := replies.NewClassifier(p.DB(), llm.CreateProvider(cfg.LLM), p.Accounts(), cfg.LLM.MaxTokens)
			res, err := classifier.Process(ctx, replies.Reply{
				From:     replyFrom,
				Subject:  replySubject,
				Body:     string(body),
				BundleID: replyBundle,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Contact #%d: reply classified %s (%s)\n", res.ContactID, res.Sentiment, res.Method)
			return nil
		})
	},
}

func init() {
	replyCmd.Flags().StringVarP(&replyFrom, "from", "f", "", "Sender address")
	replyCmd.Flags().StringVarP(&replySubject, "subject", "s", "", "Reply subject")
	replyCmd.Flags().Int64VarP(&replyBundle, "bundle", "b", 0, "Bundle ID (default: the contact's latest)")
}

// --- signals command ---

var signalsDays int

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Scan news feeds for signals about known companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Signals.Feeds) == 0 {
			fmt.Println("No feeds configured. Add some under signals.feeds in the config.")
			return nil
		}
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			r, err := p.Signals().Scan(ctx, signalsDays)
			if err != nil {
				return err
			}
			fmt.Println("\nSignal scan complete:")
			fmt.Printf("  Entries:          %d\n", r.Entries)
			fmt.Printf("  Duplicates:       %d\n", r.Duplicates)
			fmt.Printf("  Relevant:         %d\n", r.Relevant)
			fmt.Printf("  Articles fetched: %d\n", r.Fetched)
			fmt.Printf("  Stored:           %d (%d matched to contacts)\n", r.Stored, r.Matched)
			return nil
		})
	},
}

func init() {
	signalsCmd.Flags().IntVarP(&signalsDays, "days-back", "d", 7, "How many days of news to scan")
}

// --- run command ---

var (
	dryRun  bool
	runOpts pipeline.Options
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily pipeline: maintenance -> signals -> discovery -> rescore",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			var result *pipeline.Result
			if dryRun {
				result = p.DryRun(ctx, runOpts)
			} else {
				result = p.Run(ctx, runOpts)
			}

			for i, step := range result.Steps {
				fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
				if step.Summary != "" {
					fmt.Printf("  %s\n", step.Summary)
				}
				if step.Err != nil {
					fmt.Printf("  Error: %v\n", step.Err)
				}
			}

			if !dryRun {
				fmt.Println("\nPipeline complete! Run 'outreach board' to review accounts.")
			}
			if result.Failed() {
				return errors.New("one or more pipeline steps failed")
			}
			return nil
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().IntVar(&runOpts.DaysBack, "days-back", 7, "News window for the signal scan (days)")
	runCmd.Flags().IntVar(&runOpts.BatchSize, "batch", 0, "Discovery batch size (default discovery.batch_size)")
	runCmd.Flags().BoolVar(&runOpts.SkipSignals, "skip-signals", false, "Skip the news signal scan")
	runCmd.Flags().BoolVar(&runOpts.SkipDiscovery, "skip-discovery", false, "Skip email discovery")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local admin server",
	RunE: func(cmd *cobra.Command, args []string) error {
		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		return withPipeline(cmd, func(ctx context.Context, p *pipeline.Pipeline) error {
			srv, err := server.New(p.DB(), p.Accounts(), p.Discovery())
			if err != nil {
				return err
			}
			fmt.Printf("Starting server at http://localhost:%d\n", port)
			fmt.Println("Press Ctrl+C to stop")
			return server.Serve(ctx, srv, port)
		})
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default server.port)")
}

// --- helpers ---

// withPipeline opens the store, wires the pipeline and runs fn with a
// context cancelled on SIGINT/SIGTERM.
func withPipeline(cmd *cobra.Command, fn func(context.Context, *pipeline.Pipeline) error) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return fn(ctx, pipeline.New(cfg, db, discovery.Deps{}))
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(filepath.Join(dataDir, "outreach.db"))
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid contact ID: %s", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
