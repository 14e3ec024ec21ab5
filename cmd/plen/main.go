package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"plenario/internal/app"
	"plenario/internal/cache"
	"plenario/internal/config"
	"plenario/internal/db"
	"plenario/internal/engine"
	"plenario/internal/migrate"
	"plenario/internal/repo"
	"plenario/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "plen",
	Short: "Plenário CLI",
	Long: `Plenário orchestrates the legislative process of a municipal chamber.
Core concepts:
- Workspace: your .plenario directory with the database; the chamber config lives in the DB and is imported from plenario.yml.
- Proposition: a bill, veto, motion or request presented to the chamber.
- Flow: the ordered stages a proposition category must pass through, with deadlines and conditional branches.
- Tramitação: one proposition's run through its flow, carrying an urgency regime that compresses deadlines.
- Session: a plenary sitting with presence, a generated agenda and nominal voting.
- Pauta: the session agenda, packed by priority tier into the available time.
- Ata: the session minutes, composed from presence, items and tallies.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLENARIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("chamber", "", "chamber id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("chamber", rootCmd.PersistentFlags().Lookup("chamber"))
}

func registerCommands() {
	rootCmd.AddCommand(chamberCmd())
	rootCmd.AddCommand(flowCmd())
	rootCmd.AddCommand(propCmd())
	rootCmd.AddCommand(tramCmd())
	rootCmd.AddCommand(legislatorCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(pautaCmd())
	rootCmd.AddCommand(voteCmd())
	rootCmd.AddCommand(ataCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
}

func chamberCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "chamber", Short: "Manage the chamber"}
	cmd.AddCommand(chamberInitCmd())
	cmd.AddCommand(chamberConfigCmd())
	return cmd
}

func chamberInitCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a chamber with default config and flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(id)
			e := engine.New(conn, cfg)
			if err := e.InitChamber(cmd.Context(), id, name, viper.GetString("actor-id")); err != nil {
				return err
			}
			created, err := e.SeedDefaultFlows(cmd.Context(), viper.GetString("actor-id"))
			if err != nil {
				return err
			}
			fmt.Printf("Chamber %s initialized with %d default flows\n", id, len(created))
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "chamber id")
	cmd.Flags().StringVar(&name, "name", "", "chamber name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func chamberConfigCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage chamber config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show chamber config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	cfg.AddCommand(chamberConfigImportCmd())
	return cfg
}

func chamberConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import chamber config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				chamberID := cfg.Chamber.ID
				if chamberID == "" {
					chamberID = e.Config.Chamber.ID
				}
				if err := e.Repo.UpsertChamberConfig(ctx, chamberID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func flowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage tramitação flows",
		Long:  "Flows define the stages a proposition category passes through: committees, deadlines, opinion requirements and conditional branches.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Seed default flows from config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.SeedDefaultFlows(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %d flows\n", len(created))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				flows, err := e.Repo.ListFlows(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(flows)
			})
		},
	})
	cmd.AddCommand(flowShowCmd())
	return cmd
}

func flowShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <category>",
		Short: "Show a flow and its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f, err := e.FlowForCategory(ctx, args[0])
				if err != nil {
					return err
				}
				stages, err := e.Repo.ListStages(ctx, f.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"flow": f, "stages": stages})
				}
				fmt.Printf("Flow: %s (%s)\n", f.Name, f.Category)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Ord", "Stage", "Unit", "Deadline", "Urgency", "Opinion", "Agenda", "Terminal"})
				for _, s := range stages {
					urgency := "-"
					if s.UrgencyDeadlineDays != nil {
						urgency = fmt.Sprintf("%dd", *s.UrgencyDeadlineDays)
					}
					tw.AppendRow(table.Row{s.Ord, s.Name, s.Unit, fmt.Sprintf("%dd", s.DeadlineDays), urgency, s.RequiresOpinion, s.EnablesAgenda, s.Terminal})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func propCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prop",
		Short: "Manage propositions",
	}
	cmd.AddCommand(propCreateCmd())
	cmd.AddCommand(propListCmd())
	cmd.AddCommand(propShowCmd())
	cmd.AddCommand(propEligibilityCmd())
	return cmd
}

func propCreateCmd() *cobra.Command {
	var opts engine.PropositionCreateOptions
	var attrsJSON string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a proposition",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if attrsJSON != "" {
				if err := json.Unmarshal([]byte(attrsJSON), &opts.Attributes); err != nil {
					return fmt.Errorf("invalid --attributes: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ChamberID = e.Config.Chamber.ID
				p, err := e.CreateProposition(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Category, "category", "", "proposition category")
	cmd.Flags().StringVar(&opts.Number, "number", "", "official number (e.g. PL 12/2026)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "summary")
	cmd.Flags().StringVar(&opts.Regime, "regime", "", "urgency regime (normal, priority, urgency, extreme_urgency)")
	cmd.Flags().StringVar(&opts.PresentedAt, "presented-at", "", "presentation timestamp (RFC3339, defaults to now)")
	cmd.Flags().StringVar(&attrsJSON, "attributes", "", "free-form attributes as JSON (used by conditional branches)")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func propListCmd() *cobra.Command {
	var category, status, regime string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List propositions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				props, err := e.Repo.ListPropositions(ctx, repo.PropositionFilters{
					ChamberID: e.Config.Chamber.ID,
					Category:  category,
					Status:    status,
					Regime:    regime,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(props)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "Category", "Regime", "Turn", "Status", "Title"})
				for _, p := range props {
					tw.AppendRow(table.Row{p.ID, p.Number, p.Category, p.Regime, p.VotingTurn, p.Status, p.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&regime, "regime", "", "regime filter")
	cmd.Flags().IntVar(&limit, "limit", 100, "max results")
	return cmd
}

func propShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a proposition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProposition(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func propEligibilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eligibility <id>",
		Short: "Check agenda eligibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.CheckEligibility(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func tramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tram",
		Short: "Manage tramitações",
		Long:  "A tramitação is one proposition's run through its category flow. Advancing closes the current stage passage and computes the next deadline under the active urgency regime.",
	}
	cmd.AddCommand(tramStartCmd())
	cmd.AddCommand(tramShowCmd())
	cmd.AddCommand(tramAdvanceCmd())
	cmd.AddCommand(tramCancelCmd())
	cmd.AddCommand(tramRegimeCmd())
	return cmd
}

func tramStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <proposition-id>",
		Short: "Start tramitação for a proposition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.StartTramitacao(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func tramShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a tramitação with its stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTramitacao(ctx, args[0])
				if err != nil {
					return err
				}
				passages, err := e.Repo.ListStagePassages(ctx, t.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"tramitacao": t, "passages": passages})
			})
		},
	}
	return cmd
}

func tramAdvanceCmd() *cobra.Command {
	var opinion, expectStage string
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Advance a tramitação to its next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AdvanceTramitacao(ctx, args[0], engine.AdvanceOptions{
					Opinion:         opinion,
					ExpectedStageID: expectStage,
					ActorID:         viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opinion, "opinion", "", "committee opinion (required when the stage demands one)")
	cmd.Flags().StringVar(&expectStage, "expect-stage", "", "fail if the current stage differs (optimistic check)")
	return cmd
}

func tramCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a tramitação",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CancelTramitacao(ctx, args[0], reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func tramRegimeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regime <id> <regime>",
		Short: "Change the urgency regime (recomputes the stage deadline)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ChangeRegime(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func legislatorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "legislator", Short: "Manage legislators"}
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a legislator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			party, _ := cmd.Flags().GetString("party")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				l, err := e.CreateLegislator(ctx, e.Config.Chamber.ID, args[0], party, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(l)
			})
		},
	}
	addCmd.Flags().String("party", "", "party acronym")
	cmd.AddCommand(addCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active legislators",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				legs, err := e.Repo.ListActiveLegislators(ctx, e.Config.Chamber.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(legs)
			})
		},
	})
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Manage plenary sessions"}
	cmd.AddCommand(sessionCreateCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sessions, err := e.Repo.ListSessions(ctx, e.Config.Chamber.ID, 50)
				if err != nil {
					return err
				}
				return printJSONOrTable(sessions)
			})
		},
	})
	cmd.AddCommand(sessionStatusCmd())
	cmd.AddCommand(sessionPresenceCmd())
	return cmd
}

func sessionCreateCmd() *cobra.Command {
	var number int
	var sessionType, scheduledAt string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if scheduledAt == "" {
				scheduledAt = time.Now().UTC().Format(time.RFC3339)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.CreateSession(ctx, e.Config.Chamber.ID, number, sessionType, scheduledAt, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().IntVar(&number, "number", 0, "session number")
	cmd.Flags().StringVar(&sessionType, "type", "ordinary", "session type (ordinary, extraordinary, solemn)")
	cmd.Flags().StringVar(&scheduledAt, "at", "", "scheduled time (RFC3339, defaults to now)")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func sessionStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Transition a session (in_progress, concluded, cancelled)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.TransitionSession(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func sessionPresenceCmd() *cobra.Command {
	var legislatorID, justification string
	var absent bool
	cmd := &cobra.Command{
		Use:   "presence <session-id>",
		Short: "Record legislator presence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if legislatorID == "" {
				return fmt.Errorf("--legislator required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.RecordPresence(ctx, args[0], legislatorID, !absent, justification, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&legislatorID, "legislator", "", "legislator id")
	cmd.Flags().BoolVar(&absent, "absent", false, "mark absent instead of present")
	cmd.Flags().StringVar(&justification, "justification", "", "absence justification")
	return cmd
}

func pautaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pauta",
		Short: "Manage session agendas",
		Long:  "The pauta is generated greedily by priority tier (veto deadlines and urgency first) into the session time budget, then published to freeze it.",
	}
	cmd.AddCommand(pautaGenerateCmd())
	cmd.AddCommand(pautaShowCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "publish <session-id>",
		Short: "Publish the agenda",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agenda, err := e.PublishAgenda(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(agenda)
			})
		},
	})
	cmd.AddCommand(pautaItemCmd())
	return cmd
}

func pautaGenerateCmd() *cobra.Command {
	var maxItems, maxMinutes int
	var includeVetoes, includeUrgencies bool
	var allow, exclude []string
	cmd := &cobra.Command{
		Use:   "generate <session-id>",
		Short: "Generate the agenda for a scheduled session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.GenerateOptions{
				MaxMinutes:         maxMinutes,
				AllowedCategories:  allow,
				ExcludedCategories: exclude,
				ActorID:            viper.GetString("actor-id"),
			}
			if cmd.Flags().Changed("max-items") {
				opts.MaxItems = &maxItems
			}
			if cmd.Flags().Changed("include-vetoes") {
				opts.IncludeExpiringVetoes = &includeVetoes
			}
			if cmd.Flags().Changed("include-urgencies") {
				opts.IncludeUrgencies = &includeUrgencies
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agenda, err := e.GenerateAgenda(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(agenda)
			})
		},
	}
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "item cap (0 yields only fixed formalities)")
	cmd.Flags().IntVar(&maxMinutes, "max-minutes", 0, "session time budget in minutes")
	cmd.Flags().BoolVar(&includeVetoes, "include-vetoes", true, "admit vetoes with expiring deadlines")
	cmd.Flags().BoolVar(&includeUrgencies, "include-urgencies", true, "admit urgency-regime items")
	cmd.Flags().StringArrayVar(&allow, "allow", []string{}, "only these categories (repeatable)")
	cmd.Flags().StringArrayVar(&exclude, "exclude", []string{}, "exclude categories (repeatable)")
	return cmd
}

func pautaShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the session agenda",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agenda, err := e.Repo.GetSessionAgenda(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agenda)
				}
				fmt.Printf("Agenda for session %s (%d min, published=%v)\n", agenda.SessionID, agenda.TotalMinutes, agenda.Published)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Section", "Ord", "Item", "Proposition", "Tier", "Min", "Status"})
				for _, it := range agenda.Items {
					tw.AppendRow(table.Row{it.Section, it.Ord, it.ID, it.PropositionID, it.Tier.String(), it.EstimatedMinutes, it.Status})
				}
				tw.Render()
				for _, warn := range agenda.Warnings {
					fmt.Println("warning:", warn)
				}
				return nil
			})
		},
	}
	return cmd
}

func pautaItemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item <item-id> <status>",
		Short: "Transition an agenda item (in_discussion, postponed, withdrawn)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.UpdateAgendaItem(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func voteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "vote", Short: "Nominal voting"}
	cmd.AddCommand(&cobra.Command{
		Use:   "open <item-id>",
		Short: "Open voting on an agenda item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.OpenVoting(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	})
	cmd.AddCommand(voteCastCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "tally <item-id>",
		Short: "Show the current tally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tally, err := e.ComputeTally(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(tally)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "close <item-id>",
		Short: "Close voting and resolve the item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tally, err := e.CloseVoting(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(tally)
			})
		},
	})
	return cmd
}

func voteCastCmd() *cobra.Command {
	var legislatorID, choice string
	cmd := &cobra.Command{
		Use:   "cast <item-id>",
		Short: "Record a vote (overwrites a previous one)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if legislatorID == "" || choice == "" {
				return fmt.Errorf("--legislator and --choice required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.RecordVote(ctx, args[0], legislatorID, choice, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&legislatorID, "legislator", "", "legislator id")
	cmd.Flags().StringVar(&choice, "choice", "", "vote choice (yes, no, abstain)")
	return cmd
}

func ataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ata <session-id>",
		Short: "Compose the minutes of a concluded session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				text, err := e.ComposeMinutes(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"session_id": args[0], "text": text})
				}
				fmt.Println(text)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEventsFrom(ctx, n, 0, e.Config.Chamber.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "key", Short: "Manage API keys"}
	cmd.AddCommand(keyCreateCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx)
				if err != nil {
					return err
				}
				for i := range keys {
					keys[i].KeyHash = ""
				}
				return printJSONOrTable(keys)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return cmd
}

func keyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the secret is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, secret, err := server.CreateAPIKey(ctx, e, actorID, name)
				if err != nil {
					return err
				}
				fmt.Printf("API key %s for %s\nSecret (store it now, it is not recoverable): %s\n", k.ID, k.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveChamberAndConfig(cmd.Context(), workspace, viper.GetString("chamber"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			e.Cache = newCache(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("PLENARIO_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("PLENARIO_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Plenário API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id (local development)")
	return cmd
}

// --- helpers ---

func newCache(conn *sql.DB, cfg *config.Config) cache.Cache {
	if cfg.Cache.Backend == "store" {
		return cache.NewStore(conn)
	}
	return cache.NewMemory()
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveChamberAndConfig(ctx, workspace, viper.GetString("chamber"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.Cache = newCache(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
