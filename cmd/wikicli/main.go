package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/spf13/cobra"

	"go-wiki-client/internal/config"
	"go-wiki-client/internal/logger"
	"go-wiki-client/internal/mirror"
	"go-wiki-client/internal/wiki"
)

func main() {
	// --- Configuration Loading ---
	cfg, err := config.LoadConfig()
	if err != nil {
		// Use fmt.Printf here because the logger is not yet initialized.
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger Initialization ---
	log := logger.New(cfg.Log, os.Stderr)

	rootCmd := &cobra.Command{
		Use:           "wikicli",
		Short:         "wikicli reads, mirrors, and repairs wiki pages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		viewCmd(cfg, log),
		historyCmd(cfg, log),
		restoreCmd(cfg, log),
		rollbackCmd(cfg, log),
		mirrorCmd(cfg, log),
		whoamiCmd(cfg, log),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error(err, "command failed")
		os.Exit(1)
	}
}

// newSession builds the API client and, when credentials are
// configured, authenticates it.
func newSession(ctx context.Context, cfg *config.Config, log logger.Logger) (*wiki.Client, error) {
	client := wiki.NewClient(cfg.API, log)
	if cfg.API.Username != "" {
		if err := client.Login(ctx, cfg.API.Username, cfg.API.Password); err != nil {
			return nil, fmt.Errorf("login as %s: %w", cfg.API.Username, err)
		}
	}
	return client, nil
}

func viewCmd(cfg *config.Config, log logger.Logger) *cobra.Command {
	var asHTML bool
	cmd := &cobra.Command{
		Use:   "view <title>",
		Short: "print a page's current content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := newSession(ctx, cfg, log)
			if err != nil {
				return err
			}
			if asHTML {
				html, err := renderHTML(ctx, client, args[0])
				if err != nil {
					return err
				}
				fmt.Println(html)
				return nil
			}
			content, err := client.Page(args[0]).Content(ctx)
			if err != nil {
				return err
			}
			fmt.Println(content)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "render the page as sanitized HTML")
	return cmd
}

// renderHTML asks the server to parse the page and sanitizes the
// result before it reaches a terminal or pipeline.
func renderHTML(ctx context.Context, client *wiki.Client, title string) (string, error) {
	raw, err := client.Call(ctx, url.Values{
		"action": {"parse"},
		"page":   {title},
		"prop":   {"text"},
	})
	if err != nil {
		return "", err
	}
	var envelope struct {
		Parse struct {
			Text struct {
				HTML string `json:"*"`
			} `json:"text"`
		} `json:"parse"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("decode parse response: %w", err)
	}
	return bluemonday.UGCPolicy().Sanitize(envelope.Parse.Text.HTML), nil
}

func historyCmd(cfg *config.Config, log logger.Logger) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <title>",
		Short: "list a page's revisions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := newSession(ctx, cfg, log)
			if err != nil {
				return err
			}
			revs, err := client.Page(args[0]).Revisions(ctx, limit)
			if err != nil {
				return err
			}
			for _, rev := range revs {
				ts, err := rev.Timestamp(ctx)
				if err != nil {
					return err
				}
				user, err := rev.User(ctx)
				if err != nil {
					return err
				}
				summary, err := rev.Summary(ctx)
				if err != nil {
					return err
				}
				marker := " "
				if minor, err := rev.IsMinor(ctx); err == nil && minor {
					marker = "m"
				}
				fmt.Printf("%d\t%s\t%s %s\t%s\n", rev.RevID(), ts.Format(time.RFC3339), marker, user.Name(), summary)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of revisions (0 for the server maximum)")
	return cmd
}

func restoreCmd(cfg *config.Config, log logger.Logger) *cobra.Command {
	var (
		summary string
		minor   bool
		bot     bool
		force   bool
	)
	cmd := &cobra.Command{
		Use:   "restore <revid>",
		Short: "edit a revision's page back to that revision's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revid, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("revid must be a number: %w", err)
			}
			ctx := cmd.Context()
			client, err := newSession(ctx, cfg, log)
			if err != nil {
				return err
			}
			if _, err := client.Revision(revid).Restore(ctx, summary, minor, bot, force); err != nil {
				return err
			}
			log.With(map[string]interface{}{"revid": revid}).Info("revision restored")
			return nil
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "edit summary")
	cmd.Flags().BoolVar(&minor, "minor", false, "mark the edit as minor")
	cmd.Flags().BoolVar(&bot, "bot", false, "mark the edit as a bot edit")
	cmd.Flags().BoolVar(&force, "force", false, "skip edit-conflict detection")
	return cmd
}

func rollbackCmd(cfg *config.Config, log logger.Logger) *cobra.Command {
	var (
		summary string
		bot     bool
	)
	cmd := &cobra.Command{
		Use:   "rollback <revid>",
		Short: "revert all top edits by the revision's author in one action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revid, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("revid must be a number: %w", err)
			}
			ctx := cmd.Context()
			client, err := newSession(ctx, cfg, log)
			if err != nil {
				return err
			}
			// An unset flag keeps the server's default summary; an
			// explicitly empty one blanks it.
			var summaryArg *string
			if cmd.Flags().Changed("summary") {
				summaryArg = &summary
			}
			if _, err := client.Revision(revid).Rollback(ctx, summaryArg, bot); err != nil {
				return err
			}
			log.With(map[string]interface{}{"revid": revid}).Info("rolled back")
			return nil
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "rollback summary (empty blanks the default)")
	cmd.Flags().BoolVar(&bot, "bot", false, "hide the rollback from recent changes")
	return cmd
}

func mirrorCmd(cfg *config.Config, log logger.Logger) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "mirror <title>...",
		Short: "snapshot pages and their histories into the local mirror",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := newSession(ctx, cfg, log)
			if err != nil {
				return err
			}
			store, err := mirror.Open(cfg.Mirror.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			for _, title := range args {
				if err := mirrorPage(ctx, client, store, log, title, limit); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of revisions to mirror (0 for all)")
	return cmd
}

func mirrorPage(ctx context.Context, client *wiki.Client, store *mirror.Store, log logger.Logger, title string, limit int) error {
	page := client.Page(title)
	content, err := page.Content(ctx)
	if err != nil {
		return err
	}
	pageid, err := page.PageID(ctx)
	if err != nil {
		return err
	}
	ns, err := page.Namespace(ctx)
	if err != nil {
		return err
	}
	normalized, err := page.Title(ctx)
	if err != nil {
		return err
	}
	if err := store.SavePage(ctx, &mirror.Page{
		PageID:    pageid,
		Title:     normalized,
		Namespace: ns,
		Content:   content,
		FetchedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	revs, err := page.Revisions(ctx, limit)
	if err != nil {
		return err
	}
	saved := 0
	for _, rev := range revs {
		snapshot := &mirror.Revision{RevID: rev.RevID(), PageID: pageid}
		if snapshot.Content, err = rev.Content(ctx); err != nil {
			var suppressed *wiki.NonexistentError
			if !errors.As(err, &suppressed) {
				return err
			}
			// Suppressed content: mirror the metadata only.
			snapshot.Content = ""
		}
		if user, err := rev.User(ctx); err == nil {
			snapshot.User = user.Name()
		}
		if ts, err := rev.Timestamp(ctx); err == nil {
			snapshot.Timestamp = ts
		}
		if comment, err := rev.Summary(ctx); err == nil {
			snapshot.Comment = comment
		}
		if minor, err := rev.IsMinor(ctx); err == nil {
			snapshot.Minor = minor
		}
		if prev, err := rev.PrevRevision(ctx); err == nil && prev != nil {
			snapshot.ParentID = prev.RevID()
		}
		if err := store.SaveRevision(ctx, snapshot); err != nil {
			return err
		}
		saved++
	}
	log.With(map[string]interface{}{"title": normalized, "revisions": saved}).Info("page mirrored")
	return nil
}

func whoamiCmd(cfg *config.Config, log logger.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "print the account the session is authenticated as",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := newSession(ctx, cfg, log)
			if err != nil {
				return err
			}
			name, err := client.UserInfo(ctx)
			if err != nil {
				return err
			}
			fmt.Println(name)
			return nil
		},
	}
}
