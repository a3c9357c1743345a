package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/SscSPs/bearer_gate/internal/apperrors"
	"github.com/SscSPs/bearer_gate/internal/core/domain"
	portssvc "github.com/SscSPs/bearer_gate/internal/core/ports/services"
	"github.com/SscSPs/bearer_gate/internal/core/services"
	"github.com/urfave/cli/v2"
)

// TokenCommand returns the token subcommand group.
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Manage bearer tokens",
		Subcommands: []*cli.Command{
			{
				Name:  "issue",
				Usage: "Issue a new token and print it once",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "client-id",
						Aliases:  []string{"c"},
						Usage:    "Owner of the token",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "ttl",
						Usage: "Lifetime, e.g. 720h. Omit for a non-expiring token",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print JSON",
					},
				},
				Action: tokenIssue,
			},
			{
				Name:  "list",
				Usage: "List tokens. Secrets are never shown",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print JSON",
					},
				},
				Action: tokenList,
			},
			{
				Name:      "revoke",
				Usage:     "Revoke a token by hash or raw value",
				ArgsUsage: "HASH|TOKEN",
				Action:    tokenRevoke,
			},
		},
	}
}

// withTokenService opens the store for the duration of fn.
func withTokenService(c *cli.Context, fn func(svc portssvc.TokenSvc) error) (err error) {
	cfg, logger := runtimeFrom(c)
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	store, _, err := openStore(c.Context, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close token store: %w", cerr)
		}
	}()

	return fn(services.NewTokenService(store, services.WithLogger(logger)))
}

type issueOutput struct {
	Token    string               `json:"token"`
	Metadata domain.TokenMetadata `json:"metadata"`
}

func tokenIssue(c *cli.Context) error {
	req := portssvc.IssueTokenRequest{ClientID: c.String("client-id")}
	if c.IsSet("ttl") {
		ttl := c.Duration("ttl")
		req.TTL = &ttl
	}

	return withTokenService(c, func(svc portssvc.TokenSvc) error {
		raw, meta, err := svc.Issue(c.Context, req)
		if err != nil {
			return err
		}

		w := c.App.Writer
		if c.Bool("json") {
			return writeJSON(w, issueOutput{Token: raw, Metadata: *meta})
		}
		fmt.Fprintf(w, "Token issued for %s\n\n", meta.ClientID)
		fmt.Fprintf(w, "  token:   %s\n", raw)
		fmt.Fprintf(w, "  hash:    %s\n", meta.TokenHash)
		fmt.Fprintf(w, "  expires: %s\n\n", formatTime(meta.ExpiresAt, "never"))
		fmt.Fprintln(w, "Store the token now. It cannot be shown again.")
		return nil
	})
}

func tokenList(c *cli.Context) error {
	return withTokenService(c, func(svc portssvc.TokenSvc) error {
		tokens, err := svc.List(c.Context)
		if err != nil {
			return err
		}

		w := c.App.Writer
		if c.Bool("json") {
			return writeJSON(w, tokens)
		}

		now := time.Now()
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TOKEN HASH\tCLIENT ID\tSTATE\tISSUED AT\tEXPIRES AT\tLAST USED")
		for _, tok := range tokens {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				tok.TokenHash,
				tok.ClientID,
				tok.State(now),
				formatTime(&tok.IssuedAt, "-"),
				formatTime(tok.ExpiresAt, "never"),
				formatTime(tok.LastUsedAt, "never"),
			)
		}
		return tw.Flush()
	})
}

func tokenRevoke(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: token revoke HASH|TOKEN", 2)
	}
	ref := c.Args().First()

	return withTokenService(c, func(svc portssvc.TokenSvc) error {
		if err := svc.Revoke(c.Context, ref); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return cli.Exit("token not found", 1)
			}
			return err
		}
		fmt.Fprintln(c.App.Writer, "Token revoked")
		return nil
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatTime(t *time.Time, empty string) string {
	if t == nil {
		return empty
	}
	return t.UTC().Format(time.RFC3339)
}
