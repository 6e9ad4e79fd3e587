package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ericfisherdev/mlbridge/internal/domain/archive"
	"github.com/ericfisherdev/mlbridge/internal/domain/mbox"
	"github.com/ericfisherdev/mlbridge/internal/domain/model"
)

var senderFlag = &cli.StringFlag{
	Name:  "sender",
	Usage: "Override the Sender of every parsed message",
}

func threadsCommand() *cli.Command {
	return &cli.Command{
		Name:      "threads",
		Usage:     "Print the conversation tree of an archive",
		ArgsUsage: "<file.mbox>",
		Flags:     []cli.Flag{senderFlag},
		Action:    runThreads,
	}
}

func itemsCommand() *cli.Command {
	return &cli.Command{
		Name:      "items",
		Usage:     "List archived messages with their bridge headers",
		ArgsUsage: "<file.mbox>",
		Flags:     []cli.Flag{senderFlag},
		Action:    runItems,
	}
}

func stableIDCommand() *cli.Command {
	return &cli.Command{
		Name:  "stable-id",
		Usage: "Compute the stable message id prefix of a pull request item",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "repo", Usage: "Repository as owner/name", Required: true},
			&cli.IntFlag{Name: "pr", Usage: "Pull request number", Required: true},
			&cli.StringFlag{Name: "item", Usage: "Item id, e.g. fc or rv12", Required: true},
			&cli.StringFlag{Name: "host", Usage: "Message id domain", Value: "github.com"},
		},
		Action: runStableID,
	}
}

func loadArchive(c *cli.Context) ([]model.Email, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one archive file, got %d arguments", c.NArg())
	}
	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	sender, err := parseSender(c.String("sender"))
	if err != nil {
		return nil, err
	}
	return mbox.Parse(string(data), sender), nil
}

func parseSender(s string) (model.Address, error) {
	if s == "" {
		return model.Address{}, nil
	}
	addr, err := model.ParseAddress(s)
	if err != nil {
		return model.Address{}, fmt.Errorf("invalid --sender: %w", err)
	}
	return addr, nil
}

func runThreads(c *cli.Context) error {
	emails, err := loadArchive(c)
	if err != nil {
		return err
	}

	out := c.App.Writer
	for _, conv := range mbox.Conversations(emails, logger(c)) {
		printThread(out, conv, conv.First, 0)
	}
	return nil
}

func printThread(out io.Writer, conv *mbox.Conversation, e model.Email, depth int) {
	fmt.Fprintf(out, "%s%s  %s  (%s)\n", strings.Repeat("  ", depth), e.ID.Address, e.Subject, e.Author.Address)
	for _, r := range conv.Replies(e) {
		printThread(out, conv, r, depth+1)
	}
}

func runItems(c *cli.Context) error {
	emails, err := loadArchive(c)
	if err != nil {
		return err
	}

	out := c.App.Writer
	for _, e := range emails {
		fmt.Fprintf(out, "%s\t%s\t%s\n", archive.StableID(e.ID), e.Date.UTC().Format("2006-01-02T15:04:05Z"), e.Subject)
		for _, h := range e.Headers {
			if strings.HasPrefix(h.Name, archive.HeaderPrefix) {
				fmt.Fprintf(out, "\t%s: %s\n", h.Name, h.Value)
			}
		}
	}
	return nil
}

func runStableID(c *cli.Context) error {
	if c.Int("pr") <= 0 {
		return fmt.Errorf("--pr must be positive")
	}
	ids := archive.NewMessageIDs(c.String("repo"), c.Int("pr"), c.String("host"))
	fmt.Fprintln(c.App.Writer, ids.Stable(c.String("item")))
	return nil
}
