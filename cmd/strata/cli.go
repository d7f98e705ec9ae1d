package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/ops"
	"github.com/hpungsan/strata/internal/revision"
	"github.com/hpungsan/strata/internal/web"
)

// maxStdinBytes caps content piped into the CLI.
const maxStdinBytes = 4 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *ops.Env) *cli.App {
	app := &cli.App{
		Name:    "strata",
		Usage:   "Revision and consistency engine for shared documents",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "project", Aliases: []string{"p"}, Value: ops.DefaultProject, Usage: "Project scope"},
			&cli.StringFlag{Name: "actor", Aliases: []string{"a"}, EnvVars: []string{"STRATA_ACTOR"}, Usage: "Actor id recorded in history and audit"},
		},
		Commands: []*cli.Command{
			docCmd(env),
			revCmd(env),
			moduleCmd(env),
			conflictCmd(env),
			auditCmd(env),
			serveCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// docCmd groups document commands.
func docCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "doc",
		Usage: "Manage documents",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a document (initial content optionally piped via stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Required: true, Usage: "Document path, unique per project"},
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Document title"},
				},
				Action: func(c *cli.Context) error {
					content, err := optionalStdin()
					if err != nil {
						return outputError(err)
					}
					return run(ops.CreateDocument(c.Context, env, ops.CreateDocumentInput{
						ProjectID: c.String("project"),
						Path:      c.String("path"),
						Title:     flagPtr(c, "title"),
						Content:   content,
						ActorID:   flagPtr(c, "actor"),
					}))
				},
			},
			{
				Name:      "get",
				Usage:     "Show a document by id or --path",
				ArgsUsage: "[id]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Usage: "Document path"},
					&cli.BoolFlag{Name: "html", Usage: "Include rendered HTML"},
				},
				Action: func(c *cli.Context) error {
					return run(ops.GetDocument(c.Context, env, ops.GetDocumentInput{
						ProjectID:   c.String("project"),
						ID:          c.Args().First(),
						Path:        c.String("path"),
						IncludeHTML: c.Bool("html"),
					}))
				},
			},
			{
				Name:  "list",
				Usage: "List documents",
				Flags: pageFlags(),
				Action: func(c *cli.Context) error {
					return run(ops.ListDocuments(c.Context, env, ops.ListDocumentsInput{
						ProjectID: c.String("project"),
						Limit:     c.Int("limit"),
						Offset:    c.Int("offset"),
					}))
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a document and everything it owns",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "document id")
					if err != nil {
						return err
					}
					return run(ops.DeleteDocument(c.Context, env, ops.DeleteDocumentInput{
						ProjectID: c.String("project"),
						ID:        id,
						ActorID:   flagPtr(c, "actor"),
					}))
				},
			},
			{
				Name:      "versions",
				Usage:     "List a document's content snapshots",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "document id")
					if err != nil {
						return err
					}
					return run(ops.ListVersions(c.Context, env, ops.ListVersionsInput{
						ProjectID:  c.String("project"),
						DocumentID: id,
					}))
				},
			},
			{
				Name:      "extract",
				Usage:     "Decompose the document into modules by heading",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "document id")
					if err != nil {
						return err
					}
					return run(ops.ExtractModules(c.Context, env, ops.ExtractModulesInput{
						ProjectID:  c.String("project"),
						DocumentID: id,
						ActorID:    flagPtr(c, "actor"),
					}))
				},
			},
		},
	}
}

// revCmd groups revision commands.
func revCmd(env *ops.Env) *cli.Command {
	action := func(c *cli.Context) (ops.RevisionActionInput, error) {
		id, err := requireArg(c, "revision id")
		if err != nil {
			return ops.RevisionActionInput{}, err
		}
		return ops.RevisionActionInput{
			ProjectID:  c.String("project"),
			RevisionID: id,
			ActorID:    flagPtr(c, "actor"),
			Reason:     flagPtr(c, "reason"),
		}, nil
	}

	return &cli.Command{
		Name:  "rev",
		Usage: "Manage revisions",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a revision (content piped via stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "doc", Aliases: []string{"d"}, Required: true, Usage: "Document id"},
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true, Usage: "Short summary of the change"},
					&cli.StringFlag{Name: "description", Usage: "Longer explanation"},
					&cli.StringFlag{Name: "based-on", Aliases: []string{"b"}, Usage: "Revision this edit started from"},
					&cli.BoolFlag{Name: "propose", Usage: "Submit for review immediately"},
					&cli.StringFlag{Name: "author-type", Value: string(revision.AuthorUser), Usage: "user|ai|system"},
					&cli.StringFlag{Name: "source-client", Usage: "Client tag"},
				},
				Action: func(c *cli.Context) error {
					if !stdinHasData() {
						return outputError(errors.NewInvalidRequest("content must be piped via stdin"))
					}
					content, err := readStdin(maxStdinBytes)
					if err != nil {
						return outputError(err)
					}
					return run(ops.CreateRevision(c.Context, env, ops.CreateRevisionInput{
						ProjectID:    c.String("project"),
						DocumentID:   c.String("doc"),
						Title:        c.String("title"),
						Description:  flagPtr(c, "description"),
						Content:      content,
						BasedOn:      flagPtr(c, "based-on"),
						Propose:      c.Bool("propose"),
						AuthorID:     flagPtr(c, "actor"),
						AuthorType:   revision.AuthorType(c.String("author-type")),
						SourceClient: flagPtr(c, "source-client"),
					}))
				},
			},
			{
				Name:      "propose",
				Usage:     "Submit a draft for review",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					in, err := action(c)
					if err != nil {
						return err
					}
					return run(ops.ProposeRevision(c.Context, env, in))
				},
			},
			{
				Name:      "approve",
				Usage:     "Make a proposed revision the document's main revision",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					in, err := action(c)
					if err != nil {
						return err
					}
					return run(ops.ApproveRevision(c.Context, env, in))
				},
			},
			{
				Name:      "reject",
				Usage:     "Reject a draft, proposed or conflicted revision",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Aliases: []string{"r"}, Usage: "Why"},
				},
				Action: func(c *cli.Context) error {
					in, err := action(c)
					if err != nil {
						return err
					}
					return run(ops.RejectRevision(c.Context, env, in))
				},
			},
			{
				Name:      "rebase",
				Usage:     "Re-create a revision on the current main (replacement content optionally piped via stdin)",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					in, err := action(c)
					if err != nil {
						return err
					}
					content, err := optionalStdin()
					if err != nil {
						return outputError(err)
					}
					var override *string
					if content != "" {
						override = &content
					}
					return run(ops.RebaseRevision(c.Context, env, ops.RebaseRevisionInput{
						ProjectID:  in.ProjectID,
						RevisionID: in.RevisionID,
						ActorID:    in.ActorID,
						Content:    override,
					}))
				},
			},
			{
				Name:      "status",
				Usage:     "Show a revision's review state",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "revision id")
					if err != nil {
						return err
					}
					return run(ops.GetRevisionStatus(c.Context, env, ops.GetRevisionInput{
						ProjectID:  c.String("project"),
						RevisionID: id,
					}))
				},
			},
			{
				Name:  "list",
				Usage: "List a document's revisions",
				Flags: append(pageFlags(),
					&cli.StringFlag{Name: "doc", Aliases: []string{"d"}, Required: true, Usage: "Document id"},
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status"},
				),
				Action: func(c *cli.Context) error {
					return run(ops.ListRevisions(c.Context, env, ops.ListRevisionsInput{
						ProjectID:  c.String("project"),
						DocumentID: c.String("doc"),
						Status:     flagPtr(c, "status"),
						Limit:      c.Int("limit"),
						Offset:     c.Int("offset"),
					}))
				},
			},
			{
				Name:      "diff",
				Usage:     "Show the stored diff of a revision against its base",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "unified", Aliases: []string{"u"}, Usage: "Print only the unified diff text"},
					&cli.BoolFlag{Name: "lines", Usage: "Include per-line diff"},
					&cli.BoolFlag{Name: "body", Usage: "Include hunk bodies"},
				},
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "revision id")
					if err != nil {
						return err
					}
					out, err := ops.GetRevisionDiff(c.Context, env, ops.GetRevisionDiffInput{
						ProjectID:    c.String("project"),
						RevisionID:   id,
						IncludeLines: c.Bool("lines"),
						IncludeBody:  c.Bool("body"),
					})
					if err != nil {
						return outputError(err)
					}
					if c.Bool("unified") {
						_, err := io.WriteString(os.Stdout, out.Unified)
						return err
					}
					return outputJSON(out)
				},
			},
		},
	}
}

// moduleCmd groups module commands.
func moduleCmd(env *ops.Env) *cli.Command {
	groundFlags := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{Name: "reason", Aliases: []string{"r"}, Usage: "Why"},
			&cli.Float64Flag{Name: "confidence", Usage: "Confidence 0..1"},
			&cli.StringFlag{Name: "source", Usage: "Grounding source (default manual)"},
		}
	}

	ground := func(grounded bool) cli.ActionFunc {
		return func(c *cli.Context) error {
			ids := c.Args().Slice()
			if len(ids) == 0 {
				return outputError(errors.NewInvalidRequest("at least one module id is required"))
			}
			var confidence *float64
			if c.IsSet("confidence") {
				v := c.Float64("confidence")
				confidence = &v
			}
			if len(ids) > 1 {
				return run(ops.BatchGround(c.Context, env, ops.BatchGroundInput{
					ProjectID:  c.String("project"),
					ModuleIDs:  ids,
					Grounded:   grounded,
					Reason:     flagPtr(c, "reason"),
					Confidence: confidence,
					Source:     c.String("source"),
					ActorID:    flagPtr(c, "actor"),
				}))
			}
			in := ops.GroundModuleInput{
				ProjectID:  c.String("project"),
				ModuleID:   ids[0],
				Reason:     flagPtr(c, "reason"),
				Confidence: confidence,
				Source:     c.String("source"),
				ActorID:    flagPtr(c, "actor"),
			}
			if grounded {
				return run(ops.GroundModule(c.Context, env, in))
			}
			return run(ops.UngroundModule(c.Context, env, in))
		}
	}

	return &cli.Command{
		Name:  "module",
		Usage: "Manage knowledge modules",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a module (content piped via stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "doc", Aliases: []string{"d"}, Required: true, Usage: "Document id"},
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true, Usage: "Module title"},
					&cli.StringFlag{Name: "key", Aliases: []string{"k"}, Usage: "Module key (default: slug of title)"},
					&cli.StringFlag{Name: "type", Usage: "Module type (default: section)"},
					&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
					&cli.StringFlag{Name: "depends-on", Usage: "Comma-separated module keys"},
				},
				Action: func(c *cli.Context) error {
					if !stdinHasData() {
						return outputError(errors.NewInvalidRequest("content must be piped via stdin"))
					}
					content, err := readStdin(maxStdinBytes)
					if err != nil {
						return outputError(err)
					}
					return run(ops.CreateModule(c.Context, env, ops.CreateModuleInput{
						ProjectID:  c.String("project"),
						DocumentID: c.String("doc"),
						ModuleKey:  c.String("key"),
						Title:      c.String("title"),
						Content:    content,
						ModuleType: c.String("type"),
						Tags:       parseList(c.String("tags")),
						DependsOn:  parseList(c.String("depends-on")),
						ActorID:    flagPtr(c, "actor"),
					}))
				},
			},
			{
				Name:      "get",
				Usage:     "Show a module",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "module id")
					if err != nil {
						return err
					}
					return run(ops.GetModule(c.Context, env, ops.GetModuleInput{
						ProjectID: c.String("project"),
						ModuleID:  id,
					}))
				},
			},
			{
				Name:  "list",
				Usage: "List modules",
				Flags: append(pageFlags(),
					&cli.StringFlag{Name: "doc", Aliases: []string{"d"}, Usage: "Restrict to one document"},
					&cli.BoolFlag{Name: "grounded-only", Aliases: []string{"g"}, Usage: "Only grounded modules"},
				),
				Action: func(c *cli.Context) error {
					return run(ops.ListModules(c.Context, env, ops.ListModulesInput{
						ProjectID:    c.String("project"),
						DocumentID:   flagPtr(c, "doc"),
						GroundedOnly: c.Bool("grounded-only"),
						Limit:        c.Int("limit"),
						Offset:       c.Int("offset"),
					}))
				},
			},
			{
				Name:      "update",
				Usage:     "Edit a module (new content optionally piped via stdin)",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "New title"},
					&cli.StringFlag{Name: "tags", Usage: "New comma-separated tags"},
					&cli.StringFlag{Name: "depends-on", Usage: "New comma-separated dependencies"},
				},
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "module id")
					if err != nil {
						return err
					}
					in := ops.UpdateModuleInput{
						ProjectID: c.String("project"),
						ModuleID:  id,
						Title:     flagPtr(c, "title"),
						ActorID:   flagPtr(c, "actor"),
					}
					content, err := optionalStdin()
					if err != nil {
						return outputError(err)
					}
					if content != "" {
						in.Content = &content
					}
					if c.IsSet("tags") {
						tags := parseList(c.String("tags"))
						in.Tags = &tags
					}
					if c.IsSet("depends-on") {
						deps := parseList(c.String("depends-on"))
						in.DependsOn = &deps
					}
					return run(ops.UpdateModuleContent(c.Context, env, in))
				},
			},
			{
				Name:      "ground",
				Usage:     "Mark modules grounded (several ids run as a batch)",
				ArgsUsage: "<id>...",
				Flags:     groundFlags(),
				Action:    ground(true),
			},
			{
				Name:      "unground",
				Usage:     "Mark modules ungrounded (several ids run as a batch)",
				ArgsUsage: "<id>...",
				Flags:     groundFlags(),
				Action:    ground(false),
			},
			{
				Name:      "history",
				Usage:     "Show a module's grounding history",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "module id")
					if err != nil {
						return err
					}
					return run(ops.ModuleHistory(c.Context, env, ops.ModuleHistoryInput{
						ProjectID: c.String("project"),
						ModuleID:  id,
					}))
				},
			},
		},
	}
}

// conflictCmd groups conflict commands.
func conflictCmd(env *ops.Env) *cli.Command {
	status := func(fn func(*cli.Context, ops.ConflictActionInput) (*ops.ConflictOutput, error)) cli.ActionFunc {
		return func(c *cli.Context) error {
			id, err := requireArg(c, "conflict id")
			if err != nil {
				return err
			}
			return run(fn(c, ops.ConflictActionInput{
				ProjectID:  c.String("project"),
				ConflictID: id,
				Note:       flagPtr(c, "note"),
				ActorID:    flagPtr(c, "actor"),
			}))
		}
	}
	noteFlag := func() []cli.Flag {
		return []cli.Flag{&cli.StringFlag{Name: "note", Aliases: []string{"n"}, Usage: "Note"}}
	}

	return &cli.Command{
		Name:  "conflict",
		Usage: "Detect and resolve conflicts between modules",
		Subcommands: []*cli.Command{
			{
				Name:  "detect",
				Usage: "Scan modules for conflicts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "doc", Aliases: []string{"d"}, Usage: "Restrict the scan to one document"},
					&cli.BoolFlag{Name: "all", Usage: "Include ungrounded modules"},
					&cli.IntFlag{Name: "max", Usage: "Scan at most this many modules"},
				},
				Action: func(c *cli.Context) error {
					return run(ops.DetectConflicts(c.Context, env, ops.DetectConflictsInput{
						ProjectID:  c.String("project"),
						DocumentID: flagPtr(c, "doc"),
						AllModules: c.Bool("all"),
						MaxModules: c.Int("max"),
						ActorID:    flagPtr(c, "actor"),
					}))
				},
			},
			{
				Name:  "list",
				Usage: "List conflicts",
				Flags: append(pageFlags(),
					&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "open|acknowledged|resolved|ignored"},
					&cli.StringFlag{Name: "severity", Usage: "critical|high|medium|low"},
					&cli.StringFlag{Name: "module", Aliases: []string{"m"}, Usage: "Conflicts involving this module"},
					&cli.StringFlag{Name: "doc", Aliases: []string{"d"}, Usage: "Conflicts anchored in this document"},
				),
				Action: func(c *cli.Context) error {
					return run(ops.ListConflicts(c.Context, env, ops.ListConflictsInput{
						ProjectID:  c.String("project"),
						Status:     flagPtr(c, "status"),
						Severity:   flagPtr(c, "severity"),
						ModuleID:   flagPtr(c, "module"),
						DocumentID: flagPtr(c, "doc"),
						Limit:      c.Int("limit"),
						Offset:     c.Int("offset"),
					}))
				},
			},
			{
				Name:      "get",
				Usage:     "Show a conflict and its modules",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "conflict id")
					if err != nil {
						return err
					}
					return run(ops.GetConflict(c.Context, env, ops.GetConflictInput{
						ProjectID:  c.String("project"),
						ConflictID: id,
					}))
				},
			},
			{
				Name:      "ack",
				Usage:     "Acknowledge an open conflict",
				ArgsUsage: "<id>",
				Flags:     noteFlag(),
				Action: status(func(c *cli.Context, in ops.ConflictActionInput) (*ops.ConflictOutput, error) {
					return ops.AcknowledgeConflict(c.Context, env, in)
				}),
			},
			{
				Name:      "ignore",
				Usage:     "Ignore a conflict without changing modules",
				ArgsUsage: "<id>",
				Flags:     noteFlag(),
				Action: status(func(c *cli.Context, in ops.ConflictActionInput) (*ops.ConflictOutput, error) {
					return ops.IgnoreConflict(c.Context, env, in)
				}),
			},
			{
				Name:      "suggest",
				Usage:     "Suggest resolution strategies",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := requireArg(c, "conflict id")
					if err != nil {
						return err
					}
					return run(ops.SuggestResolution(c.Context, env, ops.GetConflictInput{
						ProjectID:  c.String("project"),
						ConflictID: id,
					}))
				},
			},
			{
				Name:      "resolve",
				Usage:     "Resolve conflicts with one strategy (custom content optionally piped via stdin)",
				ArgsUsage: "<id>...",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "strategy", Aliases: []string{"s"}, Required: true, Usage: "merge|replace|deprecate|clarify|split_scope|version_both"},
					&cli.StringFlag{Name: "target", Usage: "Module deprecate ungrounds: anchor|conflicting"},
					&cli.StringFlag{Name: "note", Aliases: []string{"n"}, Usage: "Resolution note"},
				},
				Action: func(c *cli.Context) error {
					ids := c.Args().Slice()
					if len(ids) == 0 {
						return outputError(errors.NewInvalidRequest("at least one conflict id is required"))
					}
					content, err := optionalStdin()
					if err != nil {
						return outputError(err)
					}
					var custom *string
					if content != "" {
						custom = &content
					}
					if len(ids) > 1 {
						return run(ops.BatchResolveConflicts(c.Context, env, ops.BatchResolveInput{
							ProjectID:       c.String("project"),
							ConflictIDs:     ids,
							Strategy:        c.String("strategy"),
							CustomContent:   custom,
							Note:            flagPtr(c, "note"),
							DeprecateTarget: c.String("target"),
							ActorID:         flagPtr(c, "actor"),
						}))
					}
					return run(ops.ApplyResolution(c.Context, env, ops.ApplyResolutionInput{
						ProjectID:       c.String("project"),
						ConflictID:      ids[0],
						Strategy:        c.String("strategy"),
						CustomContent:   custom,
						Note:            flagPtr(c, "note"),
						DeprecateTarget: c.String("target"),
						ActorID:         flagPtr(c, "actor"),
					}))
				},
			},
		},
	}
}

// auditCmd lists audit events.
func auditCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "List audit events, newest first",
		Flags: append(pageFlags(),
			&cli.StringFlag{Name: "operation", Aliases: []string{"o"}, Usage: "Filter by operation"},
			&cli.StringFlag{Name: "doc", Aliases: []string{"d"}, Usage: "Filter by document"},
			&cli.StringFlag{Name: "module", Aliases: []string{"m"}, Usage: "Filter by module"},
			&cli.StringFlag{Name: "conflict", Aliases: []string{"c"}, Usage: "Filter by conflict"},
		),
		Action: func(c *cli.Context) error {
			return run(ops.ListAuditEvents(c.Context, env, ops.ListAuditEventsInput{
				ProjectID:  c.String("project"),
				Operation:  flagPtr(c, "operation"),
				DocumentID: flagPtr(c, "doc"),
				ModuleID:   flagPtr(c, "module"),
				ConflictID: flagPtr(c, "conflict"),
				Limit:      c.Int("limit"),
				Offset:     c.Int("offset"),
			}))
		},
	}
}

// serveCmd runs the JSON HTTP API.
func serveCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Value: 7420, Usage: "Port"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(env, c.String("bind"), c.Int("port"))
			return web.Run(srv, env.Log)
		},
	}
}

// Helper functions

// run writes out as JSON, or the error. Batch operations return both an
// output and a PARTIAL_FAILURE error; the output is printed before failing.
func run[T any](out *T, err error) error {
	if err != nil {
		if out != nil && errors.Is(err, errors.ErrPartialFailure) {
			_ = outputJSON(out)
		}
		return outputError(err)
	}
	return outputJSON(out)
}

func pageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Page size (max 100)"},
		&cli.IntFlag{Name: "offset", Usage: "Page offset"},
	}
}

// requireArg returns the first positional argument.
func requireArg(c *cli.Context, what string) (string, error) {
	if c.NArg() == 0 {
		return "", outputError(errors.NewInvalidRequest(what + " is required"))
	}
	return c.Args().First(), nil
}

// flagPtr returns a pointer to a non-empty string flag, nil otherwise.
func flagPtr(c *cli.Context, name string) *string {
	v := strings.TrimSpace(c.String(name))
	if v == "" {
		return nil
	}
	return &v
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, err.Error()), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// optionalStdin reads stdin when it is piped and returns "" otherwise.
func optionalStdin() (string, error) {
	if !stdinHasData() {
		return "", nil
	}
	return readStdin(maxStdinBytes)
}

// readStdin reads all content from stdin, failing if it exceeds limit bytes.
// Content is returned as-is; trailing newlines are part of markdown documents.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return string(data), nil
}

// parseList splits a comma-separated string into trimmed, non-empty items.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			items = append(items, t)
		}
	}
	return items
}
