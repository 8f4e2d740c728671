package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"rxfirestore/internal/di"
	httpAdapter "rxfirestore/internal/firestore/adapter/http"
	"rxfirestore/internal/firestore/config"
	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/usecase"

	"github.com/alecthomas/kong"
)

type cmdGet struct {
	Path string `arg:"" help:"Document path, e.g. users/alice."`
}

type cmdSet struct {
	Path        string   `arg:"" help:"Document path."`
	Data        string   `arg:"" help:"Document fields as a JSON object."`
	Merge       bool     `short:"m" help:"Merge into the existing document instead of replacing it."`
	MergeFields []string `help:"Merge only these dotted field paths."`
}

type cmdUpdate struct {
	Path string `arg:"" help:"Document path."`
	Data string `arg:"" help:"Fields to update as a JSON object; keys may be dotted paths."`
}

type cmdDelete struct {
	Path string `arg:"" help:"Document path."`
}

type cmdAdd struct {
	Collection string `arg:"" help:"Collection path, e.g. users."`
	Data       string `arg:"" help:"Document fields as a JSON object."`
}

type cmdQuery struct {
	Collection string   `arg:"" help:"Collection path."`
	Where      []string `short:"w" sep:"none" help:"Filter as 'field op value'; value is JSON or a bare string. Repeatable."`
	Order      []string `short:"o" help:"Order by field, optionally suffixed with :desc."`
	Limit      int      `short:"l" help:"Maximum number of documents."`
}

type cmdListen struct {
	Path  string `arg:"" help:"Document path, or collection path with --query."`
	Query bool   `short:"q" help:"Listen to a whole collection."`
	Count int    `short:"n" help:"Stop after this many snapshots; 0 listens until interrupted."`
}

type cmdPurge struct {
	Collection string `arg:"" help:"Collection path."`
	BatchLimit int    `default:"100" help:"Documents deleted per atomic batch."`
}

type cmdToken struct {
	Subject string `arg:"" help:"Subject (user id) to issue a gateway token for."`
}

type cliArgs struct {
	EnvFile []string `short:"e" help:"Dotenv files to load before reading configuration."`
	Backend string   `short:"b" help:"Override BACKEND (memory, mongodb, firestore, remote)."`
	Verbose bool     `short:"v" help:"Log at the configured level instead of errors only."`

	Get    cmdGet    `cmd:"" help:"Print a document snapshot."`
	Set    cmdSet    `cmd:"" help:"Write a document."`
	Update cmdUpdate `cmd:"" help:"Update fields of an existing document."`
	Delete cmdDelete `cmd:"" help:"Delete a document."`
	Add    cmdAdd    `cmd:"" help:"Add a document with a generated id."`
	Query  cmdQuery  `cmd:"" help:"Run a query over a collection."`
	Listen cmdListen `cmd:"" help:"Stream snapshots of a document or collection."`
	Purge  cmdPurge  `cmd:"" help:"Delete every document of a collection in batches."`
	Token  cmdToken  `cmd:"" help:"Issue a gateway access token from JWT_SECRET."`
}

// CliConfig holds the process hooks of the CLI.
type CliConfig struct {
	Name        string
	Description string
	Exit        func(int)
	Stdout      io.Writer
	Stderr      io.Writer

	// Firestore, when set, is used instead of connecting the configured
	// backend.
	Firestore *usecase.FirestoreUsecase
}

// NewCliConfig returns the configuration used by main.
func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "rxfsctl",
		Description: "Read, write and listen to documents through any rxfirestore backend.",
		Exit:        os.Exit,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// Cli parses args and runs the selected subcommand until ctx is done.
func Cli(ctx context.Context, args []string, config *CliConfig) (int, error) {
	cli := &cliArgs{}
	parser, err := kong.New(cli,
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
	)
	if err != nil {
		return 1, err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return 2, err
	}

	r := &runner{cli: cli, out: json.NewEncoder(config.Stdout), firestore: config.Firestore}
	r.out.SetIndent("", "  ")

	cmd := kctx.Command()
	if cmd == "token <subject>" {
		return r.token()
	}

	if r.firestore == nil {
		closeFn, err := r.connect(ctx)
		if err != nil {
			return 1, err
		}
		defer closeFn()
	}

	switch cmd {
	case "get <path>":
		err = r.get(ctx)
	case "set <path> <data>":
		err = r.set(ctx)
	case "update <path> <data>":
		err = r.update(ctx)
	case "delete <path>":
		err = r.delete(ctx)
	case "add <collection> <data>":
		err = r.add(ctx)
	case "query <collection>":
		err = r.query(ctx)
	case "listen <path>":
		err = r.listen(ctx)
	case "purge <collection>":
		err = r.purge(ctx)
	default:
		err = fmt.Errorf("unrecognized command: %s", cmd)
	}
	if err != nil {
		return 1, err
	}
	return 0, nil
}

type runner struct {
	cli       *cliArgs
	out       *json.Encoder
	firestore *usecase.FirestoreUsecase
}

func (r *runner) loadConfig() (*config.Config, error) {
	cli := r.cli
	cfg, err := config.LoadConfig(cli.EnvFile...)
	if err != nil {
		return nil, err
	}
	if cli.Backend != "" {
		cfg.Backend = cli.Backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if !cli.Verbose {
		cfg.Log.Level = "error"
	}
	return cfg, nil
}

func (r *runner) connect(ctx context.Context) (func(), error) {
	cfg, err := r.loadConfig()
	if err != nil {
		return nil, err
	}
	container := di.NewContainer(cfg)
	if err := container.InitializeFirestore(ctx); err != nil {
		return nil, err
	}
	r.firestore = container.Firestore()
	return func() { _ = container.Close() }, nil
}

func (r *runner) token() (int, error) {
	cfg, err := r.loadConfig()
	if err != nil {
		return 1, err
	}
	tokens, err := httpAdapter.NewTokenService(cfg.Server)
	if err != nil {
		return 1, err
	}
	token, err := tokens.GenerateToken(r.cli.Token.Subject)
	if err != nil {
		return 1, err
	}
	return 0, r.out.Encode(map[string]string{"token": token})
}

func (r *runner) get(ctx context.Context) error {
	snap, err := r.firestore.Doc(model.Doc(r.cli.Get.Path)).Get().Await(ctx)
	if err != nil {
		return err
	}
	return r.out.Encode(snap)
}

func (r *runner) set(ctx context.Context) error {
	fields, err := model.DecodeFields([]byte(r.cli.Set.Data))
	if err != nil {
		return fmt.Errorf("invalid document data: %w", err)
	}
	doc := r.firestore.Doc(model.Doc(r.cli.Set.Path))
	opts := model.SetOptions{Merge: r.cli.Set.Merge, MergeFields: r.cli.Set.MergeFields}
	if opts.IsMerge() {
		_, err = doc.SetWithOptions(fields, opts).Await(ctx)
	} else {
		_, err = doc.Set(fields).Await(ctx)
	}
	return err
}

func (r *runner) update(ctx context.Context) error {
	fields, err := model.DecodeFields([]byte(r.cli.Update.Data))
	if err != nil {
		return fmt.Errorf("invalid update data: %w", err)
	}
	_, err = r.firestore.Doc(model.Doc(r.cli.Update.Path)).Update(fields).Await(ctx)
	return err
}

func (r *runner) delete(ctx context.Context) error {
	_, err := r.firestore.Doc(model.Doc(r.cli.Delete.Path)).Delete().Await(ctx)
	return err
}

func (r *runner) add(ctx context.Context) error {
	fields, err := model.DecodeFields([]byte(r.cli.Add.Data))
	if err != nil {
		return fmt.Errorf("invalid document data: %w", err)
	}
	ref, err := r.firestore.Collection(model.Collection(r.cli.Add.Collection)).Add(fields).Await(ctx)
	if err != nil {
		return err
	}
	return r.out.Encode(ref)
}

func (r *runner) query(ctx context.Context) error {
	q, err := buildQuery(r.cli.Query.Collection, r.cli.Query.Where, r.cli.Query.Order, r.cli.Query.Limit)
	if err != nil {
		return err
	}
	snap, err := r.firestore.Query(q).GetAll().Await(ctx)
	if err != nil {
		return err
	}
	return r.out.Encode(snap)
}

func (r *runner) listen(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	received := 0
	emit := func(v any) error {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.out.Encode(v); err != nil {
			return err
		}
		received++
		if r.cli.Listen.Count > 0 && received >= r.cli.Listen.Count {
			cancel()
		}
		return nil
	}

	if r.cli.Listen.Query {
		for event := range r.firestore.Collection(model.Collection(r.cli.Listen.Path)).Listen(nil).Events(ctx) {
			if event.Err != nil {
				return event.Err
			}
			if err := emit(event.Value); err != nil {
				return err
			}
		}
		return nil
	}
	for event := range r.firestore.Doc(model.Doc(r.cli.Listen.Path)).Listen(nil).Events(ctx) {
		if event.Err != nil {
			return event.Err
		}
		if err := emit(event.Value); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) purge(ctx context.Context) error {
	col := r.firestore.Collection(model.Collection(r.cli.Purge.Collection))
	total := 0
	for {
		deleted, err := col.DeleteAllCount(r.cli.Purge.BatchLimit).Await(ctx)
		if err != nil {
			return err
		}
		if deleted == 0 {
			break
		}
		total += deleted
	}
	return r.out.Encode(map[string]int{"deleted": total})
}

// buildQuery parses --where clauses of the form "field op value" and
// --order values of the form "field[:desc]".
func buildQuery(collection string, where, order []string, limit int) (model.Query, error) {
	q := model.Collection(collection).Query()
	for _, clause := range where {
		parts := strings.SplitN(strings.TrimSpace(clause), " ", 3)
		if len(parts) != 3 {
			return model.Query{}, fmt.Errorf("invalid filter %q: want 'field op value'", clause)
		}
		q = q.Where(parts[0], parts[1], parseValue(strings.TrimSpace(parts[2])))
	}
	for _, o := range order {
		field, direction, _ := strings.Cut(o, ":")
		if direction == "" {
			direction = model.Ascending
		}
		q = q.OrderBy(field, direction)
	}
	if limit > 0 {
		q = q.LimitTo(limit)
	}
	return q, nil
}

// parseValue decodes raw as JSON and falls back to the raw string.
func parseValue(raw string) any {
	fields, err := model.DecodeFields([]byte(`{"v":` + raw + `}`))
	if err != nil {
		return raw
	}
	return fields["v"]
}
