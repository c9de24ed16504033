package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	openrpc2proto "github.com/reoring/openrpc2proto"
	"github.com/reoring/openrpc2proto/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch sub := os.Args[1]; sub {
	case "generate":
		err = generateCmd(ctx, os.Args[2:])
	case "print":
		err = printCmd(ctx, os.Args[2:])
	case "watch":
		err = watchCmd(ctx, os.Args[2:])
	case "schema":
		err = schemaCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatalf("%s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `openrpc2proto compiles OpenRPC documents into proto3 files.

Usage:
  openrpc2proto generate -config openrpc2proto.yaml
  openrpc2proto generate -spec main=api.json [-spec ws=ws.yaml] -out gen
  openrpc2proto print    [same flags as generate]
  openrpc2proto watch    [same flags as generate]
  openrpc2proto schema

Common flags:
  -log-format text|json   log output format (default text)
  -log-level  LEVEL       debug, info, warn or error (default info)`)
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

// flags are shared by generate, print and watch.
type flags struct {
	config      string
	specs       []string
	product     string
	version     string
	out         string
	comments    bool
	descriptors bool
	logFormat   string
	logLevel    string
}

func parseFlags(name string, args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&f.config, "config", "", "config file")
	fs.Func("spec", "namespace=path of a spec document (repeatable)", func(v string) error {
		if !strings.Contains(v, "=") {
			return fmt.Errorf("want namespace=path, got %q", v)
		}
		f.specs = append(f.specs, v)
		return nil
	})
	fs.StringVar(&f.product, "product", "", "product name (default from method names)")
	fs.StringVar(&f.version, "version", "", "version override (default info.version)")
	fs.StringVar(&f.out, "out", "", "output root (default "+config.DefaultOut+")")
	fs.BoolVar(&f.comments, "comments", false, "emit titles and descriptions as comments")
	fs.BoolVar(&f.descriptors, "descriptors", false, "write a binary descriptor set per version")
	fs.StringVar(&f.logFormat, "log-format", "text", "log format: text or json")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if (f.config == "") == (len(f.specs) == 0) {
		fs.Usage()
		return nil, errors.New("exactly one of -config or -spec is required")
	}
	return f, nil
}

// load returns the config named by -config, or one built from -spec flags.
// Explicit flags win over the file.
func (f *flags) load() (*config.Config, error) {
	var c *config.Config
	if f.config != "" {
		var err error
		if c, err = config.Load(f.config); err != nil {
			return nil, err
		}
	} else {
		c = &config.Config{Out: config.DefaultOut, Versions: []config.Version{{}}}
		for _, s := range f.specs {
			ns, path, _ := strings.Cut(s, "=")
			c.Versions[0].Documents = append(c.Versions[0].Documents, config.Document{Namespace: ns, Path: path})
		}
	}
	if f.product != "" {
		c.Product = f.product
	}
	if f.version != "" {
		for i := range c.Versions {
			c.Versions[i].Name = f.version
		}
	}
	if f.out != "" {
		c.Out = f.out
	}
	c.Comments = c.Comments || f.comments
	c.Descriptors = c.Descriptors || f.descriptors
	return c, nil
}

func (f *flags) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.logLevel)); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch f.logFormat {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", f.logFormat)
}

type outcome struct {
	version config.Version
	result  *openrpc2proto.Result
	err     error
}

// compileAll compiles every version of c concurrently. Versions share no
// state, so a failure in one does not stop the others.
func compileAll(ctx context.Context, c *config.Config, log *slog.Logger) []outcome {
	runID := uuid.NewString()
	out := make([]outcome, len(c.Versions))
	var wg sync.WaitGroup
	for i, v := range c.Versions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts := c.Options(v)
			opts.Logger = log.With("run_id", runID, "version", v.Name)
			res, err := openrpc2proto.CompileSources(ctx, opts, c.Sources(v)...)
			out[i] = outcome{version: v, result: res, err: err}
		}()
	}
	wg.Wait()
	return out
}

func joinErrors(outs []outcome) error {
	var errs []error
	for _, o := range outs {
		if o.err != nil {
			errs = append(errs, o.err)
		}
	}
	return errors.Join(errs...)
}

// generate compiles and writes every version. Nothing is written for a
// version that failed.
func generate(ctx context.Context, c *config.Config, log *slog.Logger) error {
	outs := compileAll(ctx, c, log)
	for _, o := range outs {
		if o.err != nil {
			logFailure(log, o.err)
			continue
		}
		if err := openrpc2proto.WriteResult(c.OutDir(), o.result); err != nil {
			return err
		}
		log.Info("generated", "version", o.result.Version, "files", len(o.result.Files), "hoisted", o.result.Hoisted, "out", c.OutDir())
	}
	return joinErrors(outs)
}

func logFailure(log *slog.Logger, err error) {
	d, ok := openrpc2proto.AsError(err)
	if !ok {
		log.Error("compile failed", "err", err)
		return
	}
	log.Error("compile failed", "code", d.Code, "namespace", d.Namespace, "type", d.Type, "path", d.Path, "err", d.Message)
}

func generateCmd(ctx context.Context, args []string) error {
	f, err := parseFlags("generate", args)
	if err != nil {
		return err
	}
	log, err := f.logger()
	if err != nil {
		return err
	}
	c, err := f.load()
	if err != nil {
		return err
	}
	return generate(ctx, c, log)
}

type fileSummary struct {
	Namespace string   `json:"namespace"`
	Path      string   `json:"path"`
	Package   string   `json:"package"`
	Imports   []string `json:"imports,omitempty"`
	Bytes     int      `json:"bytes"`
}

type versionSummary struct {
	Product string        `json:"product"`
	Version string        `json:"version"`
	Hoisted int           `json:"hoisted"`
	Files   []fileSummary `json:"files"`
}

// printCmd compiles without writing and prints a JSON summary of the layout.
func printCmd(ctx context.Context, args []string) error {
	f, err := parseFlags("print", args)
	if err != nil {
		return err
	}
	log, err := f.logger()
	if err != nil {
		return err
	}
	c, err := f.load()
	if err != nil {
		return err
	}
	outs := compileAll(ctx, c, log)
	if err := joinErrors(outs); err != nil {
		return err
	}
	summaries := make([]versionSummary, 0, len(outs))
	for _, o := range outs {
		s := versionSummary{Product: o.result.Product, Version: o.result.Version, Hoisted: o.result.Hoisted}
		for _, file := range o.result.Files {
			s.Files = append(s.Files, fileSummary{
				Namespace: file.Namespace,
				Path:      file.Path,
				Package:   file.Package,
				Imports:   file.Imports,
				Bytes:     len(file.Content),
			})
		}
		summaries = append(summaries, s)
	}
	b, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}

func schemaCmd(args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	b, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(b))
	return err
}
