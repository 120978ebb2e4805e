// Command busgate bridges a DBus message bus to an HTTP/JSON API.
//
// The serve subcommand runs the gateway. The remaining subcommands
// are debugging tools that run single gateway operations against the
// bus and print the result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/busgate/busgate"
	"github.com/busgate/busgate/internal/config"
	"github.com/busgate/busgate/rest"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/kr/pretty"
	"github.com/prometheus/client_golang/prometheus"
)

var globalArgs struct {
	Config string `flag:"config,Path to the config file"`
	Socket string `flag:"socket,Bus socket path (overrides config)"`
}

func main() {
	root := &command.C{
		Name:     "busgate",
		Usage:    "command args...",
		SetFlags: command.Flags(flax.MustBind, &globalArgs),
		Commands: []*command.C{
			{
				Name:  "serve",
				Usage: "serve",
				Help:  "Serve the HTTP gateway.",
				Run:   command.Adapt(runServe),
			},
			{
				Name:  "names",
				Usage: "names",
				Help:  "List the names connected to the bus.",
				Run:   command.Adapt(runNames),
			},
			{
				Name:  "list",
				Usage: "list [path]",
				Help:  "List all object paths below a path.",
				Run:   runList,
			},
			{
				Name:  "enumerate",
				Usage: "enumerate path",
				Help:  "Dump all objects and properties below a path.",
				Run:   command.Adapt(runEnumerate),
			},
			{
				Name:  "get",
				Usage: "get path [property]",
				Help:  "Read an object's properties.",
				Run:   runGet,
			},
			{
				Name:  "set",
				Usage: "set path property value",
				Help:  "Write an object property. The value is JSON.",
				Run:   command.Adapt(runSet),
			},
			{
				Name:  "call",
				Usage: "call path method [json-args]",
				Help:  "Invoke a method on an object. Arguments are a JSON array.",
				Run:   runCall,
			},
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	env := root.NewEnv(nil).SetContext(ctx)
	command.RunOrFail(env, os.Args[1:])
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalArgs.Config)
	if err != nil {
		return nil, err
	}
	if globalArgs.Socket != "" {
		cfg.BusSocket = globalArgs.Socket
	}
	return cfg, nil
}

func mapperConfig(cfg *config.Config) busgate.MapperConfig {
	if cfg.MapperService == "" {
		return busgate.MapperConfig{}
	}
	return busgate.MapperConfig{
		Service:   cfg.MapperService,
		Path:      busgate.ObjectPath(cfg.MapperPath),
		Interface: cfg.MapperInterface,
	}
}

func runServe(env *command.Env) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(log)

	conn, err := busgate.Dial(env.Context(), cfg.BusSocket)
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()
	log.Info("connected to bus", "socket", cfg.BusSocket, "name", conn.LocalName())

	reg := prometheus.NewRegistry()
	srv := &rest.Server{
		Resolver: &busgate.Resolver{
			Bus:    conn,
			Mapper: mapperConfig(cfg),
			Log:    log,
		},
		Log:      log,
		Metrics:  rest.NewMetrics(reg),
		Registry: reg,
	}
	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Handler(),
	}
	go func() {
		<-env.Context().Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(ctx)
	}()

	log.Info("listening", "addr", cfg.Listen)
	if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// resolve runs one gateway operation against the live bus and prints
// the response body.
func resolve(env *command.Env, op func(r *busgate.Resolver, tx *busgate.Transaction)) error {
	ctx, cancel := context.WithTimeout(env.Context(), time.Minute)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := busgate.Dial(ctx, cfg.BusSocket)
	if err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}
	defer conn.Close()

	sink := &printSink{done: make(chan struct{})}
	res := &busgate.Resolver{Bus: conn, Mapper: mapperConfig(cfg)}
	op(res, busgate.Begin(sink))

	select {
	case <-sink.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	pretty.Println(sink.body)
	if sink.status >= 400 {
		return fmt.Errorf("request failed with status %d", sink.status)
	}
	return nil
}

type printSink struct {
	done   chan struct{}
	status int
	body   any
}

func (s *printSink) WriteResponse(status int, body any) {
	s.status = status
	s.body = body
	close(s.done)
}

func runNames(env *command.Env) error {
	return resolve(env, func(r *busgate.Resolver, tx *busgate.Transaction) {
		r.ListNames(tx)
	})
}

func runList(env *command.Env) error {
	path := "/"
	if len(env.Args) > 0 {
		path = env.Args[0]
	}
	return resolve(env, func(r *busgate.Resolver, tx *busgate.Transaction) {
		r.List(tx, busgate.ObjectPath(path))
	})
}

func runEnumerate(env *command.Env, path string) error {
	return resolve(env, func(r *busgate.Resolver, tx *busgate.Transaction) {
		r.Enumerate(tx, busgate.ObjectPath(path))
	})
}

func runGet(env *command.Env) error {
	if len(env.Args) < 1 || len(env.Args) > 2 {
		return env.Usagef("get requires a path and an optional property name.")
	}
	prop := ""
	if len(env.Args) == 2 {
		prop = env.Args[1]
	}
	return resolve(env, func(r *busgate.Resolver, tx *busgate.Transaction) {
		r.GetProperty(tx, busgate.ObjectPath(env.Args[0]), prop)
	})
}

func runSet(env *command.Env, path, prop, value string) error {
	v, err := decodeJSON(value)
	if err != nil {
		return fmt.Errorf("value is not valid JSON: %w", err)
	}
	return resolve(env, func(r *busgate.Resolver, tx *busgate.Transaction) {
		r.SetProperty(tx, busgate.ObjectPath(path), prop, v)
	})
}

func runCall(env *command.Env) error {
	if len(env.Args) < 2 || len(env.Args) > 3 {
		return env.Usagef("call requires a path, a method, and optional JSON arguments.")
	}
	args := []any{}
	if len(env.Args) == 3 {
		v, err := decodeJSON(env.Args[2])
		if err != nil {
			return fmt.Errorf("arguments are not valid JSON: %w", err)
		}
		arr, ok := v.([]any)
		if !ok {
			return errors.New("arguments must be a JSON array")
		}
		args = arr
	}
	return resolve(env, func(r *busgate.Resolver, tx *busgate.Transaction) {
		r.Action(tx, busgate.ObjectPath(env.Args[0]), env.Args[1], args)
	})
}

// decodeJSON parses one JSON value, keeping numbers as json.Number
// the way the HTTP layer does.
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
