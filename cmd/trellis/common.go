package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/metalagman/trellis/internal/completion"
	"github.com/metalagman/trellis/internal/config"
	"github.com/metalagman/trellis/internal/db"
	"github.com/metalagman/trellis/internal/dispatch"
	"github.com/metalagman/trellis/internal/journal"
	"github.com/metalagman/trellis/internal/ledger"
	"github.com/metalagman/trellis/internal/lock"
	"github.com/metalagman/trellis/internal/metrics"
	"github.com/metalagman/trellis/internal/notes"
	"github.com/metalagman/trellis/internal/task"
	"github.com/metalagman/trellis/internal/tracker"
	"github.com/metalagman/trellis/internal/tracker/github"
	sqlitetracker "github.com/metalagman/trellis/internal/tracker/sqlite"
	"github.com/rs/zerolog/log"
)

const runLockName = "run"

// app bundles the collaborators of one command invocation.
type app struct {
	cfg     config.Config
	tracker tracker.Tracker
	store   *task.TrackerStore
	ledger  ledger.Ledger
	journal *journal.Journal
	metrics *metrics.Collector
	notes   notes.Generator

	db      *sql.DB
	closers []func() error
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		journal: journal.New(cfg.StateDir),
		metrics: metrics.NewCollector(),
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	switch a.cfg.Tracker.Backend {
	case config.BackendSQLite:
		database, err := a.database()
		if err != nil {
			return err
		}
		a.tracker = sqlitetracker.New(database, a.cfg.Tracker.User)
	default:
		a.tracker = github.New(a.cfg.Repo, a.cfg.Tracker.GHPath)
	}
	a.store = task.NewTrackerStore(a.tracker)

	switch a.cfg.Ledger.Backend {
	case config.LedgerSQLite:
		database, err := a.database()
		if err != nil {
			return err
		}
		a.ledger = ledger.NewSQLite(database)
	case config.LedgerRedis:
		r := a.cfg.Ledger.Redis
		l, err := ledger.DialRedis(ctx, r.Addr, r.Password, r.DB, r.TTL)
		if err != nil {
			return err
		}
		a.ledger = l
		a.closers = append(a.closers, l.Close)
	default:
		a.ledger = ledger.Nop{}
	}

	if a.cfg.Notes.Attach {
		gen, err := newNotes(a.cfg, a.cfg.Notes.Mode)
		if err != nil {
			return err
		}
		a.notes = gen
	}
	return nil
}

func (a *app) database() (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	database, err := db.Open(a.cfg.DBPath())
	if err != nil {
		return nil, err
	}
	a.db = database
	a.closers = append(a.closers, database.Close)
	return database, nil
}

func (a *app) dispatcher() (*dispatch.Engine, error) {
	workers, err := a.cfg.AssignWorkers()
	if err != nil {
		return nil, err
	}
	return dispatch.New(a.store, dispatch.Options{
		Repo:       a.cfg.Repo,
		Workers:    workers,
		AssignSelf: a.cfg.Tracker.AssignSelf,
		Users:      a.tracker,
		Ledger:     a.ledger,
		Journal:    a.journal,
		Metrics:    a.metrics,
		Notes:      a.notes,
	}), nil
}

func (a *app) completer() (*completion.Handler, error) {
	engine, err := a.dispatcher()
	if err != nil {
		return nil, err
	}
	return completion.New(a.store, completion.Options{
		Repo:     a.cfg.Repo,
		Pulls:    a.tracker,
		Dispatch: engine,
		Ledger:   a.ledger,
		Journal:  a.journal,
		Metrics:  a.metrics,
	}), nil
}

// lock holds the host run lock, waiting at most lock.timeout.
func (a *app) lock(ctx context.Context) (func(), error) {
	if a.cfg.Lock.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Lock.Timeout)
		defer cancel()
	}
	l, err := lock.Acquire(ctx, a.cfg.StateDir, runLockName)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := l.Release(); err != nil {
			log.Warn().Err(err).Msg("failed to release run lock")
		}
	}, nil
}

// Close writes the metrics textfile, when configured, and releases resources.
func (a *app) Close() error {
	var errs []error
	if a.cfg.Metrics.Textfile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func closeApp(a *app) {
	if err := a.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close")
	}
}

func newNotes(cfg config.Config, mode string) (*notes.Adapter, error) {
	m, err := notes.ParseMode(mode)
	if err != nil {
		return nil, err
	}
	env, err := notes.LoadEnv()
	if err != nil {
		return nil, err
	}
	return notes.New(notes.Config{
		Mode:     m,
		Provider: cfg.Notes.Provider,
		Timeout:  cfg.Notes.Timeout,
		Command:  cfg.Notes.Command,
		WorkDir:  filepath.Join(cfg.StateDir, "notes"),
		Env:      env,
	})
}

// printJSON writes v as a single JSON line.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}

// report prints v and turns a failed result into a non-zero exit.
func report(w io.Writer, v any, ok bool) error {
	if err := printJSON(w, v); err != nil {
		return err
	}
	if !ok {
		return errReported
	}
	return nil
}

func printIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
