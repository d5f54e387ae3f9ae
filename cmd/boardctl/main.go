package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/board"
	"taskboard/config"
	"taskboard/domain"
	"taskboard/storage"
)

var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	out   io.Writer
	user  string
	db    string
	store string
	quiet bool

	notes []domain.Notification
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	rootCmd := &cobra.Command{
		Use:           "boardctl",
		Short:         "Manage a task board from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	rootCmd.PersistentFlags().StringVarP(&a.user, "user", "u", "local", "Identity the board acts for")
	rootCmd.PersistentFlags().StringVar(&a.db, "db", "data/taskboard.db", "SQLite database path")
	rootCmd.PersistentFlags().StringVar(&a.store, "store", config.StoreSQLite, "Document store (sqlite, table)")
	rootCmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Only log errors")

	rootCmd.AddCommand(addCmd(a))
	rootCmd.AddCommand(listCmd(a))
	rootCmd.AddCommand(moveCmd(a))
	rootCmd.AddCommand(toggleCmd(a))
	rootCmd.AddCommand(deleteCmd(a))
	rootCmd.AddCommand(statsCmd(a))
	rootCmd.AddCommand(tokenCmd(a))
	return rootCmd
}

// withBoard opens the store, loads the user's tasks and runs fn against a
// write-through engine. Remote failures reported while fn runs fail the command.
func (a *app) withBoard(ctx context.Context, fn func(*board.Engine) error) error {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	if a.quiet {
		logger.SetLevel(log.ErrorLevel)
	}

	store, closeStore, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("close store")
		}
	}()

	a.notes = nil
	engine := board.New(store, board.StaticIdentity(a.user),
		board.WithPolicy(board.WriteThrough),
		board.WithLogger(logger),
		board.WithNotifier(board.NotifierFunc(func(n domain.Notification) {
			a.notes = append(a.notes, n)
		})),
	)
	defer engine.Close()

	if err := engine.LoadUserTasks(ctx); err != nil {
		return err
	}
	if err := fn(engine); err != nil {
		return err
	}
	if len(a.notes) > 0 {
		msgs := make([]string, len(a.notes))
		for i, n := range a.notes {
			msgs[i] = n.Message
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func (a *app) openStore() (board.DocumentStore, func() error, error) {
	switch a.store {
	case config.StoreSQLite:
		ss, err := storage.OpenSQLite(a.db)
		if err != nil {
			return nil, nil, err
		}
		return ss, ss.Close, nil
	case config.StoreTable:
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.ConnectionString == "" {
			return nil, nil, fmt.Errorf("STORAGE_CONNECTION_STRING is required for the table store")
		}
		ts, err := storage.NewTableStore(cfg.ConnectionString, map[string]string{domain.TasksCollection: cfg.TasksTable})
		if err != nil {
			return nil, nil, err
		}
		return ts, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", a.store)
}

// resolve finds the task whose id starts with prefix. The prefix must be
// unambiguous.
func resolve(e *board.Engine, prefix string) (domain.Task, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return domain.Task{}, fmt.Errorf("task id is required")
	}
	var found []domain.Task
	for _, t := range e.Tasks() {
		if t.ID == prefix {
			return t, nil
		}
		if strings.HasPrefix(t.ID, prefix) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 0:
		return domain.Task{}, &domain.NotFoundError{ID: prefix}
	case 1:
		return found[0], nil
	}
	return domain.Task{}, fmt.Errorf("task id %q is ambiguous (%d matches)", prefix, len(found))
}
