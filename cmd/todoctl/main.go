package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/ytakahashi/todo-sync/internal/auth"
	"github.com/ytakahashi/todo-sync/internal/config"
	"github.com/ytakahashi/todo-sync/internal/services"
)

// app holds what every subcommand shares once the root pre-run has signed in.
type app struct {
	idToken string
	uid     string
	verbose bool

	openStore func(ctx context.Context, memory bool, opts services.StoreOptions) (services.DocumentStore, error)

	store   services.DocumentStore
	session *auth.Session
	todos   *services.TodoService
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "todoctl",
		Short: "Manage your synced todo list from the terminal",
		Long: `todoctl reads and edits the same per-user task list the web and LINE
clients use.

Sign in with a Firebase ID token:
  todoctl --token "$ID_TOKEN" list

Against the Firestore emulator or STORE_BACKEND=memory a uid is enough:
  todoctl --uid alice add "Buy milk"`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.connect(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.idToken, "token", os.Getenv("TODO_ID_TOKEN"), "Firebase ID token to sign in with")
	rootCmd.PersistentFlags().StringVar(&a.uid, "uid", "", "Sign in as this uid without a token (memory store or emulator only)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Show client logs")

	rootCmd.AddCommand(
		newListCmd(a),
		newAddCmd(a),
		newEditCmd(a),
		newDoneCmd(a),
		newRmCmd(a),
		newStatsCmd(a),
		newWatchCmd(a),
	)
	return rootCmd
}

func (a *app) connect(ctx context.Context) error {
	if !a.verbose {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx, cfg.UsesMemoryStore(), cfg.StoreOptions())
	if err != nil {
		return err
	}

	verifier := auth.NewVerifier(cfg.Store.ProjectID, auth.NewCertKeySource(auth.GoogleCertsURL, nil))
	session := auth.NewSession(verifier)

	switch {
	case a.idToken != "":
		if _, err := session.SignInWithIDToken(ctx, a.idToken); err != nil {
			store.Close()
			return fmt.Errorf("sign in failed: %w", err)
		}
	case a.uid != "":
		if !cfg.UsesMemoryStore() && os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
			store.Close()
			return errors.New("--uid is only accepted with STORE_BACKEND=memory or FIRESTORE_EMULATOR_HOST")
		}
		session.SignIn(auth.Principal{UID: a.uid})
	default:
		store.Close()
		return errors.New("sign in with --token or --uid")
	}

	a.store = store
	a.session = session
	a.todos = services.NewTodoService(store, session)
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	a.session.SignOut()
	return a.store.Close()
}

func main() {
	a := &app{openStore: services.OpenStore}
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
