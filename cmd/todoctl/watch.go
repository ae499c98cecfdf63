package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ytakahashi/todo-sync/internal/auth"
	"github.com/ytakahashi/todo-sync/internal/models"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print the task list every time it changes",
		Long: `Open a live subscription and print the complete task list on every change.

The subscription is not reopened after a channel error; run watch again.
Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			removeAuthListener := a.session.OnAuthStateChanged(func(p *auth.Principal) {
				if p == nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "Signed out")
					cancel()
				}
			})
			defer removeAuthListener()

			failed := make(chan error, 1)
			unsubscribe := a.todos.Subscribe(ctx, func(res models.Result[[]models.Task]) {
				if !res.Success {
					failed <- resultErr(res)
					return
				}
				fmt.Fprintln(cmd.OutOrStdout(), "---")
				printTasks(cmd, res.Data)
			})
			defer unsubscribe()

			select {
			case <-ctx.Done():
				return nil
			case err := <-failed:
				return err
			}
		},
	}
}
