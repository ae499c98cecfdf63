package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/ytakahashi/todo-sync/internal/models"
)

func resultErr[T any](res models.Result[T]) error {
	if res.Success {
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return fmt.Errorf("%s", res.Error)
}

func printTasks(cmd *cobra.Command, tasks []models.Task) {
	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tID\tDONE\tTITLE\tCREATED")
	for i, t := range tasks {
		done := " "
		if t.Completed {
			done = "x"
		}
		created := "-"
		if !t.CreatedAt.IsZero() {
			created = t.CreatedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%d\t%s\t[%s]\t%s\t%s\n", i+1, t.ID, done, t.Title, created)
	}
	w.Flush()
}

// findTask looks id up in the current list so callers know its completion state.
func (a *app) findTask(cmd *cobra.Command, id string) (models.Task, error) {
	res := a.todos.ListTasks(cmd.Context())
	if err := resultErr(res); err != nil {
		return models.Task{}, err
	}
	for _, t := range res.Data {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Task{}, fmt.Errorf("no task with id %s", id)
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := a.todos.ListTasks(cmd.Context())
			if err := resultErr(res); err != nil {
				return err
			}
			printTasks(cmd, res.Data)
			return nil
		},
	}
}

func newAddCmd(a *app) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := models.ValidateTitle(args[0]); err != nil {
				return err
			}
			if err := models.ValidateDescription(description); err != nil {
				return err
			}

			res := a.todos.AddTask(cmd.Context(), args[0], description)
			if err := resultErr(res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", res.Data.Title, res.Data.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	var title, description string

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's title or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd models.TaskUpdate
			if cmd.Flags().Changed("title") {
				if err := models.ValidateTitle(title); err != nil {
					return err
				}
				upd.Title = &title
			}
			if cmd.Flags().Changed("description") {
				if err := models.ValidateDescription(description); err != nil {
					return err
				}
				upd.Description = &description
			}
			if upd.IsEmpty() {
				return fmt.Errorf("nothing to change: pass --title or --description")
			}

			if err := resultErr(a.todos.UpdateTask(cmd.Context(), args[0], upd)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "New title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "New description")
	return cmd
}

func newDoneCmd(a *app) *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task as done (or not done with --undo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := a.findTask(cmd, args[0])
			if err != nil {
				return err
			}
			if task.Completed != undo {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already %s\n", task.Title, doneWord(task.Completed))
				return nil
			}

			if err := resultErr(a.todos.ToggleComplete(cmd.Context(), task.ID, task.Completed)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", task.Title, doneWord(!task.Completed))
			return nil
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "Mark the task as not done")
	return cmd
}

func doneWord(completed bool) string {
	if completed {
		return "done"
	}
	return "not done"
}

func newRmCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a task, or every task with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				res := a.todos.DeleteAllTasks(cmd.Context())
				if err := resultErr(res); err != nil {
					return fmt.Errorf("deleted %d tasks before failing: %w", res.Data, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d tasks\n", res.Data)
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("pass a task id or --all")
			}

			if err := resultErr(a.todos.DeleteTask(cmd.Context(), args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Delete every task")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task totals and completion rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := a.todos.GetStats(cmd.Context())
			if err := resultErr(res); err != nil {
				return err
			}
			s := res.Data
			fmt.Fprintf(cmd.OutOrStdout(), "Total: %d\nCompleted: %d\nPending: %d\nCompletion: %d%%\n",
				s.Total, s.Completed, s.Pending, s.CompletionRate)
			return nil
		},
	}
}
