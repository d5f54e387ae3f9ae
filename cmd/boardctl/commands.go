package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"taskboard/board"
	"taskboard/domain"
)

func addCmd(a *app) *cobra.Command {
	var in domain.NewTask
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a task to the todo column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Title = args[0]
			return a.withBoard(cmd.Context(), func(e *board.Engine) error {
				task, err := e.AddTask(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "added %s\n", shortID(task.ID))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&in.Notes, "notes", "n", "", "Free-form notes")
	cmd.Flags().StringVarP(&in.Priority, "priority", "p", "", "Priority (low, medium, high)")
	cmd.Flags().StringVarP(&in.Deadline, "deadline", "d", "", "Deadline as YYYY-MM-DD")

	return cmd
}

func listCmd(a *app) *cobra.Command {
	var filter domain.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the board grouped by column",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if p := strings.ToLower(strings.TrimSpace(filter.Priority)); p != "all" {
				if _, err := domain.ParsePriority(p); err != nil {
					return err
				}
			}
			return a.withBoard(cmd.Context(), func(e *board.Engine) error {
				renderBoard(a.out, domain.GroupByColumn(filter.Apply(e.Tasks())))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&filter.Query, "search", "s", "", "Only tasks whose title contains this text")
	cmd.Flags().StringVarP(&filter.Priority, "priority", "p", "", "Only tasks with this priority")

	return cmd
}

func moveCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "move [id] [column]",
		Short: "Move a task to another column",
		Long: `Move a task to todo, inProgress, completed or failed.
Moving to failed requires --reason.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			column, err := domain.ParseColumn(args[1])
			if err != nil {
				return err
			}
			return a.withBoard(cmd.Context(), func(e *board.Engine) error {
				task, err := resolve(e, args[0])
				if err != nil {
					return err
				}
				moved, err := e.MoveTask(cmd.Context(), task.ID, column, reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s -> %s\n", shortID(moved.ID), moved.Status)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Why the task failed")

	return cmd
}

func toggleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [id]",
		Short: "Mark a task completed, or reopen a completed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBoard(cmd.Context(), func(e *board.Engine) error {
				task, err := resolve(e, args[0])
				if err != nil {
					return err
				}
				toggled, err := e.ToggleTask(cmd.Context(), task.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s -> %s\n", shortID(toggled.ID), toggled.Status)
				return nil
			})
		},
	}
}

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete [id]",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBoard(cmd.Context(), func(e *board.Engine) error {
				task, err := resolve(e, args[0])
				if err != nil {
					return err
				}
				e.DeleteTask(cmd.Context(), task.ID)
				fmt.Fprintf(a.out, "deleted %s\n", shortID(task.ID))
				return nil
			})
		},
	}
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show board statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBoard(cmd.Context(), func(e *board.Engine) error {
				renderStats(a.out, e.Stats())
				return nil
			})
		},
	}
}
