package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidewaterlabs/moobot/internal/cron"
	"github.com/tidewaterlabs/moobot/internal/state"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Inspect and manage scheduled reminders",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronCancelCmd())
	return cmd
}

func openCronStore() (*cron.Store, error) {
	paths, err := state.Resolve()
	if err != nil {
		return nil, err
	}
	return cron.OpenStore(paths.CronStore)
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		Run: func(cmd *cobra.Command, args []string) {
			store, err := openCronStore()
			if err != nil {
				fmt.Fprintf(os.Stderr, "open cron store: %v\n", err)
				os.Exit(1)
			}
			jobs := store.Jobs()
			if len(jobs) == 0 {
				fmt.Println("No jobs scheduled.")
				return
			}
			for _, j := range jobs {
				fmt.Printf("%s  %-20s  %s  %s\n", j.ID, j.Name, describeSchedule(j), j.JID)
			}
		},
	}
}

func describeSchedule(j cron.Job) string {
	switch j.Schedule.Kind {
	case cron.KindOneShot:
		at := time.UnixMilli(j.Schedule.At).In(j.Location())
		s := "once at " + at.Format("2006-01-02 15:04")
		if j.Claimed() {
			s += " (claimed)"
		}
		return s
	case cron.KindRecurring:
		return j.Schedule.Expr
	}
	return "unknown"
}

func cronCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a scheduled job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store, err := openCronStore()
			if err != nil {
				fmt.Fprintf(os.Stderr, "open cron store: %v\n", err)
				os.Exit(1)
			}
			removed, err := store.Remove(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "cancel job: %v\n", err)
				os.Exit(1)
			}
			if !removed {
				fmt.Printf("No job with id %s.\n", args[0])
				return
			}
			fmt.Printf("Cancelled %s.\n", args[0])
		},
	}
}
