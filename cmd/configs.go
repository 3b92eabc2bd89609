package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/trend-curator/internal/config"
	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/store"
)

var (
	configsUser   string
	configsStatus string
)

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "Inspect and manage scan configs",
}

var configsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan configs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeMigrate); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		configs, err := st.ListConfigs(ctx, store.ConfigFilter{
			UserID: configsUser,
			Status: model.ScanStatus(configsStatus),
		})
		if err != nil {
			return eris.Wrap(err, "list configs")
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderConfigs(configs))
		return nil
	},
}

// configsActivateCmd and configsPauseCmd persist the transition. With the
// temporal scheduler the trigger change is immediate; a cron daemon picks
// it up on its next restore.
var configsActivateCmd = &cobra.Command{
	Use:   "activate <config-id>",
	Short: "Activate a scan config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initCurator(cmd.Context(), config.ModeScan)
		if err != nil {
			return err
		}
		defer env.Close()

		sc, err := env.Orch.Activate(cmd.Context(), "", args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config %s active, next run %s\n", sc.ID, formatTime(sc.NextRunAt))
		return nil
	},
}

var configsPauseCmd = &cobra.Command{
	Use:   "pause <config-id>",
	Short: "Pause a scan config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initCurator(cmd.Context(), config.ModeScan)
		if err != nil {
			return err
		}
		defer env.Close()

		sc, err := env.Orch.Pause(cmd.Context(), "", args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config %s paused\n", sc.ID)
		return nil
	},
}

func renderConfigs(configs []model.ScanConfig) string {
	rows := make([][]string, 0, len(configs))
	for i := range configs {
		c := &configs[i]
		rows = append(rows, []string{
			c.ID,
			c.ProjectID,
			string(c.Status),
			strconv.FormatInt(c.MinViews, 10),
			strconv.Itoa(c.ScanIntervalHours) + "h",
			formatTime(c.NextRunAt),
			string(c.LastRunStatus),
			strconv.Itoa(c.ConsecutiveErrors),
		})
	}
	return renderTable(
		[]string{"ID", "PROJECT", "STATUS", "MIN VIEWS", "INTERVAL", "NEXT RUN", "LAST RUN", "ERRORS"},
		rows, 3, 7,
	)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func init() {
	configsListCmd.Flags().StringVar(&configsUser, "user", "", "filter by user id")
	configsListCmd.Flags().StringVar(&configsStatus, "status", "", "filter by status (active, paused, error)")
	configsCmd.AddCommand(configsListCmd, configsActivateCmd, configsPauseCmd)
	rootCmd.AddCommand(configsCmd)
}
