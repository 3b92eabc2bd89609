package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/trend-curator/internal/config"
	"github.com/sells-group/trend-curator/internal/model"
	"github.com/sells-group/trend-curator/internal/store"
)

// seedFile is the fixture format accepted by `seed`.
type seedFile struct {
	Users    []model.User    `yaml:"users"`
	Projects []model.Project `yaml:"projects"`
}

func loadSeedFile(path string) (*seedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read seed file %s", path)
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, eris.Wrapf(err, "parse seed file %s", path)
	}

	users := make(map[string]bool, len(sf.Users))
	for _, u := range sf.Users {
		if u.ID == "" {
			return nil, eris.New("seed: user without id")
		}
		users[u.ID] = true
	}
	for _, p := range sf.Projects {
		if p.ID == "" || p.UserID == "" {
			return nil, eris.New("seed: project requires id and user_id")
		}
		if !users[p.UserID] {
			return nil, eris.Errorf("seed: project %s references unknown user %s", p.ID, p.UserID)
		}
	}
	return &sf, nil
}

// applySeed upserts users before projects.
func applySeed(ctx context.Context, st store.Store, sf *seedFile) error {
	for i := range sf.Users {
		if err := st.UpsertUser(ctx, &sf.Users[i]); err != nil {
			return err
		}
	}
	for i := range sf.Projects {
		if err := st.UpsertProject(ctx, &sf.Projects[i]); err != nil {
			return err
		}
	}
	return nil
}

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load users and projects from a YAML fixture",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sf, err := loadSeedFile(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate(config.ModeMigrate); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		if err := applySeed(ctx, st, sf); err != nil {
			return err
		}

		zap.L().Info("seed applied",
			zap.Int("users", len(sf.Users)),
			zap.Int("projects", len(sf.Projects)),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users, %d projects\n", len(sf.Users), len(sf.Projects))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
