package main

import (
	"context"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/masomo-comms/core"
	"github.com/trezcool/masomo-comms/core/communication"
)

type (
	fixtures struct {
		Guardians []guardianFixture `yaml:"guardians"`
		Courses   []courseFixture   `yaml:"courses"`
	}

	guardianFixture struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Email string `yaml:"email"`
		Phone string `yaml:"phone"`
	}

	courseFixture struct {
		ID        string   `yaml:"id"`
		Name      string   `yaml:"name"`
		Guardians []string `yaml:"guardians"`
	}
)

func (cli *commandLine) seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed -f FILE",
		Short: "Load courses and guardians from a YAML fixtures file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				_ = cmd.Usage()
				return errHelp
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return errors.Wrap(err, "reading fixtures")
			}
			return cli.seed(cmd.Context(), data)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the fixtures file")
	return cmd
}

// seed saves the fixtures in a single transaction.
func (cli *commandLine) seed(ctx context.Context, data []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var fx fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return errors.Wrap(err, "parsing fixtures")
	}

	err := core.WithTx(ctx, cli.db, func(exec core.DBExecutor) error {
		for _, g := range fx.Guardians {
			guardian := communication.Guardian{ID: g.ID, Name: g.Name, Email: g.Email, Phone: g.Phone}
			if err := cli.dir.SaveGuardian(ctx, guardian, exec); err != nil {
				return errors.Wrapf(err, "saving guardian %s", g.ID)
			}
		}
		for _, c := range fx.Courses {
			if err := cli.dir.SaveCourse(ctx, communication.Course{ID: c.ID, Name: c.Name}, exec); err != nil {
				return errors.Wrapf(err, "saving course %s", c.ID)
			}
			if err := cli.dir.EnrollGuardians(ctx, c.ID, c.Guardians, exec); err != nil {
				return errors.Wrapf(err, "enrolling guardians in %s", c.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(cli.out, "seeded %d guardian(s) and %d course(s)\n", len(fx.Guardians), len(fx.Courses))
	return nil
}
