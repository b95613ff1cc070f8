package main

import (
	"context"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/masomo-comms/core/communication"
)

func (cli *commandLine) sendCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "send --id ID",
		Short: "Send a communication to its guardians",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				_ = cmd.Usage()
				return errHelp
			}
			return cli.send(cmd.Context(), id)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "the communication ID")
	return cmd
}

func (cli *commandLine) send(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	comm, err := cli.commSvc.Get(ctx, id, communication.LoadOptions{WithCourse: true})
	if err != nil {
		return err
	}

	res, err := cli.commSvc.Send(ctx, comm)
	if err != nil {
		var dispatchErr *communication.DispatchError
		if !errors.As(err, &dispatchErr) {
			return err
		}
	}

	if res.Success {
		color.New(color.FgGreen).Fprintln(cli.out, res.Message)
	} else {
		color.New(color.FgYellow).Fprintln(cli.out, res.Message)
	}
	for _, de := range res.Errors {
		color.New(color.FgRed).Fprintf(cli.out, "  %s (%s): %s\n", de.Guardian, de.GuardianID, de.Error)
	}
	return err
}
