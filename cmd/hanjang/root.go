package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"hanjang/internal/config"
	"hanjang/internal/version"
)

type options struct {
	server string
	token  string
	user   string
	json   bool
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "hanjang",
		Short:         "오늘 한 장: study notes with OCR, retrieval and review scheduling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadAndApply(); err != nil {
				return err
			}
			if strings.TrimSpace(opts.server) == "" {
				opts.server = config.FromEnv().ServerURL
			}
			if opts.token == "" {
				opts.token = os.Getenv("HANJANG_API_TOKEN")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&opts.server, "server", "", "API base URL (default $HANJANG_SERVER_URL)")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "API token (default $HANJANG_API_TOKEN)")
	root.PersistentFlags().StringVar(&opts.user, "user", "", "user id (server default when empty)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON even on a terminal")

	root.AddCommand(
		newServeCommand(),
		newVersionCommand(),
		newNotesCommand(opts),
		newIndexCommand(opts),
		newAskCommand(opts),
		newChatCommand(opts),
		newTutorCommand(opts),
		newQuestionsCommand(opts),
		newReviewsCommand(opts),
		newStatsCommand(opts),
		newEvalCommand(opts),
		newModelsCommand(opts),
		newDBCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write([]byte(version.String() + "\n"))
			return err
		},
	}
}

func (o *options) client() *client {
	return newClient(o.server, o.token)
}
