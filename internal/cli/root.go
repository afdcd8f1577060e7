// Package cli implements ticketctl, a command line front end for the ticket
// desk API.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/ticket-desk/internal/client"
)

var version = "dev"

// session is the state shared by the commands of one invocation.
type session struct {
	profilePath string
	flags       Flags
	verbose     bool

	profile *Profile
	api     *client.APIClient
	coord   *client.Coordinator
	logger  *zap.Logger
	// forgetErr is set when the cleared profile could not be written back.
	forgetErr error
}

func (s *session) open(errOut io.Writer) error {
	profile, err := LoadProfile(s.profilePath)
	if err != nil {
		return err
	}
	s.profile = profile

	if s.logger == nil {
		if s.logger, err = newLogger(s.verbose, errOut); err != nil {
			return err
		}
	}

	s.api = client.NewAPIClient(profile.GetBaseURL(&s.flags), nil)
	s.api.SetToken(profile.GetToken())
	s.coord = client.NewCoordinator(s.api,
		client.WithLogger(s.logger),
		client.WithLogoutHook(s.forget),
	)
	return nil
}

// newLogger logs everything in verbose mode and only warnings otherwise.
func newLogger(verbose bool, errOut io.Writer) (*zap.Logger, error) {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("failed to init logger: %w", err)
		}
		return logger, nil
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(errOut), zapcore.WarnLevel)), nil
}

// forget drops the stored credentials once the session has ended.
func (s *session) forget() {
	s.profile.Clear()
	if err := s.profile.Save(s.profilePath); err != nil {
		s.forgetErr = err
		s.logger.Warn("failed to clear saved session",
			zap.String("profile", s.profilePath),
			zap.Error(err))
	}
}

// NewRootCmd builds the ticketctl command tree.
func NewRootCmd() *cobra.Command {
	s := &session{}
	root := &cobra.Command{
		Use:   "ticketctl",
		Short: "Work tickets from the terminal",
		Long: `ticketctl lists, creates and edits tickets on a ticket desk server.

Edits are conditional on the version you last saw; if someone else saved
the ticket first the command fails and shows their version.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			return s.open(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&s.profilePath, "profile", "p", defaultProfilePath(), "profile file path")
	root.PersistentFlags().StringVar(&s.flags.URL, "url", "", "API base URL")
	root.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "log cache and mutation activity")

	root.AddCommand(newLoginCmd(s))
	root.AddCommand(newLogoutCmd(s))
	root.AddCommand(newListCmd(s))
	root.AddCommand(newGetCmd(s))
	root.AddCommand(newCreateCmd(s))
	root.AddCommand(newUpdateCmd(s))
	root.AddCommand(newStatusCmd(s))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ticketctl %s\n", version)
		},
	})
	return root
}

func SetVersion(v string) {
	version = v
}

func Execute() error {
	return NewRootCmd().Execute()
}
