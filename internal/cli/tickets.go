package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/spec-kit/ticket-desk/internal/api/dto"
	"github.com/spec-kit/ticket-desk/internal/client"
	"github.com/spec-kit/ticket-desk/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newLoginCmd(s *session) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session in the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("TICKETCTL_PASSWORD")
			}
			resp, err := s.api.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			s.profile.BaseURL = s.profile.GetBaseURL(&s.flags)
			s.profile.Token = resp.AccessToken
			s.profile.Email = resp.User.Email
			s.profile.Name = resp.User.Name
			if err := s.profile.Save(s.profilePath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", resp.User.Name, resp.User.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (or TICKETCTL_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLogoutCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			s.coord.Logout()
			if s.forgetErr != nil {
				return fmt.Errorf("signed out, but the profile still holds the token: %w", s.forgetErr)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newListCmd(s *session) *cobra.Command {
	var params client.ListParams
	var status, priority string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Status = domain.TicketStatus(strings.ToUpper(status))
			params.Priority = domain.TicketPriority(strings.ToUpper(priority))
			page, err := s.coord.List(cmd.Context(), params)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), page)
			return nil
		},
	}
	cmd.Flags().StringVarP(&params.Text, "query", "q", "", "search title, code and requester email")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority")
	cmd.Flags().StringVar(&params.SortField, "sort", "updatedAt", "sort field")
	cmd.Flags().StringVar(&params.SortOrder, "order", "desc", "sort order (asc or desc)")
	cmd.Flags().IntVar(&params.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&params.PageSize, "page-size", 10, "tickets per page")
	return cmd
}

func newGetCmd(s *session) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ticket, err := s.coord.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printTicket(cmd.OutOrStdout(), ticket, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text or json)")
	return cmd
}

type fieldFlags struct {
	title, description, status, priority string
	requesterName, requesterEmail        string
	tags                                 []string
}

func (f *fieldFlags) register(cmd *cobra.Command, withStatus bool) {
	cmd.Flags().StringVar(&f.title, "title", "", "ticket title")
	cmd.Flags().StringVar(&f.description, "description", "", "ticket description")
	cmd.Flags().StringVar(&f.priority, "priority", "", "LOW, MEDIUM or HIGH")
	cmd.Flags().StringVar(&f.requesterName, "requester-name", "", "requester name")
	cmd.Flags().StringVar(&f.requesterEmail, "requester-email", "", "requester email")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "tag (repeatable)")
	if withStatus {
		cmd.Flags().StringVar(&f.status, "status", "", "OPEN, IN_PROGRESS, RESOLVED or CLOSED")
	}
}

// apply copies the flags the user set onto fields.
func (f *fieldFlags) apply(cmd *cobra.Command, fields *domain.TicketFields) {
	changed := cmd.Flags().Changed
	if changed("title") {
		fields.Title = f.title
	}
	if changed("description") {
		fields.Description = f.description
	}
	if changed("status") {
		fields.Status = domain.TicketStatus(strings.ToUpper(f.status))
	}
	if changed("priority") {
		fields.Priority = domain.TicketPriority(strings.ToUpper(f.priority))
	}
	if changed("requester-name") {
		fields.Requester.Name = f.requesterName
	}
	if changed("requester-email") {
		fields.Requester.Email = f.requesterEmail
	}
	if changed("tag") {
		fields.Tags = f.tags
	}
}

func newCreateCmd(s *session) *cobra.Command {
	var flags fieldFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := domain.TicketFields{Priority: domain.TicketPriorityMedium, Status: domain.TicketStatusOpen}
			flags.apply(cmd, &fields)
			ticket, err := s.coord.Create(cmd.Context(), fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", ticket.Code, ticket.ID)
			return nil
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newUpdateCmd(s *session) *cobra.Command {
	var (
		flags    fieldFlags
		expected string
		reload   bool
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a ticket if nobody changed it since you last saw it",
		Long: `Edit a ticket. The write is conditional on --expected-version, which
defaults to the version fetched right before the edit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := s.coord.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if expected == "" {
				expected = current.UpdatedAt
			}
			fields := current.Fields()
			flags.apply(cmd, &fields)

			ticket, err := s.coord.Update(cmd.Context(), current.ID, fields, expected)
			if conflict, ok := client.IsConflict(err); ok {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Conflict: %s\n", conflict.Message)
				if reload {
					conflict.Current = s.coord.AcceptConflict(conflict)
					fmt.Fprintln(out, "Reloaded the current version:")
				} else {
					fmt.Fprintln(out, "Current version on the server:")
				}
				_ = printTicket(out, conflict.Current, "text")
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (version %s)\n", ticket.Code, ticket.UpdatedAt)
			return nil
		},
	}
	flags.register(cmd, true)
	cmd.Flags().StringVar(&expected, "expected-version", "", "version the edit is based on")
	cmd.Flags().BoolVar(&reload, "reload", false, "adopt the server version when the edit conflicts")
	return cmd
}

func newStatusCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a ticket to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := s.coord.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			status := domain.TicketStatus(strings.ToUpper(args[1]))
			ticket, err := s.coord.ChangeStatus(cmd.Context(), before.ID, status)
			if err != nil {
				return err
			}
			if ticket.Status == before.Status {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already %s\n", ticket.Code, ticket.Status)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s (version %s)\n", ticket.Code, before.Status, ticket.Status, ticket.UpdatedAt)
			return nil
		},
	}
}

func printPage(out io.Writer, page client.ListPage) {
	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No tickets found.")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CODE\tSTATUS\tPRIORITY\tUPDATED\tTITLE")
		for _, t := range page.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.Code, t.Status, t.Priority, t.UpdatedAt, t.Title)
		}
		_ = w.Flush()
	}
	fmt.Fprintf(out, "page %d/%d, %d tickets\n", page.Page, page.TotalPages, page.Total)
}

func printTicket(out io.Writer, t dto.Ticket, format string) error {
	if format == "json" {
		raw, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(raw))
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", t.ID)
	fmt.Fprintf(w, "Code:\t%s\n", t.Code)
	fmt.Fprintf(w, "Title:\t%s\n", t.Title)
	fmt.Fprintf(w, "Status:\t%s\n", t.Status)
	fmt.Fprintf(w, "Priority:\t%s\n", t.Priority)
	fmt.Fprintf(w, "Requester:\t%s <%s>\n", t.Requester.Name, t.Requester.Email)
	fmt.Fprintf(w, "Tags:\t%s\n", strings.Join(t.Tags, ", "))
	fmt.Fprintf(w, "Created:\t%s\n", t.CreatedAt)
	fmt.Fprintf(w, "Updated:\t%s\n", t.UpdatedAt)
	fmt.Fprintf(w, "Description:\t%s\n", t.Description)
	return w.Flush()
}
