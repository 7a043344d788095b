package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jconstantine618/ai-consulting-crm/internal/domain"
	"github.com/jconstantine618/ai-consulting-crm/internal/engine"
)

func contactCmd() *cobra.Command {
	c := &cobra.Command{Use: "contact", Short: "Manage contacts"}
	c.AddCommand(contactListCmd())
	c.AddCommand(contactAddCmd())
	c.AddCommand(contactUpdateCmd())
	c.AddCommand(contactDeleteCmd())
	return c
}

func contactListCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				items, err := e.SearchContacts(ctx, scope, query)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Company", "Email", "Phone", "Last Contacted"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.Company, c.Email, c.Phone, c.LastContacted})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "filter by name, company or email")
	return cmd
}

type contactFlags struct {
	name, company, title, email, phone, notes, lastContacted string
}

func (f *contactFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "full name")
	cmd.Flags().StringVar(&f.company, "company", "", "company")
	cmd.Flags().StringVar(&f.title, "title", "", "job title")
	cmd.Flags().StringVar(&f.email, "email", "", "email address")
	cmd.Flags().StringVar(&f.phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&f.notes, "notes", "", "notes")
	cmd.Flags().StringVar(&f.lastContacted, "last-contacted", "", "YYYY-MM-DD (default today)")
}

func contactAddCmd() *cobra.Command {
	var f contactFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(f.name) == "" {
				return fmt.Errorf("--name must not be blank")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				c, err := e.AddContact(ctx, scope, domain.Contact{
					Name:          f.name,
					Company:       f.company,
					Title:         f.title,
					Email:         f.email,
					Phone:         f.phone,
					Notes:         f.notes,
					LastContacted: f.lastContacted,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func contactUpdateCmd() *cobra.Command {
	var f contactFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update contact fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				c, err := e.UpdateContact(ctx, scope, args[0], domain.ContactPatch{
					Name:          optionalString(cmd, "name", f.name),
					Company:       optionalString(cmd, "company", f.company),
					Title:         optionalString(cmd, "title", f.title),
					Email:         optionalString(cmd, "email", f.email),
					Phone:         optionalString(cmd, "phone", f.phone),
					Notes:         optionalString(cmd, "notes", f.notes),
					LastContacted: optionalString(cmd, "last-contacted", f.lastContacted),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func contactDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				return e.DeleteContact(ctx, scope, args[0])
			})
		},
	}
}

func dealCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "deal",
		Short: "Manage deals",
		Long:  "Deals move through the pipeline one stage at a time, may go back any number of stages, and may jump straight to won.",
	}
	d.AddCommand(dealListCmd())
	d.AddCommand(dealAddCmd())
	d.AddCommand(dealUpdateCmd())
	d.AddCommand(dealMoveCmd())
	d.AddCommand(dealDeleteCmd())
	d.AddCommand(pipelineCmd())
	return d
}

func dealListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List deals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				items, err := e.ListDeals(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Company", "Stage", "Value", "Probability", "Close"})
				for _, d := range items {
					tw.AppendRow(table.Row{d.ID, d.Name, d.Company, d.Stage, d.Value, d.Probability, d.ExpectedCloseDate})
				}
				tw.Render()
				return nil
			})
		},
	}
}

type dealFlags struct {
	name, company, stage, closeDate, notes string
	value, probability                     float64
}

func (f *dealFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "deal name")
	cmd.Flags().StringVar(&f.company, "company", "", "company")
	cmd.Flags().StringVar(&f.stage, "stage", "", "pipeline stage: "+strings.Join(domain.PipelineStages, ", "))
	cmd.Flags().StringVar(&f.closeDate, "close-date", "", "expected close date YYYY-MM-DD")
	cmd.Flags().StringVar(&f.notes, "notes", "", "notes")
	cmd.Flags().Float64Var(&f.value, "value", 0, "deal value")
	cmd.Flags().Float64Var(&f.probability, "probability", 0, "probability 0-100")
}

func dealAddCmd() *cobra.Command {
	var f dealFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a deal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				d, err := e.AddDeal(ctx, scope, domain.Deal{
					Name:              f.name,
					Company:           f.company,
					Value:             f.value,
					Stage:             f.stage,
					ExpectedCloseDate: f.closeDate,
					Probability:       f.probability,
					Notes:             f.notes,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	f.bind(cmd)
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func dealUpdateCmd() *cobra.Command {
	var f dealFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update deal fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				d, err := e.UpdateDeal(ctx, scope, args[0], domain.DealPatch{
					Name:              optionalString(cmd, "name", f.name),
					Company:           optionalString(cmd, "company", f.company),
					Value:             optionalFloat(cmd, "value", f.value),
					Stage:             optionalString(cmd, "stage", f.stage),
					ExpectedCloseDate: optionalString(cmd, "close-date", f.closeDate),
					Probability:       optionalFloat(cmd, "probability", f.probability),
					Notes:             optionalString(cmd, "notes", f.notes),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func dealMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <stage>",
		Short: "Move a deal on the pipeline board",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				d, err := e.MoveDeal(ctx, scope, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func dealDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a deal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				return e.DeleteDeal(ctx, scope, args[0])
			})
		},
	}
}

func pipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show deals grouped by stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				cols, err := e.Pipeline(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cols)
				}
				tw := newTable(table.Row{"Stage", "Deals", "Value"})
				for _, col := range cols {
					names := make([]string, 0, len(col.Deals))
					for _, d := range col.Deals {
						names = append(names, d.Name)
					}
					tw.AppendRow(table.Row{col.Stage, strings.Join(names, "\n"), col.Value})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCmd() *cobra.Command {
	p := &cobra.Command{Use: "project", Short: "Manage projects"}
	p.AddCommand(projectListCmd())
	p.AddCommand(projectAddCmd())
	p.AddCommand(projectShowCmd())
	p.AddCommand(projectDeleteCmd())
	return p
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				items, err := e.ListProjects(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Client", "Start", "End", "Progress", "Tasks"})
				for _, p := range items {
					done := 0
					for _, t := range p.Tasks {
						if t.Completed {
							done++
						}
					}
					tw.AppendRow(table.Row{p.ID, p.Name, p.Client, p.StartDate, p.EndDate, fmt.Sprintf("%.0f%%", p.Progress), fmt.Sprintf("%d/%d", done, len(p.Tasks))})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectAddCmd() *cobra.Command {
	var name, client, start, end, desc string
	var progress float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name must not be blank")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				p, err := e.AddProject(ctx, scope, domain.Project{
					Name:        name,
					Client:      client,
					StartDate:   start,
					EndDate:     end,
					Progress:    progress,
					Description: desc,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&client, "client", "", "client")
	cmd.Flags().StringVar(&start, "start", "", "start date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().Float64Var(&progress, "progress", 0, "progress 0-100")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				p, err := e.GetProject(ctx, scope, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Project: %s (%s)\n", p.Name, p.Client)
				fmt.Printf("Dates: %s to %s, %.0f%% done\n", p.StartDate, p.EndDate, p.Progress)
				fmt.Println("Tasks:")
				for _, t := range p.Tasks {
					mark := " "
					if t.Completed {
						mark = "x"
					}
					fmt.Printf("  [%s] %s (%s)\n", mark, t.Name, t.ID)
				}
				return nil
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				return e.DeleteProject(ctx, scope, args[0])
			})
		},
	}
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage project tasks"}
	t.AddCommand(&cobra.Command{
		Use:   "add <project-id> <name>",
		Short: "Append a task to a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				task, err := e.AddTask(ctx, scope, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(task)
			})
		},
	})
	t.AddCommand(&cobra.Command{
		Use:   "toggle <project-id> <task-id>",
		Short: "Flip a task between open and completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				task, err := e.ToggleTask(ctx, scope, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(task)
			})
		},
	})
	t.AddCommand(&cobra.Command{
		Use:   "delete <project-id> <task-id>",
		Short: "Remove a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				return e.DeleteTask(ctx, scope, args[0], args[1])
			})
		},
	})
	return t
}

func settingsCmd() *cobra.Command {
	s := &cobra.Command{Use: "settings", Short: "Profile and notification preferences"}
	s.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show saved settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				profile, err := e.GetProfile(ctx, scope)
				if err != nil {
					return err
				}
				notifications, err := e.GetNotifications(ctx, scope)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"profile": profile, "notifications": notifications})
			})
		},
	})
	s.AddCommand(settingsProfileCmd())
	s.AddCommand(settingsNotificationsCmd())
	return s
}

func settingsProfileCmd() *cobra.Command {
	var first, last, email, company, bio string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update profile fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				p, err := e.GetProfile(ctx, scope)
				if err != nil {
					return err
				}
				for flag, dst := range map[string]*string{"first-name": &p.FirstName, "last-name": &p.LastName, "email": &p.Email, "company": &p.Company, "bio": &p.Bio} {
					if cmd.Flags().Changed(flag) {
						*dst, _ = cmd.Flags().GetString(flag)
					}
				}
				if err := e.SaveProfile(ctx, scope, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&first, "first-name", "", "first name")
	cmd.Flags().StringVar(&last, "last-name", "", "last name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&company, "company", "", "company")
	cmd.Flags().StringVar(&bio, "bio", "", "short bio")
	return cmd
}

func settingsNotificationsCmd() *cobra.Command {
	var n domain.NotificationPrefs
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Update notification preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				cur, err := e.GetNotifications(ctx, scope)
				if err != nil {
					return err
				}
				for flag, pair := range map[string][2]*bool{
					"email":   {&cur.EmailNotifications, &n.EmailNotifications},
					"deals":   {&cur.DealReminders, &n.DealReminders},
					"tasks":   {&cur.TaskNotifications, &n.TaskNotifications},
					"reports": {&cur.WeeklyReports, &n.WeeklyReports},
				} {
					if cmd.Flags().Changed(flag) {
						*pair[0] = *pair[1]
					}
				}
				if err := e.SaveNotifications(ctx, scope, cur); err != nil {
					return err
				}
				return printJSONOrTable(cur)
			})
		},
	}
	cmd.Flags().BoolVar(&n.EmailNotifications, "email", false, "email notifications")
	cmd.Flags().BoolVar(&n.DealReminders, "deals", false, "deal reminders")
	cmd.Flags().BoolVar(&n.TaskNotifications, "tasks", false, "task notifications")
	cmd.Flags().BoolVar(&n.WeeklyReports, "reports", false, "weekly reports")
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Totals, recent activity and upcoming deals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, scope domain.Scope) error {
				d, err := e.Dashboard(ctx, scope)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Contacts: %d  Active deals: %d  Pipeline value: %.2f  Closed deals: %d\n",
					d.TotalContacts, d.ActiveDeals, d.PipelineValue, d.ClosedDeals)
				fmt.Println("Recent activity:")
				tw := newTable(table.Row{"Type", "Name", "Detail", "Date"})
				for _, a := range d.RecentActivity {
					tw.AppendRow(table.Row{a.Type, a.Name, a.Stage + a.Client, a.Date})
				}
				tw.Render()
				fmt.Println("Upcoming deals:")
				tw = newTable(table.Row{"Name", "Stage", "Value", "Close"})
				for _, deal := range d.UpcomingDeals {
					tw.AppendRow(table.Row{deal.Name, deal.Stage, deal.Value, deal.ExpectedCloseDate})
				}
				tw.Render()
				return nil
			})
		},
	}
}
