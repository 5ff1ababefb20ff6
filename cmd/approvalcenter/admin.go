package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/notification"
	"github.com/jkaninda/approvalcenter/internal/sla"
)

var (
	orgFlag      string
	approverFlag string
	seedCount    int
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert demo employees, absence requests, and time corrections",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sc, err := newCLIComponents()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		ctx := cmd.Context()
		names := []string{"Ada Lovelace", "Grace Hopper", "Alan Turing", "Katherine Johnson"}
		kinds := []domain.AbsenceKind{domain.AbsenceVacation, domain.AbsenceSick, domain.AbsencePersonal, domain.AbsenceParental}
		now := time.Now().UTC()
		team := "team-ops"

		var created int
		for i := range seedCount {
			name := names[i%len(names)]
			emp := &domain.Employee{
				OrganizationID: orgFlag,
				AccountID:      fmt.Sprintf("acc-%d", i%len(names)),
				Name:           name,
				Email:          strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
				TeamID:         &team,
			}
			if err := sc.Store.Employees().Upsert(ctx, emp); err != nil {
				return fmt.Errorf("seeding employee: %w", err)
			}

			// Alternate types and spread creation times so priorities and SLA states vary.
			createdAt := now.Add(-time.Duration(i*9) * time.Hour)
			if i%2 == 0 {
				start := now.AddDate(0, 0, i%20)
				days := 1 + i%5
				_, err = sc.Store.Absences().Create(ctx, &domain.AbsenceRequest{
					OrganizationID: orgFlag,
					Employee:       *emp,
					Kind:           kinds[i%len(kinds)],
					StartDate:      start,
					EndDate:        start.AddDate(0, 0, days-1),
					Days:           days,
					Note:           "seeded",
					CreatedAt:      createdAt,
				}, approverFlag)
			} else {
				workDate := now.AddDate(0, 0, -(i % 16)).Truncate(24 * time.Hour)
				in := workDate.Add(9 * time.Hour)
				out := workDate.Add(17 * time.Hour)
				tc := &domain.TimeCorrection{
					OrganizationID:    orgFlag,
					Employee:          *emp,
					WorkDate:          workDate,
					RequestedClockIn:  in,
					RequestedClockOut: &out,
					Note:              "seeded",
					CreatedAt:         createdAt,
				}
				if i%3 != 0 {
					orig := in.Add(25 * time.Minute)
					tc.OriginalClockIn = &orig
				}
				_, err = sc.Store.TimeCorrections().Create(ctx, tc, approverFlag)
			}
			if err != nil {
				return fmt.Errorf("seeding request %d: %w", i, err)
			}
			created++
		}
		fmt.Printf("seeded %d requests for approver %s in org %s\n", created, approverFlag, orgFlag)
		return nil
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and override organization SLA rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the default SLA table and the organization's overrides",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sc, err := newCLIComponents()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		overrides, err := sc.Rules.Rules(cmd.Context(), orgFlag)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tTYPE\tPRIORITY\tDEADLINE\tESCALATE\tTHRESHOLD")
		for _, r := range sla.DefaultRules() {
			printRule(w, "default", r)
		}
		for _, r := range overrides {
			printRule(w, orgFlag, r)
		}
		return w.Flush()
	},
}

var ruleFlags struct {
	approvalType string
	priority     string
	deadline     int
	escalate     bool
	threshold    int
}

var rulesSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or replace an organization SLA rule",
	RunE: func(cmd *cobra.Command, _ []string) error {
		priority := domain.Priority(ruleFlags.priority)
		if !priority.Valid() {
			return fmt.Errorf("unknown priority %q", ruleFlags.priority)
		}
		if ruleFlags.deadline <= 0 {
			return fmt.Errorf("--deadline-hours must be positive")
		}

		sc, err := newCLIComponents()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		if !sc.Registry.Exists(ruleFlags.approvalType) {
			return fmt.Errorf("approval type %q is not registered", ruleFlags.approvalType)
		}
		rule := sla.Rule{
			ApprovalType:      ruleFlags.approvalType,
			Priority:          priority,
			DeadlineHours:     ruleFlags.deadline,
			EscalationEnabled: ruleFlags.escalate,
		}
		if cmd.Flags().Changed("threshold-hours") {
			th := ruleFlags.threshold
			rule.EscalationThresholdHours = &th
		}
		if err := sc.Rules.Set(cmd.Context(), orgFlag, rule); err != nil {
			return err
		}
		fmt.Printf("rule saved: %s/%s %dh\n", rule.ApprovalType, rule.Priority, rule.DeadlineHours)
		return nil
	},
}

func printRule(w *tabwriter.Writer, source string, r sla.Rule) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%dh\t%t\t%dh\n", source, r.ApprovalType, r.Priority, r.DeadlineHours, r.EscalationEnabled, r.Threshold())
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "Manage escalation notification channels",
}

var channelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the organization's notification channels",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sc, err := newCLIComponents()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		channels, err := sc.Store.NotificationChannels().List(cmd.Context(), orgFlag)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tENABLED\tID")
		for _, ch := range channels {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", ch.Name, ch.ChannelType, ch.Enabled, ch.ID)
		}
		return w.Flush()
	},
}

var channelFlags struct {
	name        string
	channelType string
	settings    []string
}

var channelsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a slack, telegram, or webhook channel",
	Example: `  approvalcenter channels add --org acme --name hr-slack --type slack --set channel_id=C0123
  approvalcenter channels add --org acme --name ops-hook --type webhook --set url=https://ops.example.com/hook --set secret=s3cret`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := parseSettings(channelFlags.settings)
		if err != nil {
			return err
		}

		sc, err := newCLIComponents()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		ch := &domain.NotificationChannel{
			OrganizationID: orgFlag,
			Name:           channelFlags.name,
			ChannelType:    channelFlags.channelType,
			Config:         settings,
			Enabled:        true,
		}
		if err := sc.Store.NotificationChannels().Create(cmd.Context(), ch); err != nil {
			return err
		}
		fmt.Printf("channel %s created (%s)\n", ch.Name, ch.ID)
		return nil
	},
}

var channelsTestCmd = &cobra.Command{
	Use:   "test NAME",
	Short: "Send a test message through one channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := newCLIComponents()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		results, err := sc.Dispatcher.Notify(cmd.Context(), orgFlag, args, &notification.Message{
			Subject: "Approval Center test",
			Body:    "This channel will receive escalations for overdue approvals.",
		})
		if err != nil {
			return err
		}
		for name, sendErr := range results {
			if sendErr != nil {
				return fmt.Errorf("channel %s: %w", name, sendErr)
			}
		}
		fmt.Printf("test message sent to %s\n", args[0])
		return nil
	},
}

// parseSettings turns repeated key=value flags into a channel config map.
func parseSettings(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid setting %q, want key=value", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func init() {
	for _, cmd := range []*cobra.Command{seedCmd, rulesListCmd, rulesSetCmd, channelsListCmd, channelsAddCmd, channelsTestCmd} {
		cmd.Flags().StringVar(&orgFlag, "org", "default", "organization ID")
	}

	seedCmd.Flags().StringVar(&approverFlag, "approver", "manager-1", "approver ID the requests are routed to")
	seedCmd.Flags().IntVar(&seedCount, "count", 12, "number of requests to create")

	rulesSetCmd.Flags().StringVar(&ruleFlags.approvalType, "type", "", "approval type")
	rulesSetCmd.Flags().StringVar(&ruleFlags.priority, "priority", "", "urgent, high, normal, or low")
	rulesSetCmd.Flags().IntVar(&ruleFlags.deadline, "deadline-hours", 0, "hours until the SLA deadline")
	rulesSetCmd.Flags().BoolVar(&ruleFlags.escalate, "escalate", true, "escalate when overdue")
	rulesSetCmd.Flags().IntVar(&ruleFlags.threshold, "threshold-hours", 0, "overdue hours before escalating")
	_ = rulesSetCmd.MarkFlagRequired("type")
	_ = rulesSetCmd.MarkFlagRequired("priority")
	rulesCmd.AddCommand(rulesListCmd, rulesSetCmd)

	channelsAddCmd.Flags().StringVar(&channelFlags.name, "name", "", "channel name, unique per organization")
	channelsAddCmd.Flags().StringVar(&channelFlags.channelType, "type", "", "slack, telegram, or webhook")
	channelsAddCmd.Flags().StringArrayVar(&channelFlags.settings, "set", nil, "channel setting as key=value (repeatable)")
	_ = channelsAddCmd.MarkFlagRequired("name")
	_ = channelsAddCmd.MarkFlagRequired("type")
	channelsCmd.AddCommand(channelsListCmd, channelsAddCmd, channelsTestCmd)
}
