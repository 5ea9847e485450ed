package cmd

import (
	"fmt"
	"time"

	"advsandbox/pkg/api"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [attack_id]",
		Short: "Get status of an attack",
		Long:  `Retrieve the current state of an attack (queued, in_progress, completed, failed, cancelled), its progress and timestamps. With --watch the command polls until the attack reaches a terminal state.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")
			interval, _ := cmd.Flags().GetDuration("interval")

			client, err := newClient()
			if err != nil {
				return err
			}

			if watch {
				_, err := watchStatus(cmd, client, args[0], interval)
				return err
			}

			status, err := client.GetStatus(args[0])
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			printStatus(cmd, *status)
			return nil
		},
	}
	cmd.Flags().BoolP("watch", "w", false, "Poll until the attack finishes")
	cmd.Flags().Duration("interval", 2*time.Second, "Polling interval used with --watch")
	return cmd
}

// watchStatus polls the attack, printing each progress change, until it is
// terminal.
func watchStatus(cmd *cobra.Command, client *AttackClient, attackID string, interval time.Duration) (*api.AttackStatusResponse, error) {
	out := cmd.OutOrStdout()
	lastProgress, lastStage := -1, ""
	for {
		status, err := client.GetStatus(attackID)
		if err != nil {
			return nil, fmt.Errorf("failed to get status: %w", err)
		}
		if isTerminal(status.Status) {
			printStatus(cmd, *status)
			return status, nil
		}
		if status.ProgressPercentage != lastProgress || status.CurrentStage != lastStage {
			fmt.Fprintf(out, "%s %3d%% %s\n", colorizeStatus(status.Status), status.ProgressPercentage, status.CurrentStage)
			lastProgress, lastStage = status.ProgressPercentage, status.CurrentStage
		}

		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-time.After(interval):
		}
	}
}

func isTerminal(status string) bool {
	switch status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

func printStatus(cmd *cobra.Command, status api.AttackStatusResponse) {
	out := cmd.OutOrStdout()

	// Header with status icon
	icon := statusIcon(status.Status)
	fmt.Fprintf(out, "%s %sAttack Details%s\n", icon, colorBold, colorReset)
	fmt.Fprintln(out, "──────────────────────────────")

	fmt.Fprintf(out, "%sID:%s          %s\n", colorDim, colorReset, status.ID)
	fmt.Fprintf(out, "%sModel:%s       %s\n", colorDim, colorReset, status.ModelID)
	fmt.Fprintf(out, "%sMethod:%s      %s\n", colorDim, colorReset, status.AttackMethodID)
	fmt.Fprintf(out, "%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(status.Status))
	fmt.Fprintf(out, "%sProgress:%s    %d%% %s\n", colorDim, colorReset, status.ProgressPercentage, status.CurrentStage)
	fmt.Fprintf(out, "%sAttempt:%s     %d\n", colorDim, colorReset, status.Attempt)

	if status.AttackSuccess != nil {
		if *status.AttackSuccess {
			fmt.Fprintf(out, "%sSuccess:%s     %syes%s\n", colorDim, colorReset, colorGreen, colorReset)
		} else {
			fmt.Fprintf(out, "%sSuccess:%s     %sno%s\n", colorDim, colorReset, colorRed, colorReset)
		}
	}

	// Error (if present)
	if status.Error != nil {
		fmt.Fprintf(out, "%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *status.Error, colorReset)
	}
	if status.WebhookStatus != "" {
		fmt.Fprintf(out, "%sWebhook:%s     %s\n", colorDim, colorReset, status.WebhookStatus)
	}

	// Timestamps with relative time
	fmt.Fprintf(out, "%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&status.CreatedAt))
	fmt.Fprintf(out, "%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(status.StartedAt))

	// Duration if both times available
	if status.StartedAt != nil && status.CompletedAt != nil {
		duration := status.CompletedAt.Sub(*status.StartedAt)
		fmt.Fprintf(out, "%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(status.CompletedAt),
			colorCyan, formatDuration(duration), colorReset)
	} else {
		fmt.Fprintf(out, "%sFinished:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(status.CompletedAt))
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "completed":
		return colorGreen + "✓" + colorReset
	case "failed":
		return colorRed + "✗" + colorReset
	case "cancelled":
		return colorDim + "⊘" + colorReset
	case "in_progress":
		return colorYellow + "⏳" + colorReset
	case "queued":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "completed":
		return icon + " " + colorGreen + status + colorReset
	case "failed":
		return icon + " " + colorRed + status + colorReset
	case "cancelled":
		return icon + " " + colorDim + status + colorReset
	case "in_progress":
		return icon + " " + colorYellow + status + colorReset
	case "queued":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
