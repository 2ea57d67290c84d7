package ui

import (
	"fmt"
	"strings"

	"github.com/dkeye/Duet/internal/quota"
)

// Prompter shows quota denials. It satisfies admission.Prompter.
type Prompter struct {
	Printer
	// RenewURL is shown in the renewal box when set.
	RenewURL string
}

func (p Prompter) OfferRenewal(d quota.Decision) {
	var b strings.Builder
	b.WriteString(WarningStyle.Bold(true).Render("Your plan has run out"))
	b.WriteString("\n\n")
	b.WriteString(planLine(d))
	if p.RenewURL != "" {
		fmt.Fprintf(&b, "\nRenew at %s", TitleStyle.Render(p.RenewURL))
	} else {
		b.WriteString("\nRenew your plan to start a call.")
	}
	fmt.Fprintln(p.W, RenewBoxStyle.Render(b.String()))
}

func (p Prompter) Block(d quota.Decision) {
	var b strings.Builder
	b.WriteString(ErrorStyle.Render("Calls are not available on this account"))
	b.WriteString("\n\n")
	b.WriteString(planLine(d))
	if d.Reason != "" {
		b.WriteString("\n" + MutedStyle.Render(d.Reason))
	}
	fmt.Fprintln(p.W, BlockBoxStyle.Render(b.String()))
}

func planLine(d quota.Decision) string {
	plan := d.CurrentPlan
	if plan == "" {
		plan = "none"
	}
	return fmt.Sprintf("Plan: %s  Used: %d/%d  Days left: %d", plan, d.UsedTokens, d.TotalTokens, d.RemainingDays)
}
