package agent

import (
	"strings"
	"time"
)

// systemPrompt renders the agent's identity block. The current date is
// included so the model can resolve relative time references.
func (a *Agent) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are " + a.cfg.Name + ".")
	if a.cfg.Purpose != "" {
		b.WriteString("\n\nYour purpose: " + a.cfg.Purpose)
	}
	if len(a.cfg.Notes) > 0 {
		b.WriteString("\n\nNotes:")
		for _, note := range a.cfg.Notes {
			b.WriteString("\n- " + note)
		}
	}
	b.WriteString("\n\nCurrent date: " + time.Now().UTC().Format("2006-01-02"))
	return b.String()
}
