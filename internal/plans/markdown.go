package plans

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// dataBlockRE extracts the embedded JSON data block a rendered plan
// carries for lossless round-tripping (§4.11).
var dataBlockRE = regexp.MustCompile(`(?s)<!-- plan-data\s*\n(.*?)\n-->`)

// ToMarkdown renders the plan as a human-readable markdown document with
// a trailing embedded JSON data block, mirroring
// original_source/silica/developer/plans.py's to_markdown.
func (p *Plan) ToMarkdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Plan: %s\n\n", p.Title)
	fmt.Fprintf(&b, "**ID:** %s\n", p.ID)
	fmt.Fprintf(&b, "**Created:** %s\n", p.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "**Updated:** %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "**Status:** %s\n", p.Status)
	fmt.Fprintf(&b, "**Session:** %s\n\n", p.SessionID)

	b.WriteString("## Context\n\n")
	if p.Context != "" {
		b.WriteString(p.Context)
	} else {
		b.WriteString("_No context provided yet._")
	}
	b.WriteString("\n\n")

	if len(p.Questions) > 0 {
		b.WriteString("## Clarification Questions\n\n")
		for _, q := range p.Questions {
			checkbox := "[ ]"
			if q.Answer != nil {
				checkbox = "[x]"
			}
			fmt.Fprintf(&b, "- %s **%s**\n", checkbox, q.Question)
			if len(q.Options) > 0 {
				fmt.Fprintf(&b, "  - Options: %s\n", strings.Join(q.Options, ", "))
			}
			if q.Answer != nil {
				fmt.Fprintf(&b, "  - **Answer:** %s\n", *q.Answer)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Implementation Approach\n\n")
	if p.Approach != "" {
		b.WriteString(p.Approach)
	} else {
		b.WriteString("_No approach defined yet._")
	}
	b.WriteString("\n\n")

	b.WriteString("## Tasks\n\n")
	if len(p.Tasks) > 0 {
		for _, t := range p.Tasks {
			status := "⬜"
			if t.Verified {
				status = "✓✓"
			} else if t.Completed {
				status = "✅"
			}
			fmt.Fprintf(&b, "- %s **%s** (id: %s)\n", status, t.Description, t.ID)
			if t.Details != "" {
				fmt.Fprintf(&b, "  - Details: %s\n", t.Details)
			}
			if len(t.Files) > 0 {
				fmt.Fprintf(&b, "  - Files: %s\n", strings.Join(t.Files, ", "))
			}
			if t.Tests != "" {
				fmt.Fprintf(&b, "  - Tests: %s\n", t.Tests)
			}
			if len(t.Dependencies) > 0 {
				fmt.Fprintf(&b, "  - Dependencies: %s\n", strings.Join(t.Dependencies, ", "))
			}
			if t.VerificationNotes != "" {
				fmt.Fprintf(&b, "  - Verification: %s\n", t.VerificationNotes)
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("_No tasks defined yet._\n\n")
	}

	b.WriteString("## Considerations\n\n")
	if len(p.Considerations) > 0 {
		for k, v := range p.Considerations {
			fmt.Fprintf(&b, "- **%s:** %s\n", k, v)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("_No considerations noted yet._\n\n")
	}

	if len(p.ProgressLog) > 0 {
		b.WriteString("## Progress Log\n\n")
		for _, e := range p.ProgressLog {
			fmt.Fprintf(&b, "- [%s] %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Message)
		}
		b.WriteString("\n")
	}

	if p.CompletionNotes != "" {
		b.WriteString("## Completion Notes\n\n")
		b.WriteString(p.CompletionNotes)
		b.WriteString("\n\n")
	}

	b.WriteString("---\n\n<!-- plan-data\n")
	data, _ := json.MarshalIndent(p, "", "  ")
	b.Write(data)
	b.WriteString("\n-->")

	return b.String()
}

// FromMarkdown parses a plan rendered by ToMarkdown. It prefers the
// embedded JSON data block and falls back to scraping the handful of
// fields a human might have hand-edited in the markdown, matching the
// original's graceful-degradation behavior.
func FromMarkdown(content string) (*Plan, error) {
	if m := dataBlockRE.FindStringSubmatch(content); m != nil {
		var p Plan
		if err := json.Unmarshal([]byte(m[1]), &p); err == nil {
			return &p, nil
		}
	}

	p := &Plan{Status: StatusDraft, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}

	if m := regexp.MustCompile(`(?m)^# Plan: (.+)$`).FindStringSubmatch(content); m != nil {
		p.Title = strings.TrimSpace(m[1])
	} else {
		p.Title = "Untitled Plan"
	}
	if m := regexp.MustCompile(`(?m)\*\*ID:\*\* (.+)$`).FindStringSubmatch(content); m != nil {
		p.ID = strings.TrimSpace(m[1])
	}
	if m := regexp.MustCompile(`(?m)\*\*Status:\*\* (.+)$`).FindStringSubmatch(content); m != nil {
		p.Status = Status(strings.TrimSpace(m[1]))
	}
	if m := regexp.MustCompile(`(?m)\*\*Session:\*\* (.+)$`).FindStringSubmatch(content); m != nil {
		p.SessionID = strings.TrimSpace(m[1])
	}
	if m := regexp.MustCompile(`(?s)## Context\s*\n\n(.*?)(\n##|\n---|\z)`).FindStringSubmatch(content); m != nil {
		ctx := strings.TrimSpace(m[1])
		if ctx != "_No context provided yet._" {
			p.Context = ctx
		}
	}
	if m := regexp.MustCompile(`(?s)## Implementation Approach\s*\n\n(.*?)(\n##|\n---|\z)`).FindStringSubmatch(content); m != nil {
		approach := strings.TrimSpace(m[1])
		if approach != "_No approach defined yet._" {
			p.Approach = approach
		}
	}
	if p.ID == "" {
		p.ID = newShortID()
	}

	return p, nil
}
