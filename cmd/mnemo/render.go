package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ent0n29/mnemo/internal/artifact"
	"github.com/ent0n29/mnemo/internal/storage"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			MarginBottom(1)

	wordStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	replyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

func renderReply(text string) string {
	return replyStyle.Render(text)
}

// renderCard draws the card body. A status-only card renders its reason.
func renderCard(a *artifact.MemoryArtifact) string {
	var lines []string
	if wb := a.WordBlock; wb != nil {
		head := wordStyle.Render(wb.Word)
		if wb.Phonetic != nil && wb.Phonetic.IPA != "" {
			head += "  " + metaStyle.Render(wb.Phonetic.IPA)
		}
		lines = append(lines, head+"  "+metaStyle.Render(fmt.Sprintf("v%d", a.Version)))
		if wb.Meaning.Native != "" || wb.Meaning.Source != "" {
			lines = append(lines, field("meaning", strings.TrimSpace(wb.Meaning.PartOfSpeech+" "+wb.Meaning.Native+" "+wb.Meaning.Source)))
		}
		if wb.Homophone.Text != "" {
			lines = append(lines, field("sounds like", wb.Homophone.Text))
		}
		if wb.Story != "" {
			lines = append(lines, field("story", wb.Story))
		}
	}
	if img := a.Media.Image; img != nil {
		lines = append(lines, field("image", img.URL))
	}
	if au := a.Media.Audio; au != nil {
		lines = append(lines, field("audio", fmt.Sprintf("%s (%.1fs)", au.URL, au.DurationSec)))
	}
	if len(a.Status.UpdatedParts) > 0 {
		parts := make([]string, len(a.Status.UpdatedParts))
		for i, p := range a.Status.UpdatedParts {
			parts[i] = string(p)
		}
		lines = append(lines, field("updated", strings.Join(parts, ", ")))
	}
	if a.Status.Reason != "" {
		lines = append(lines, metaStyle.Render(a.Status.Reason))
	}
	return cardStyle.Render(strings.Join(lines, "\n"))
}

func renderRecord(rec storage.Record) string {
	var b strings.Builder
	b.WriteString(idStyle.Render(rec.RecordID))
	b.WriteString("  ")
	b.WriteString(metaStyle.Render(rec.CachedAt.Format("2006-01-02 15:04:05")))
	b.WriteString("\n")
	if text := artifact.LatestUserText(rec.Request.Messages); text != "" {
		b.WriteString(field("user", text))
		b.WriteString("\n")
	}
	b.WriteString(renderReply(rec.Response.ReplyText))
	if a := rec.Response.Artifact; a != nil && a.WordBlock != nil {
		b.WriteString("\n")
		b.WriteString(renderCard(a))
	}
	return b.String()
}

func field(label, value string) string {
	return labelStyle.Render(label+":") + " " + value
}
