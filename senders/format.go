package senders

import (
	"fmt"
	"strings"

	"github.com/fiffu/listingwatch/lib/models"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

var markdownURLEscaper = strings.NewReplacer(`\`, `\\`, ")", `\)`)

// EscapeMarkdown escapes text for telegram's MarkdownV2 parse mode.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

type textStyle struct {
	esc  func(string) string
	bold func(string) string
	link func(label, url string) string
}

var markdownStyle = textStyle{
	esc:  EscapeMarkdown,
	bold: func(s string) string { return "*" + EscapeMarkdown(s) + "*" },
	link: func(label, url string) string {
		return fmt.Sprintf("[%s](%s)", EscapeMarkdown(label), markdownURLEscaper.Replace(url))
	},
}

var plainStyle = textStyle{
	esc:  func(s string) string { return s },
	bold: func(s string) string { return s },
	link: func(label, url string) string { return label + ": " + url },
}

// Headline names the kind of change.
func Headline(change models.Change) string {
	switch change.Type {
	case models.NotificationPriceDrop:
		if change.Listing.PriceDropText != "" {
			return "Price drop (" + change.Listing.PriceDropText + ")"
		}
		return "Price drop"
	case models.NotificationPriceChange:
		return "Price change"
	default:
		return "New listing"
	}
}

func headlineIcon(typ models.NotificationType) string {
	switch typ {
	case models.NotificationPriceDrop:
		return "💰"
	case models.NotificationPriceChange:
		return "📈"
	default:
		return "🏠"
	}
}

func RenderMarkdown(watch *models.Watch, change models.Change) string {
	return renderChange(markdownStyle, watch, change)
}

func RenderPlain(watch *models.Watch, change models.Change) string {
	return renderChange(plainStyle, watch, change)
}

func renderChange(st textStyle, watch *models.Watch, change models.Change) string {
	l := change.Listing
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", headlineIcon(change.Type), st.bold(Headline(change)))
	if watch != nil {
		fmt.Fprintf(&b, "%s\n", st.esc(watch.DisplayName()))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "🏷️ %s %s\n", st.bold("Title:"), st.esc(l.Title))
	fmt.Fprintf(&b, "💰 %s %s", st.bold("Price:"), st.esc(l.Price))
	if change.Type != models.NotificationNew && change.OldPrice != "" {
		b.WriteString(" " + st.esc("(was: "+change.OldPrice+")"))
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "📍 %s %s\n", st.bold("Location:"), st.esc(l.Location))
	if l.Details != "" {
		fmt.Fprintf(&b, "📋 %s %s\n", st.bold("Details:"), st.esc(l.Details))
	}
	if l.Link != "" {
		fmt.Fprintf(&b, "🔗 %s\n", st.link("View listing", l.Link))
	}
	return b.String()
}

func renderConfirmation(st textStyle, watch *models.Watch) string {
	return fmt.Sprintf(
		"🔍 %s %s\n%s\n🔗 %s",
		st.esc("Monitoring updated for"), st.bold(watch.DisplayName()),
		st.esc("We'll notify you about new listings and price changes."),
		st.link("View search", watch.Query().String()),
	)
}
