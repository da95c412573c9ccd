package email

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/fiffu/listingwatch/lib/models"
)

var (
	//go:embed listing.html
	listingHTML     string
	listingTemplate = template.Must(template.New("listing.html").Parse(listingHTML))

	//go:embed confirm.html
	confirmHTML     string
	confirmTemplate = template.Must(template.New("confirm.html").Parse(confirmHTML))

	//go:embed verify.html
	verifyHTML     string
	verifyTemplate = template.Must(template.New("verify.html").Parse(verifyHTML))
)

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

type ListingEmailFormat struct {
	Watch    *models.Watch
	Change   models.Change
	Headline string
}

func (ef *ListingEmailFormat) Subject() string {
	return fmt.Sprintf("Listingwatch: %s in %s", strings.ToLower(ef.Headline), ef.Watch.DisplayName())
}

func (ef *ListingEmailFormat) ShowOldPrice() bool {
	return ef.Change.Type != models.NotificationNew && ef.Change.OldPrice != ""
}

func (ef *ListingEmailFormat) Body() string {
	return mustFillTemplate(listingTemplate, ef)
}

type ConfirmationEmailFormat struct {
	Watch *models.Watch
}

func (ef *ConfirmationEmailFormat) Subject() string {
	return fmt.Sprintf("Listingwatch: monitoring updated for %s", ef.Watch.DisplayName())
}

func (ef *ConfirmationEmailFormat) SearchURL() string {
	return ef.Watch.Query().String()
}

func (ef *ConfirmationEmailFormat) Body() string {
	return mustFillTemplate(confirmTemplate, ef)
}

type VerificationEmailFormat struct {
	VerifyURL string
}

func (ef *VerificationEmailFormat) Subject() string {
	return "Listingwatch: Email verification required"
}

func (ef *VerificationEmailFormat) Body() string {
	return mustFillTemplate(verifyTemplate, ef)
}
