package doctext

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/rotisserie/eris"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// HTMLConverter turns HTML mail bodies and attachments into markdown, which
// keeps tables readable for the extraction prompt.
type HTMLConverter struct {
	converter *md.Converter
}

// NewHTMLConverter creates a converter with GitHub-flavored tables.
func NewHTMLConverter() *HTMLConverter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	converter.Remove("script", "style", "head", "noscript")
	return &HTMLConverter{converter: converter}
}

// Convert renders htmlContent as markdown with runs of blank lines collapsed.
func (c *HTMLConverter) Convert(htmlContent string) (string, error) {
	out, err := c.converter.ConvertString(htmlContent)
	if err != nil {
		return "", eris.Wrap(err, "html: convert to markdown")
	}
	out = excessiveLinesRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out), nil
}
