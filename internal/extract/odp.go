package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"
)

// odfContentPath is the path to the main content inside an OpenDocument zip.
const odfContentPath = "content.xml"

var (
	// odpPage matches one <draw:page> slide of an OpenDocument Presentation.
	odpPage = regexp.MustCompile(`(?s)<draw:page(?:\s[^>]*)?>(.*?)</draw:page>`)
	// odfText matches text:p, text:h and text:span elements that hold plain text.
	odfText = regexp.MustCompile(`<text:(?:p|h|span)(?:\s[^>]*)?>([^<]*)</text:(?:p|h|span)>`)
)

// extractODP returns one page per slide of an .odp file.
func extractODP(content []byte) ([]string, error) {
	xml, err := odfContent(content, "ODP")
	if err != nil {
		return nil, err
	}
	return odfSections(odpPage, xml), nil
}

// odfContent returns content.xml of an OpenDocument zip.
func odfContent(content []byte, kind string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract %s: not a zip: %w", kind, err)
	}
	data, err := readZipEntry(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}
	return string(data), nil
}

// odfSections splits xml with section and returns the text of each section in
// document order. Content outside any section is ignored; a document with no
// sections yields a single page of all its text.
func odfSections(section *regexp.Regexp, xml string) []string {
	matches := section.FindAllStringSubmatch(xml, -1)
	if len(matches) == 0 {
		return []string{odfPlainText(xml)}
	}
	pages := make([]string, len(matches))
	for i, m := range matches {
		pages[i] = odfPlainText(m[1])
	}
	return pages
}

func odfPlainText(xml string) string {
	parts := odfText.FindAllStringSubmatch(xml, -1)
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p[1]); t != "" {
			words = append(words, unescapeXML(t))
		}
	}
	return strings.Join(words, " ")
}
