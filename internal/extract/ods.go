package extract

import "regexp"

// odsTable matches one <table:table> sheet, not table:table-row or table:table-cell.
var odsTable = regexp.MustCompile(`(?s)<table:table(?:\s[^>]*)?>(.*?)</table:table>`)

// extractODS returns one page per sheet of an .ods file.
func extractODS(content []byte) ([]string, error) {
	xml, err := odfContent(content, "ODS")
	if err != nil {
		return nil, err
	}
	return odfSections(odsTable, xml), nil
}
