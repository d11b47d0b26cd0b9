package extractor

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	sectionsense "github.com/jacobmichels/Section-Sense-Go"
	"golang.org/x/net/html"
)

var _ sectionsense.Extractor = Edugate{}

// Handler call that marks an anchor carrying section data
const DefaultTrigger = "showToolTip(this,event,"

// Course table cells starting with one of these are filter or category labels, never course names
var DefaultBoilerplatePrefixes = []string{"إبحث", "إجبارية", "إختيارية", "انتظام"}

const (
	sectionNumbersToken = 0
	sectionIDsToken     = 1
	courseIDToken       = 6
	instructorsToken    = 10
	minTokens           = 11

	instructorSeparator = "@-@-@"
	sectionSeparator    = "-"
	maxCourseCodeLength = 20
	minCourseNameLength = 5
)

var (
	quotedTokenRegex = regexp.MustCompile(`'([^']*)'`)
	courseCodeRegex  = regexp.MustCompile(`^\p{Nd}+[\s\p{Zs}]+[^\s\p{Zs}]+$`)
)

// Edugate extracts sections from the portal's available sections page.
// Section data lives in single-quoted arguments of the anchors' onclick handlers.
type Edugate struct {
	trigger             string
	boilerplatePrefixes []string
}

func NewEdugate() Edugate {
	return Edugate{DefaultTrigger, DefaultBoilerplatePrefixes}
}

// NewEdugateWith allows overriding the handler signature and label prefixes, empty values keep the defaults
func NewEdugateWith(trigger string, boilerplatePrefixes []string) Edugate {
	e := NewEdugate()
	if trigger != "" {
		e.trigger = trigger
	}
	if len(boilerplatePrefixes) > 0 {
		e.boilerplatePrefixes = boilerplatePrefixes
	}
	return e
}

func (e Edugate) Extract(markup string) (sectionsense.Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", sectionsense.ErrMalformedDocument, err)
	}

	snapshot := make(sectionsense.Snapshot)
	doc.Find("a[onclick]").Each(func(_ int, anchor *goquery.Selection) {
		onclick := anchor.AttrOr("onclick", "")
		if !strings.Contains(onclick, e.trigger) {
			return
		}

		for _, section := range e.anchorSections(anchor, onclick) {
			// later anchors win
			snapshot[section.Key()] = section
		}
	})

	return snapshot, nil
}

func (e Edugate) anchorSections(anchor *goquery.Selection, onclick string) []sectionsense.Section {
	matches := quotedTokenRegex.FindAllStringSubmatch(onclick, -1)
	if len(matches) < minTokens {
		return nil
	}
	tokens := make([]string, len(matches))
	for i, match := range matches {
		tokens[i] = match[1]
	}

	numbers := splitTrimmed(tokens[sectionNumbersToken], sectionSeparator)
	ids := splitTrimmed(tokens[sectionIDsToken], sectionSeparator)
	courseID := tokens[courseIDToken]

	var instructors []string
	for _, name := range strings.Split(tokens[instructorsToken], instructorSeparator) {
		name = strings.TrimSpace(name)
		if name != "" {
			instructors = append(instructors, name)
		}
	}

	code, name := e.courseLabels(anchor)

	var sections []sectionsense.Section
	for i := 0; i < len(numbers) && i < len(ids); i++ {
		if ids[i] == "" {
			continue
		}

		instructor := sectionsense.UnknownInstructor
		if i < len(instructors) {
			instructor = instructors[i]
		}

		sections = append(sections, sectionsense.Section{
			CourseID:      courseID,
			CourseCode:    code,
			CourseName:    name,
			SectionNumber: numbers[i],
			SectionID:     ids[i],
			Instructor:    instructor,
		})
	}

	return sections
}

// courseLabels recovers the course code and name from the cells of the anchor's table row.
// Either may come back empty.
func (e Edugate) courseLabels(anchor *goquery.Selection) (string, string) {
	row := anchor.Closest("tr")
	if row.Length() == 0 {
		return "", ""
	}

	var code, name string
	row.Find("td").Each(func(_ int, cell *goquery.Selection) {
		if len(cell.Nodes) == 0 {
			return
		}
		text := strings.TrimSpace(strings.ReplaceAll(strippedText(cell.Nodes[0]), "\u00a0", " "))

		if isCourseCode(text) {
			code = text
			return
		}
		if name == "" && e.isCourseName(text) {
			name = text
		}
	})

	return code, name
}

func isCourseCode(text string) bool {
	return courseCodeRegex.MatchString(text) && utf8.RuneCountInString(text) < maxCourseCodeLength
}

func (e Edugate) isCourseName(text string) bool {
	if utf8.RuneCountInString(text) <= minCourseNameLength {
		return false
	}
	if isDigits(text) || courseCodeRegex.MatchString(text) {
		return false
	}
	for _, prefix := range e.boilerplatePrefixes {
		if strings.HasPrefix(text, prefix) {
			return false
		}
	}
	return true
}

func isDigits(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range text {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// splitTrimmed drops leading and trailing separators before splitting, an empty list stays empty
func splitTrimmed(value, separator string) []string {
	value = strings.Trim(value, separator)
	if value == "" {
		return nil
	}
	return strings.Split(value, separator)
}

// strippedText concatenates the node's text pieces, each trimmed of surrounding whitespace
func strippedText(node *html.Node) string {
	var buffer bytes.Buffer
	strippedTextRecursive(node, &buffer)
	return buffer.String()
}

func strippedTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(strings.TrimSpace(node.Data))
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		strippedTextRecursive(child, buffer)
	}
}
