package htmlutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText collapses runs of whitespace to single spaces, strips
// non-printable runes and trims. All text pulled off a page goes
// through this before anything compares or parses it. Whitespace is
// collapsed first so a line break between words does not weld them
// together once the non-printables are gone.
func CleanText(s string) string {
	s = innerWhitespace.ReplaceAllString(s, " ")
	s = removeNonPrintable(s)
	s = strings.Trim(s, " \t\n")
	return s
}

// SelectionText is the cleaned text content of the first node in the
// selection, "" when the selection is empty.
func SelectionText(sel *goquery.Selection) string {
	if len(sel.Nodes) == 0 {
		return ""
	}
	return CleanText(GetText(sel.Nodes[0]))
}

// FirstAttr is the named attribute of the first node carrying it.
func FirstAttr(sel *goquery.Selection, name string) string {
	for _, n := range sel.Nodes {
		for _, a := range n.Attr {
			if a.Key == name {
				return strings.TrimSpace(a.Val)
			}
		}
	}
	return ""
}
