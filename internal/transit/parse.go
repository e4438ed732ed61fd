package transit

import (
	"io"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Departure is one row of the departure board.
type Departure struct {
	Station     string `json:"station"`
	Destination string `json:"destination"`
	Time        string `json:"time"`
	Line        string `json:"line"`
}

const resultClass = "ivu_result_box"

// Parse extracts departures from a departure board page.
func Parse(r io.Reader, station string) ([]Departure, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	if findFirst(doc, isForm) != nil {
		return nil, ErrUnknownStation
	}
	box := findFirst(doc, isResultBox)
	if box == nil {
		return nil, ErrNoResults
	}

	departures := []Departure{}
	walk(box, func(n *html.Node) {
		if n.DataAtom != atom.Tr || n.Parent == nil || n.Parent.DataAtom != atom.Tbody {
			return
		}
		var cells []string
		walk(n, func(c *html.Node) {
			if c.DataAtom == atom.Td {
				cells = append(cells, text(c))
			}
		})
		if len(cells) < 3 {
			return
		}
		departures = append(departures, Departure{
			Station:     station,
			Destination: cells[2],
			Time:        cells[0],
			Line:        cells[1],
		})
	})
	return departures, nil
}

func isForm(n *html.Node) bool {
	return n.Type == html.ElementNode && n.DataAtom == atom.Form
}

// isResultBox matches div.ivu_result_box without an id. The page nests
// boxes with ids for its header blocks.
func isResultBox(n *html.Node) bool {
	if n.Type != html.ElementNode || n.DataAtom != atom.Div {
		return false
	}
	if attr(n, "id") != "" {
		return false
	}
	return slices.Contains(strings.Fields(attr(n, "class")), resultClass)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// walk visits n's descendants in document order.
func walk(n *html.Node, visit func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visit(c)
		walk(c, visit)
	}
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

// text returns the node's text with whitespace runs collapsed.
func text(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
			sb.WriteByte(' ')
		}
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}
