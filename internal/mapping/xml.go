package mapping

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// XMLNode is the vendor-neutral parsed XML element: name, attributes, text
// content and ordered children. The XML engine's path expressions operate
// over this shape only.
type XMLNode struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*XMLNode
}

// ParseXML decodes an XML document into an XMLNode tree.
func ParseXML(data []byte) (*XMLNode, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	var root *XMLNode
	var stack []*XMLNode

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed xml: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			node := &XMLNode{Name: t.Name.Local, Attrs: make(map[string]string, len(t.Attr))}
			for _, attr := range t.Attr {
				node.Attrs[attr.Name.Local] = attr.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			} else if root == nil {
				root = node
			}
			stack = append(stack, node)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].Text += strings.TrimSpace(string(t))
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("xml document has no root element")
	}
	return root, nil
}

// findAll collects every descendant element (including the node itself) whose
// name matches, in document order.
func (n *XMLNode) findAll(name string) []*XMLNode {
	var matches []*XMLNode
	if n.Name == name {
		matches = append(matches, n)
	}
	for _, child := range n.Children {
		matches = append(matches, child.findAll(name)...)
	}
	return matches
}

// child returns the first direct child with the given name.
func (n *XMLNode) child(name string) *XMLNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// evalXMLPath resolves a simplified XML path against a node: slash-separated
// child element names, with an optional trailing "@attribute". "Price@currency"
// reads an attribute of a child, "@code" one of the node itself, "Tax/Rate"
// descends two levels and yields element text.
func evalXMLPath(node *XMLNode, expr string) (interface{}, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, false
	}

	attr := ""
	if at := strings.LastIndexByte(expr, '@'); at >= 0 {
		attr = expr[at+1:]
		expr = strings.TrimSuffix(expr[:at], "/")
	}

	current := node
	if expr != "" {
		for _, segment := range strings.Split(expr, "/") {
			current = current.child(segment)
			if current == nil {
				return nil, false
			}
		}
	}

	if attr != "" {
		value, ok := current.Attrs[attr]
		if !ok || value == "" {
			return nil, false
		}
		return value, true
	}

	if current.Text == "" {
		return nil, false
	}
	return current.Text, true
}

// XMLEngine is the XML-variant mapping engine, sharing the mapping core with
// the JSON engine.
type XMLEngine struct {
	logger *zap.SugaredLogger
}

func NewXMLEngine(logger *zap.SugaredLogger) *XMLEngine {
	return &XMLEngine{logger: logger}
}

// Locate returns every element matching the mapping source name, searched
// recursively from root.
func (e *XMLEngine) Locate(root *XMLNode, em *EntityMapping) []*XMLNode {
	name := em.ArrayPath
	if name == "" {
		name = em.Source
	}
	return root.findAll(name)
}

// MapTree locates record elements under root and maps each one.
func (e *XMLEngine) MapTree(root *XMLNode, em *EntityMapping, build RecordFunc) []interface{} {
	nodes := e.Locate(root, em)
	items := make([]interface{}, len(nodes))
	for i, node := range nodes {
		items[i] = node
	}

	evaluate := func(item interface{}, path string) (interface{}, bool) {
		node, ok := item.(*XMLNode)
		if !ok {
			return nil, false
		}
		return evalXMLPath(node, path)
	}
	return mapRecords(e.logger, items, em, build, 0, evaluate)
}
