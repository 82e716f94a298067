// Package parser outlines C and C++ sources with tree-sitter.
package parser

import (
	"fmt"
	"os"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_c "github.com/tree-sitter/tree-sitter-c/bindings/go"
)

type Function struct {
	Name      string `json:"name"`
	StartLine int    `json:"start"`
	EndLine   int    `json:"end"`
	Signature string `json:"sig"`
}

// Outline is the top-level structure of one C/C++ source file
type Outline struct {
	File      string     `json:"file"`
	Functions []Function `json:"functions"`
	// 1-based lines where a top-level declaration, directive or comment starts
	DeclarationLines []int `json:"decl_lines"`
}

// ParseFile reads and outlines a source file
func ParseFile(filename string) (*Outline, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return ParseOutline(filename, content)
}

// ParseOutline parses content with the tree-sitter C grammar. C++ input is
// parsed best-effort; unparseable regions come back as ERROR nodes and are
// still reported as top-level boundaries.
func ParseOutline(filename string, content []byte) (*Outline, error) {
	if len(content) == 0 {
		return &Outline{File: filename, Functions: []Function{}}, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()

	language := sitter.NewLanguage(tree_sitter_c.Language())
	if err := parser.SetLanguage(language); err != nil {
		return nil, fmt.Errorf("failed to load C grammar: %w", err)
	}

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, fmt.Errorf("failed to parse file: %s", filename)
	}
	defer tree.Close()

	root := tree.RootNode()
	outline := &Outline{
		File:             filename,
		Functions:        []Function{},
		DeclarationLines: topLevelLines(root),
	}
	outline.Functions = append(outline.Functions, findFunctionDefinitions(root, content)...)

	return outline, nil
}

func topLevelLines(root *sitter.Node) []int {
	var lines []int
	last := 0
	for i := uint(0); i < root.NamedChildCount(); i++ {
		child := root.NamedChild(i)
		if child == nil {
			continue
		}
		line := int(child.StartPosition().Row) + 1
		if line != last {
			lines = append(lines, line)
			last = line
		}
	}
	return lines
}

func findFunctionDefinitions(node *sitter.Node, content []byte) []Function {
	var functions []Function

	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child == nil {
			continue
		}
		if child.Kind() == "function_definition" {
			if function := analyzeFunctionDefinition(child, content); function != nil {
				functions = append(functions, *function)
			}
			continue
		}
		functions = append(functions, findFunctionDefinitions(child, content)...)
	}

	return functions
}

func analyzeFunctionDefinition(node *sitter.Node, content []byte) *Function {
	declarator := findFunctionDeclarator(node.ChildByFieldName("declarator"))
	if declarator == nil {
		return nil
	}

	name := ""
	if ident := declarator.ChildByFieldName("declarator"); ident != nil {
		name = ident.Utf8Text(content)
	}

	// everything before the body
	sigEnd := node.EndByte()
	if body := node.ChildByFieldName("body"); body != nil {
		sigEnd = body.StartByte()
	}
	signature := strings.Join(strings.Fields(string(content[node.StartByte():sigEnd])), " ")

	return &Function{
		Name:      name,
		StartLine: int(node.StartPosition().Row) + 1,
		EndLine:   int(node.EndPosition().Row) + 1,
		Signature: signature,
	}
}

// findFunctionDeclarator unwraps pointer/parenthesized declarators such as
// `char *name(...)` down to the function_declarator.
func findFunctionDeclarator(node *sitter.Node) *sitter.Node {
	for node != nil {
		if node.Kind() == "function_declarator" {
			return node
		}
		node = node.ChildByFieldName("declarator")
	}
	return nil
}
