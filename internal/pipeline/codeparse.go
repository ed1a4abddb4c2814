package pipeline

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// ParseCodeBlocks pulls the html, css and javascript fenced blocks out of a
// codegen response. The first block of each language wins; prose paragraphs
// and lists become the reasoning. Missing blocks are empty strings.
func ParseCodeBlocks(response string) GeneratedCode {
	src := []byte(response)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var code GeneratedCode
	var prose []string
	seen := map[string]bool{}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch block := n.(type) {
		case *ast.FencedCodeBlock:
			body := blockLines(block, src)
			lang := classify(string(block.Language(src)), body)
			if lang == "" || seen[lang] {
				continue
			}
			seen[lang] = true
			switch lang {
			case "html":
				code.HTML = body
			case "css":
				code.CSS = body
			case "js":
				code.JS = body
			}
		case *ast.Paragraph, *ast.List, *ast.Blockquote:
			if t := strings.TrimSpace(nodeText(block, src)); t != "" {
				prose = append(prose, t)
			}
		}
	}

	code.Reasoning = strings.Join(prose, "\n\n")
	return code
}

func classify(lang, body string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "html", "htm", "xml":
		return "html"
	case "css", "scss":
		return "css"
	case "js", "javascript", "jsx", "mjs":
		return "js"
	case "":
		if strings.HasPrefix(strings.TrimSpace(body), "<") {
			return "html"
		}
	}
	return ""
}

func blockLines(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return strings.TrimRight(buf.String(), "\n")
}

// nodeText collects the raw source lines of a block and its descendants.
func nodeText(n ast.Node, src []byte) string {
	if n.Type() == ast.TypeBlock && n.Lines().Len() > 0 {
		return blockLines(n, src)
	}
	var parts []string
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t := nodeText(c, src); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// ValidateParsedCode reports what is missing from a parsed codegen response.
func ValidateParsedCode(code GeneratedCode) []string {
	var errs []string
	if strings.TrimSpace(code.HTML) == "" {
		errs = append(errs, "No HTML code block found in the model response")
	}
	return errs
}
