package render

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// newMarkdown builds the converter used for every document: GitHub tables
// and friends, TeX math spans and mermaid diagram blocks.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM, &mathDiagramExtension{}),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
}

type mathDiagramExtension struct{}

func (e *mathDiagramExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithBlockParsers(util.Prioritized(&mathBlockParser{}, 90)),
		parser.WithInlineParsers(util.Prioritized(&mathParser{}, 150)),
	)
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&mathDiagramRenderer{}, 200),
	))
}

// KindMath is the node kind of a TeX math span.
var KindMath = ast.NewNodeKind("Math")

// Math is an inline TeX span. Display is true for $$...$$.
type Math struct {
	ast.BaseInline
	Display bool
	Literal []byte
}

func (n *Math) Kind() ast.NodeKind { return KindMath }

func (n *Math) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Literal": string(n.Literal)}, nil)
}

// mathParser recognises $x$ and $$x$$ on a single line. Like pandoc, the
// opening $ must be followed by a non-space and the closing $ preceded by a
// non-space and not followed by a digit, so prices such as "$5 and $10" stay text.
type mathParser struct{}

func (p *mathParser) Trigger() []byte { return []byte{'$'} }

func (p *mathParser) Parse(_ ast.Node, block text.Reader, _ parser.Context) ast.Node {
	line, _ := block.PeekLine()
	open := 1
	if len(line) > 1 && line[1] == '$' {
		open = 2
	}
	fence := line[:open]
	if len(line) <= open || isSpace(line[open]) {
		return nil
	}

	end := bytes.Index(line[open:], fence)
	for end >= 0 {
		closeAt := open + end
		after := closeAt + open
		if !isSpace(line[closeAt-1]) && (after >= len(line) || !isDigit(line[after])) {
			break
		}
		next := bytes.Index(line[closeAt+1:], fence)
		if next < 0 {
			end = -1
			break
		}
		end = closeAt + 1 + next - open
	}
	if end <= 0 {
		return nil
	}

	literal := make([]byte, end)
	copy(literal, line[open:open+end])
	block.Advance(open + end + open)
	return &Math{Display: open == 2, Literal: literal}
}

// KindMathBlock is the node kind of a display math block spanning lines.
var KindMathBlock = ast.NewNodeKind("MathBlock")

// MathBlock holds the raw TeX lines between a $$ opening line and the
// closing $$.
type MathBlock struct {
	ast.BaseBlock
}

func (n *MathBlock) Kind() ast.NodeKind { return KindMathBlock }

func (n *MathBlock) IsRaw() bool { return true }

func (n *MathBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, nil, nil)
}

var mathFence = []byte("$$")

// mathBlockParser opens on a line starting with $$ that does not also close
// on that line, and runs to the next line ending in $$. An unclosed block
// runs to the end of the document, like a fenced code block.
type mathBlockParser struct{}

func (b *mathBlockParser) Trigger() []byte { return []byte{'$'} }

func (b *mathBlockParser) Open(_ ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, segment := reader.PeekLine()
	pos := pc.BlockOffset()
	if pos < 0 || !bytes.HasPrefix(line[pos:], mathFence) {
		return nil, parser.NoChildren
	}
	rest := line[pos+len(mathFence):]
	if bytes.Contains(rest, mathFence) {
		return nil, parser.NoChildren
	}

	node := &MathBlock{}
	if !util.IsBlank(rest) {
		start := segment.Start + pos + len(mathFence)
		node.Lines().Append(text.NewSegment(start, segment.Stop))
	}
	reader.Advance(segment.Len() - 1)
	return node, parser.NoChildren
}

func (b *mathBlockParser) Continue(node ast.Node, reader text.Reader, _ parser.Context) parser.State {
	line, segment := reader.PeekLine()
	trimmed := util.TrimRightSpace(line)
	if bytes.HasSuffix(trimmed, mathFence) {
		body := trimmed[:len(trimmed)-len(mathFence)]
		if !util.IsBlank(body) {
			node.Lines().Append(text.NewSegment(segment.Start, segment.Start+len(body)))
		}
		reader.Advance(segment.Len() - 1)
		return parser.Close
	}
	node.Lines().Append(segment)
	reader.Advance(segment.Len() - 1)
	return parser.Continue | parser.NoChildren
}

func (b *mathBlockParser) Close(ast.Node, text.Reader, parser.Context) {}

func (b *mathBlockParser) CanInterruptParagraph() bool { return true }

func (b *mathBlockParser) CanAcceptIndentedLine() bool { return false }

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }
func isDigit(b byte) bool { return b >= '0' && b <= '9' }

type mathDiagramRenderer struct{}

func (r *mathDiagramRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindMath, r.renderMath)
	reg.Register(KindMathBlock, r.renderMathBlock)
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCode)
}

func (r *mathDiagramRenderer) renderMath(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*Math)
	if n.Display {
		_, _ = w.WriteString(`<span class="math display">\[`)
		_, _ = w.Write(util.EscapeHTML(n.Literal))
		_, _ = w.WriteString(`\]</span>`)
	} else {
		_, _ = w.WriteString(`<span class="math inline">\(`)
		_, _ = w.Write(util.EscapeHTML(n.Literal))
		_, _ = w.WriteString(`\)</span>`)
	}
	return ast.WalkSkipChildren, nil
}

func (r *mathDiagramRenderer) renderMathBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<div class="math display">\[`)
	writeLines(w, source, node)
	_, _ = w.WriteString(`\]</div>` + "\n")
	return ast.WalkSkipChildren, nil
}

// renderFencedCode emits mermaid blocks as diagram containers and every other
// fenced block as <pre><code class="language-x">.
func (r *mathDiagramRenderer) renderFencedCode(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	lang := n.Language(source)

	if string(lang) == "mermaid" {
		_, _ = w.WriteString(`<div class="mermaid">`)
		writeLines(w, source, n)
		_, _ = w.WriteString("</div>\n")
		return ast.WalkSkipChildren, nil
	}

	_, _ = w.WriteString("<pre><code")
	if len(lang) > 0 {
		_, _ = w.WriteString(` class="language-`)
		_, _ = w.Write(util.EscapeHTML(lang))
		_ = w.WriteByte('"')
	}
	_ = w.WriteByte('>')
	writeLines(w, source, n)
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}

func writeLines(w util.BufWriter, source []byte, n ast.Node) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		_, _ = w.Write(util.EscapeHTML(seg.Value(source)))
	}
}
