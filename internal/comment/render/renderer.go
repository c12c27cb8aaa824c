package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/willemliu/universal-comments/internal/comment/model"
)

// MaxIndent caps the visual nesting depth.
const MaxIndent = 5

const removedText = "[Removed]"

const threadTemplate = `
{{- define "thread" -}}
<section class="uc-thread">
{{- range .Nodes}}{{template "node" .}}{{end -}}
</section>
{{- end -}}

{{- define "node" -}}
<article class="uc-comment uc-{{.Mode}} uc-gen-{{.Indent}}" id="comment-{{.ID}}" data-id="{{.ID}}">
<header>
<img class="uc-avatar" src="{{.Image}}" alt="" width="50" height="50">
<span class="uc-author">{{.Author}}</span>
<time datetime="{{.ISOTime}}">{{.Time}}</time>
{{- if .Edited}} <span class="uc-edited">edited</span>{{end}}
</header>
{{- if eq .Mode "collapsed"}}
<button type="button" class="uc-toggle" data-action="expand">[+]</button>
{{- else}}
<button type="button" class="uc-toggle" data-action="collapse">[-]</button>
<div class="uc-body">
{{- if .Removed}}{{.RemovedText}}{{else if .ShowDiff}}<div class="uc-diff">{{.Diff}}</div>{{else}}{{.Body}}{{end -}}
</div>
<footer>
{{- if .Can.Vote}}
<button type="button" data-action="vote" data-vote="1">+</button>
<span class="uc-score">{{.Score}}</span>
<button type="button" data-action="vote" data-vote="-1">-</button>
{{- else}}
<span class="uc-score">Score: {{.Score}}</span>
{{- end}}
{{- if .Can.Reply}} <button type="button" data-action="reply">Reply</button>{{end}}
{{- if .Can.Edit}} <button type="button" data-action="edit">Edit</button>{{end}}
{{- if .Can.Remove}} <button type="button" data-action="remove">Remove</button>{{end}}
{{- if .Edited}} <button type="button" data-action="diff">Diff</button>{{end}}
</footer>
{{- if eq .Mode "replying"}}
<form class="uc-reply" method="post">
<input type="hidden" name="parent_id" value="{{.ID}}">
<textarea name="comment" maxlength="2000" required></textarea>
<button type="submit">Reply</button>
</form>
{{- else if eq .Mode "editing"}}
<form class="uc-edit" method="post">
<input type="hidden" name="id" value="{{.ID}}">
<textarea name="comment" maxlength="2000" required>{{.Raw}}</textarea>
<button type="submit">Save</button>
</form>
{{- end}}
{{- range .Children}}{{template "node" .}}{{end}}
{{- end}}
</article>
{{- end -}}
`

type nodeView struct {
	ID          string
	Author      string
	Image       string
	Time        string
	ISOTime     string
	Mode        Mode
	Indent      int
	Edited      bool
	Removed     bool
	RemovedText string
	ShowDiff    bool
	Body        template.HTML
	Diff        template.HTML
	Raw         string
	Score       int
	Can         Affordances
	Children    []nodeView
}

type threadView struct {
	Nodes []nodeView
}

type Renderer struct {
	tmpl   *template.Template
	md     goldmark.Markdown
	policy *bluemonday.Policy
	dmp    *diffmatchpatch.DiffMatchPatch
}

func NewRenderer() *Renderer {
	policy := bluemonday.UGCPolicy()
	policy.AddTargetBlankToFullyQualifiedLinks(true)
	policy.RequireNoReferrerOnLinks(true)

	return &Renderer{
		tmpl: template.Must(template.New("comments").Parse(threadTemplate)),
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(
				html.WithHardWraps(),
				html.WithXHTML(),
			),
		),
		policy: policy,
		dmp:    diffmatchpatch.New(),
	}
}

// Markdown renders and sanitizes a comment body.
func (r *Renderer) Markdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(r.policy.SanitizeBytes(buf.Bytes()))
}

// Diff renders the change from the original text to the edit. Both sides are
// escaped by the diff printer.
func (r *Renderer) Diff(from, to string) template.HTML {
	diffs := r.dmp.DiffMain(from, to, false)
	diffs = r.dmp.DiffCleanupSemantic(diffs)
	return template.HTML(r.dmp.DiffPrettyHtml(diffs))
}

// Render writes the thread as HTML for viewer, which may be nil.
func (r *Renderer) Render(w io.Writer, t *Thread, viewer *model.User) error {
	view := threadView{}
	for _, root := range t.Roots() {
		view.Nodes = append(view.Nodes, r.node(t, root, viewer, 0))
	}
	if err := r.tmpl.ExecuteTemplate(w, "thread", view); err != nil {
		return fmt.Errorf("render thread: %w", err)
	}
	return nil
}

func (r *Renderer) node(t *Thread, c *model.Comment, viewer *model.User, depth int) nodeView {
	st, ok := t.State(c.ID)
	if !ok {
		st = NewNodeState(*c)
	}

	v := nodeView{
		ID:          c.ID,
		Author:      c.Author.DisplayName,
		Image:       c.Author.Image,
		Time:        c.CreatedAt.Local().Format("2006-01-02 15:04"),
		ISOTime:     c.CreatedAt.UTC().Format(time.RFC3339),
		Mode:        st.Mode(),
		Indent:      min(depth, MaxIndent),
		Edited:      c.HasEdit(),
		Removed:     c.Removed,
		RemovedText: removedText,
		ShowDiff:    st.DiffShown() && c.HasEdit(),
		Raw:         c.Body(),
		Score:       c.Score(),
		Can:         AffordancesFor(*c, viewer, t.NoForm()),
	}
	if !c.Removed {
		v.Body = r.Markdown(c.Body())
		if v.ShowDiff {
			v.Diff = r.Diff(c.Text, c.Body())
		}
	}
	for _, child := range c.SubComments {
		v.Children = append(v.Children, r.node(t, child, viewer, depth+1))
	}
	return v
}
