package pipeline

import (
	"context"
	"strings"

	"github.com/seanblong/graphrag-query/internal/graphmodel"
)

// ContextBuilderStage assembles FinalPrompt from conversation history, the
// merged context (grouped by type or flat), the query, and an optional
// response-type trailer. Sections are omitted entirely when empty.
type ContextBuilderStage struct {
	// GroupByType renders ### Entities / ### Relations / ### Sources
	// subsections instead of flat [Entity]/[Relation]/[Source] prefixes.
	GroupByType bool
	// Headers toggles the "## Conversation History" / "## Context" /
	// "## Query" section headers.
	Headers bool
}

func (s *ContextBuilderStage) Name() string { return "ContextBuilder" }

func (s *ContextBuilderStage) ShouldSkip(pctx *Context) bool { return false }

func (s *ContextBuilderStage) Run(ctx context.Context, pctx *Context) error {
	var b strings.Builder

	if history := s.renderHistory(pctx.Param.ConversationHistory); history != "" {
		if s.Headers {
			b.WriteString("## Conversation History\n")
		}
		b.WriteString(history)
		b.WriteString("\n\n")
	}

	if contextBody := s.renderContext(pctx); contextBody != "" {
		if s.Headers {
			b.WriteString("## Context\n")
		}
		b.WriteString(contextBody)
		b.WriteString("\n\n")
	}

	if s.Headers {
		b.WriteString("## Query\n")
	}
	b.WriteString(pctx.Query)

	if pctx.Param.ResponseType != "" {
		b.WriteString("\n\nPlease respond with: ")
		b.WriteString(pctx.Param.ResponseType)
	}

	pctx.FinalPrompt = b.String()
	return nil
}

func (s *ContextBuilderStage) renderHistory(turns []graphmodel.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(capitalize(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}

func (s *ContextBuilderStage) renderContext(pctx *Context) string {
	if len(pctx.MergedItems) == 0 {
		return ""
	}
	if !s.GroupByType {
		var b strings.Builder
		for i, item := range pctx.MergedItems {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(flatPrefix(item.Type))
			b.WriteString(item.Content)
		}
		return b.String()
	}

	var entities, relations, sources []graphmodel.ContextItem
	for _, item := range pctx.MergedItems {
		switch item.Type {
		case graphmodel.ContextItemEntity:
			entities = append(entities, item)
		case graphmodel.ContextItemRelation:
			relations = append(relations, item)
		default:
			sources = append(sources, item)
		}
	}

	var b strings.Builder
	writeGroup(&b, "### Entities", entities)
	writeGroup(&b, "### Relations", relations)
	writeGroup(&b, "### Sources", sources)
	return strings.TrimRight(b.String(), "\n")
}

func writeGroup(b *strings.Builder, header string, items []graphmodel.ContextItem) {
	if len(items) == 0 {
		return
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(header)
	b.WriteString("\n")
	for _, item := range items {
		b.WriteString(item.Content)
		b.WriteString("\n")
	}
}

func flatPrefix(t graphmodel.ContextItemType) string {
	switch t {
	case graphmodel.ContextItemEntity:
		return "[Entity] "
	case graphmodel.ContextItemRelation:
		return "[Relation] "
	default:
		return "[Source] "
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
