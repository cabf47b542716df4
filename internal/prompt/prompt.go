// Package prompt assembles system prompts from persona, knowledge base
// instructions, and retrieved passages.
//
// Passages are presented inside a <retrieved_context> block with numbered
// markers and a trailing source legend, so the model cites by reference
// number and every number it can cite resolves to exactly one source.
package prompt

import (
	"fmt"
	"strings"

	"github.com/kognit-ai/kognit/internal/kb"
	"github.com/kognit-ai/kognit/internal/retrieve"
)

// DefaultPersona is the assistant identity used when no knowledge base
// supplies custom instructions.
const DefaultPersona = `You are an intelligent AI assistant for an enterprise organization.
You help users with their questions by providing accurate, helpful, and professional responses.

Key behaviors:
- Be concise but thorough
- Cite sources when using retrieved context
- If you don't know something, say so
- Follow organizational policies and guidelines
- Protect sensitive information`

// personaOverrideBase replaces the default persona when a knowledge base
// carries custom instructions, letting those instructions define the
// assistant instead of competing with a built-in identity.
const personaOverrideBase = "Follow the instructions below for this conversation."

// groundedConstraint forbids answers not backed by retrieved content.
const groundedConstraint = `CRITICAL CONSTRAINT - GROUNDED RESPONSES ONLY:
You must ONLY respond using information from the <retrieved_context> section below.
- If the answer is not found in <retrieved_context>, clearly state: "I don't have information about that in my knowledge base."
- Do NOT use external knowledge, general information, or make assumptions beyond what is explicitly stated in <retrieved_context>.
- Do NOT offer to help with topics outside the <retrieved_context>.
- Every claim must be traceable to a specific source in <retrieved_context>.`

const citeInstruction = "When responding, cite sources from <retrieved_context> using their reference numbers, for example [1]."

// Builder assembles system prompts. The zero value uses DefaultPersona.
type Builder struct {
	persona string
}

// Option configures a Builder.
type Option func(*Builder)

// WithPersona replaces the default persona text.
func WithPersona(persona string) Option {
	return func(b *Builder) {
		if persona != "" {
			b.persona = persona
		}
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{persona: DefaultPersona}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Assemble builds the system prompt for a conversation over the given
// knowledge bases with the given retrieved passages.
//
// Sections, in order: base persona (or the minimal override when any
// knowledge base has custom instructions), the grounding constraint when any
// knowledge base is grounded-only, the combined custom instructions, and the
// retrieved context with its source legend. Empty sections are omitted
// entirely; with no passages there is no <retrieved_context> block at all.
func (b *Builder) Assemble(kbs []kb.KnowledgeBase, passages []retrieve.Passage) string {
	var instructions []string
	grounded := false
	for _, k := range kbs {
		if s := strings.TrimSpace(k.CustomInstructions); s != "" {
			instructions = append(instructions, s)
		}
		// One grounded-only knowledge base grounds the whole conversation:
		// mixing restricted content into a free-form answer would defeat
		// the restriction.
		if k.GroundedOnly {
			grounded = true
		}
	}

	var sb strings.Builder
	if len(instructions) > 0 {
		sb.WriteString(personaOverrideBase)
	} else {
		sb.WriteString(b.persona)
	}

	if grounded {
		sb.WriteString("\n\n")
		sb.WriteString(groundedConstraint)
	}

	if len(instructions) > 0 {
		sb.WriteString("\n\n## Knowledge Base Instructions\n")
		sb.WriteString(strings.Join(instructions, "\n\n"))
	}

	if len(passages) > 0 {
		sb.WriteString("\n\n<retrieved_context>\n")
		for i, p := range passages {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "[%d] %s", p.Ref, p.FullText)
		}
		sb.WriteString("\n</retrieved_context>\n\nSources:\n")
		for _, p := range passages {
			sb.WriteString(sourceLine(p))
			sb.WriteByte('\n')
		}
		sb.WriteString("\n")
		sb.WriteString(citeInstruction)
	}

	return sb.String()
}

// sourceLine renders one legend entry.
func sourceLine(p retrieve.Passage) string {
	name := p.Filename
	if name == "" {
		name = p.DocumentID
	}
	if p.Page > 0 {
		return fmt.Sprintf("[%d] %s (page %d)", p.Ref, name, p.Page)
	}
	return fmt.Sprintf("[%d] %s", p.Ref, name)
}
