package core

import (
	"fmt"
	"strings"

	"github.com/personify-ai/converse-go/pkg/contextcache"
	"github.com/personify-ai/converse-go/pkg/llm"
	"github.com/personify-ai/converse-go/pkg/storage"
	"github.com/personify-ai/converse-go/pkg/visibility"
)

// tierInstruction tells the model how much it may disclose at the
// requester's tier. The instruction shapes register and depth only; hard
// filtering already happened at retrieval.
func tierInstruction(tier visibility.Tier) string {
	switch tier {
	case visibility.TierIntimate:
		return "You are speaking with someone you trust completely. Be open and personal; nothing needs to be held back."
	case visibility.TierFriends:
		return "You are speaking with a friend. Be warm and candid, but keep your most private matters to yourself."
	default:
		return "You are speaking with a stranger. Be polite and engaging, but share only what you would say in public."
	}
}

// buildMessages assembles the chat messages for one generated turn: a system
// message carrying the persona and tier instruction (plus grounding chunks
// when present), then the user's utterance.
func buildMessages(snapshot *contextcache.Snapshot, tier visibility.Tier, chunks []*storage.Chunk, utterance string) []llm.Message {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s.\n", snapshot.DisplayName)
	if snapshot.Persona != "" {
		sb.WriteString(snapshot.Persona)
		sb.WriteString("\n")
	}
	if snapshot.Bio != "" {
		fmt.Fprintf(&sb, "About you: %s\n", snapshot.Bio)
	}
	if len(snapshot.StyleTraits) > 0 {
		fmt.Fprintf(&sb, "Your speaking style: %s.\n", strings.Join(snapshot.StyleTraits, ", "))
	}

	sb.WriteString("\n")
	sb.WriteString(tierInstruction(tier))
	sb.WriteString("\n")

	if len(chunks) > 0 {
		sb.WriteString("\nDraw on the following notes from your own knowledge where they are relevant. ")
		sb.WriteString("Speak from them in your own voice; never mention notes, documents, or sources.\n")
		for i, chunk := range chunks {
			fmt.Fprintf(&sb, "\n[%d] %s\n", i+1, chunk.Content)
		}
	} else {
		sb.WriteString("\nAnswer from your persona alone. If you genuinely do not know something, say so in character rather than inventing specifics.\n")
	}

	sb.WriteString("\nStay in character. Reply as yourself, in first person.")

	return []llm.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: utterance},
	}
}
