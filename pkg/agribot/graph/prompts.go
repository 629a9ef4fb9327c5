package graph

import (
	"fmt"
	"strings"
)

// fallbackReply is delivered when synthesis itself cannot be completed.
const fallbackReply = "I'm sorry, I couldn't process your question right now. Please try again in a little while."

// personaPrompts are the system prompts for the specialist states.
var personaPrompts = map[State]string{
	StateSoilCropAdvisor: `You are an expert advisor for Indian farmers on soil health, crop recommendations, farming techniques, weather conditions, and disaster alerts.
Use the available tools to retrieve current data when the query needs it. If no tool applies, answer from your expertise.`,

	StateMarketAnalyst: `You are an expert analyst of Indian agricultural markets. You report current crop prices in specific locations (mandis).
Use the available tools to retrieve live price data when the query needs it. If no tool applies, answer from your expertise.`,

	StateFinancialAdvisor: `You are an expert advisor on Indian government agricultural schemes, subsidies, loans, and financial planning for farmers.
Use the available tools to look up current scheme details when the query needs it. If no tool applies, answer from your expertise.`,
}

// supervisorPrompt builds the routing prompt. On re-entry it carries the
// observations gathered so far and the specialists already consulted, so
// the router can chain to a second specialist or finish.
func (e *Engine) supervisorPrompt(s *session) string {
	var b strings.Builder
	b.WriteString(`You are the supervisor of a team of expert AI agents for Indian agriculture.
Based on the user's query, determine which specialist agent is best suited. If no specialist tool is needed (e.g., for a general question or greeting), route to the FinalAnswerAgent.

Your available specialist agents are:
- SoilCropAdvisor: For soil health, crop recommendations, farming techniques, weather, and disaster alerts.
- MarketAnalyst: For current market prices of crops in specific locations (mandis).
- FinancialAdvisor: For government schemes, subsidies, loans, and financial planning.
- FinalAnswerAgent: For synthesizing a final response or answering general knowledge questions.

`)
	fmt.Fprintf(&b, "User Query: %q\n", s.query)

	if len(s.observations) > 0 {
		b.WriteString("\nInformation gathered so far:\n")
		for _, obs := range s.observations {
			fmt.Fprintf(&b, "- %s\n", obs)
		}
	}
	if consulted := s.consulted(); len(consulted) > 0 {
		fmt.Fprintf(&b, "\nSpecialists already consulted (do not choose these again): %s\n",
			strings.Join(consulted, ", "))
		b.WriteString("If the gathered information covers the query, respond with \"FinalAnswerAgent\".\n")
	}

	b.WriteString(`
Analyze the query.
- If it clearly requires a tool (price, weather, scheme info), respond with the specialist agent's name.
- If it's a general question, a greeting, or a follow-up, respond with "FinalAnswerAgent".

Respond with ONLY the agent name.`)
	return b.String()
}

// synthesisPrompt builds the final answer prompt from the turn history and
// tool observations.
func (e *Engine) synthesisPrompt(s *session) string {
	var b strings.Builder
	b.WriteString(`You are a helpful and professional agricultural assistant for farmers in India.
Your goal is to provide a clear, comprehensive, and well-rounded answer based on the entire conversation history.
The history may include the user's original question and data retrieved by specialist tools.

Synthesize all the information into a single, high-quality response.
- Address the user's original query directly.
- If data was found (like prices or weather), incorporate it naturally into your response.
- If no specific data was found or needed, provide a helpful, general answer.
- Do not mention agents, tools, or the internal process. Speak directly to the farmer.

Here is the conversation history:
`)
	for _, m := range s.history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	b.WriteString("\nNow, please provide the final, complete answer for the user.")
	return b.String()
}

// consulted lists visited specialists in a stable order.
func (s *session) consulted() []string {
	ordered := []State{StateSoilCropAdvisor, StateMarketAnalyst, StateFinancialAdvisor}
	var out []string
	for _, st := range ordered {
		if s.visited[st] {
			out = append(out, string(st))
		}
	}
	return out
}
