package prompt

import "strings"

func systemPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are a legal-document assistant supporting contract review.",
		"",
		"Behavior Rules:",
		"1) Be concise and factual.",
		"2) Use only the documents provided in this request.",
		"3) Produce JSON when the instruction asks for it, and nothing else.",
		"4) Do not give legal advice.",
	}, "\n")
}

func chatSystemPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are a legal AI assistant answering questions about an uploaded contract and its compliance checklist.",
		"",
		"Behavior Rules:",
		"1) Answer only the current user question.",
		"2) Ground answers in the contract, the checklist and earlier turns of this conversation.",
		"3) Quote the contract when it helps; say so when the documents do not cover the question.",
		"4) Keep answers short and professional. Do not give legal advice.",
	}, "\n")
}

func summaryInstructions() string {
	return "Summarize the purpose and key business terms of the contract below in 3-5 concise bullet points " +
		"written for a business reader: parties, scope, money, duration, and notable obligations or risks."
}

func validateInstructions() string {
	return strings.Join([]string{
		"Compare the contract against every checklist item below.",
		"For each item decide one status:",
		"- ADDRESSED: the contract clearly satisfies the item.",
		"- MISSING: the contract does not cover the item.",
		"- AT_RISK: the contract covers the item only partially, vaguely, or in a way that conflicts with it.",
		"",
		"Output Contract:",
		`Return JSON only: {"findings":[{"id":string,"status":"ADDRESSED"|"MISSING"|"AT_RISK",` +
			`"rationale":string,"excerpt":string,"suggested_fix":string,"severity":"low"|"medium"|"high"}]}.`,
		"Return exactly one finding per checklist item, using the item id shown in brackets.",
		"excerpt quotes the supporting contract text, or is empty when the item is missing.",
	}, "\n")
}

func clauseInstructions() string {
	return strings.Join([]string{
		"Extract the following clauses from the contract exactly as they appear: Liability, Termination, Payment Terms, Confidentiality.",
		"Use an empty string for a clause that is not present.",
		"",
		"Output Contract:",
		`Return JSON only: {"liability":string,"termination":string,"payment_terms":string,"confidentiality":string}.`,
	}, "\n")
}

func followupInstructions() string {
	return strings.Join([]string{
		"Using the compliance findings and extracted clauses below, prepare negotiation follow-ups.",
		"",
		"Output Contract:",
		`Return JSON only: {"follow_up_questions":[string],"suggested_rewrites":[string]}`,
		"with at most 5 concise questions for the counterparty and at most 3 short clause rewrites.",
	}, "\n")
}
