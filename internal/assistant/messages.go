package assistant

import "strings"

const (
	Greeting = "Hello! I'm your CRM assistant. How can I help you today? You can ask me to add a contact, update a deal, or manage a project."

	msgClarify      = "I'm not sure how to help with that. Could you please rephrase or tell me what you'd like to do (e.g., 'add contact', 'update deal', 'add project')?"
	msgCancelled    = "Okay, I've cancelled the operation. What else can I help you with?"
	msgYesOrNo      = "Please respond with 'yes' or 'no'."
	msgMalformed    = "I apologize, I couldn't process that request. Please try again."
	msgUnreachable  = "I'm having trouble connecting to the AI. Please try again later."
	msgSaveFailed   = "An error occurred while trying to save the information. Please try again."
	msgReadyPrefix  = "I have gathered the information and am ready to proceed. Please confirm with 'yes' or 'no'. Details: "
	msgMissingStart = "I need more information. Please provide the following: "
)

func msgMissing(fields []string) string {
	return msgMissingStart + strings.Join(fields, ", ") + "."
}

func msgContactAdded(name string) string {
	return `Contact "` + name + `" added successfully!`
}

func msgDealUpdated(name string) string {
	return `Deal "` + name + `" updated successfully!`
}

func msgDealNotFound(name string) string {
	return `Deal "` + name + `" not found. Please specify an existing deal.`
}

func msgProjectAdded(name string) string {
	return `Project "` + name + `" added successfully!`
}

func msgTaskAdded(task, project string) string {
	return `Task "` + task + `" added to project "` + project + `" successfully!`
}

func msgProjectNotFound(name string) string {
	return `Project "` + name + `" not found. Please specify an existing project.`
}

// Reply outcomes, also used as metric labels.
const (
	OutcomeProposed  = "proposed"
	OutcomeGathering = "gathering"
	OutcomeClarify   = "clarify"
	OutcomeCancelled = "cancelled"
	OutcomeReprompt  = "reprompt"
	OutcomeExecuted  = "executed"
	OutcomeNotFound  = "not_found"
	OutcomeMalformed = "malformed"
	OutcomeExtractor = "extractor_error"
	OutcomeSaveError = "save_error"
)
