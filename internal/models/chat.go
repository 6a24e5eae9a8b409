package models

// Collection names used by the bot pipeline.
const (
	CollectionEvent         = "event"
	CollectionPersona       = "persona"
	CollectionRoom          = "room"
	CollectionCodeExtension = "code_extension"
)

const (
	PersonaTypeUser = "user"
	PersonaTypeBot  = "bot"
)

// Event is a chat message record.
type Event struct {
	ID                       string   `json:"id"`
	Content                  string   `json:"content"`
	Type                     string   `json:"type,omitempty"`
	Room                     string   `json:"room"`
	Sender                   string   `json:"sender"`
	CreatedAt                int64    `json:"createdAt"`
	ModifiedAt               int64    `json:"modifiedAt"`
	FailureMessages          []string `json:"failureMessages,omitempty"`
	RetryablePersonaFailures []string `json:"retryablePersonaFailures,omitempty"`
}

// Persona is a chat participant, human or automated.
type Persona struct {
	ID                            string   `json:"id" yaml:"id"`
	Name                          string   `json:"name,omitempty" yaml:"name"`
	PersonaType                   string   `json:"personaType" yaml:"personaType"`
	Online                        bool     `json:"online" yaml:"online"`
	ModelOptions                  []string `json:"modelOptions,omitempty" yaml:"modelOptions"`
	SelectedModel                 string   `json:"selectedModel,omitempty" yaml:"selectedModel"`
	CustomInstructionForContext   string   `json:"customInstructionForContext,omitempty" yaml:"customInstructionForContext"`
	CustomInstructionForResponses string   `json:"customInstructionForResponses,omitempty" yaml:"customInstructionForResponses"`
	ProvidedByExtension           string   `json:"providedByExtension,omitempty" yaml:"providedByExtension"`
	ModifiedAt                    int64    `json:"modifiedAt" yaml:"-"`
}

func (p *Persona) IsBot() bool {
	return p != nil && p.PersonaType == PersonaTypeBot
}

func (p *Persona) IsUser() bool {
	return p != nil && p.PersonaType == PersonaTypeUser
}

// Model returns the selected model, falling back to the first option.
func (p *Persona) Model() string {
	if p.SelectedModel != "" {
		return p.SelectedModel
	}
	if len(p.ModelOptions) > 0 {
		return p.ModelOptions[0]
	}
	return ""
}

// Room is the set of personas taking part in a conversation.
type Room struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
}

// CodeExtension is an installed extension that may provide bot personas.
type CodeExtension struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}
