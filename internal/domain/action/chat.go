package action

import "time"

const chatTimeout = 5 * time.Second

// Chat relays a message through the participant's entity. The send is
// synchronous, so the action resolves inside SetUp.
type Chat struct {
	Base
	ctrl    EntityController
	message string
}

func NewChat(agentKey string, ctrl EntityController, message string) *Chat {
	return &Chat{
		Base:    NewBase(agentKey),
		ctrl:    ctrl,
		message: message,
	}
}

func (a *Chat) Name() string { return "chat" }

func (a *Chat) SetUp() {
	if err := a.ctrl.Say(a.AgentKey(), a.message); err != nil {
		a.fail()
		return
	}
	a.succeed()
}

func (a *Chat) Execute()            {}
func (a *Chat) PollInterval() int64 { return 1 }

func (a *Chat) TimedOut(now time.Time) bool {
	return a.elapsedSince(now) > chatTimeout
}

func (a *Chat) Message() string { return a.message }
