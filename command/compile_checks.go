package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[RegisterPartnerMessage]       = (*RegisterPartnerCommand)(nil)
	_ gocmd.Commander[UpdatePartnerMessage]         = (*UpdatePartnerCommand)(nil)
	_ gocmd.Commander[ActivatePartnerMessage]       = (*ActivatePartnerCommand)(nil)
	_ gocmd.Commander[DeactivatePartnerMessage]     = (*DeactivatePartnerCommand)(nil)
	_ gocmd.Commander[SuspendPartnerMessage]        = (*SuspendPartnerCommand)(nil)
	_ gocmd.Commander[RegenerateSecretMessage]      = (*RegenerateSecretCommand)(nil)
	_ gocmd.Commander[RecordDeliveryOutcomeMessage] = (*RecordDeliveryOutcomeCommand)(nil)
	_ gocmd.Commander[DispatchEventMessage]         = (*DispatchEventCommand)(nil)
	_ gocmd.Commander[DispatchTestMessage]          = (*DispatchTestCommand)(nil)
)
