package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-partners/core"
)

var (
	_ gocmd.Querier[GetPartnerMessage, core.Partner]            = (*GetPartnerQuery)(nil)
	_ gocmd.Querier[GetPartnerByNameMessage, core.Partner]      = (*GetPartnerByNameQuery)(nil)
	_ gocmd.Querier[ListPartnersMessage, []core.Partner]        = (*ListPartnersQuery)(nil)
	_ gocmd.Querier[ListSubscribedMessage, []core.Partner]      = (*ListSubscribedQuery)(nil)
	_ gocmd.Querier[ListWebhookLogsMessage, []core.WebhookLog]  = (*ListWebhookLogsQuery)(nil)
)
