package connectors

const (
	TopicConnStatus           = "conn.status"
	TopicMessageConfirmed     = "message.confirmed"
	TopicMessageDeleted       = "message.deleted"
	TopicNotificationReceived = "notification.received"
	TopicNotificationUpdated  = "notification.updated"
	TopicConversationUpdated  = "conversation.updated"
	TopicProvidersFetched     = "providers.fetched"
)
