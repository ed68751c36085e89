package connectors

const (
	TopicMessage         = "mesh.message"
	TopicContact         = "mesh.contact"
	TopicChannel         = "mesh.channel"
	TopicStatus          = "mesh.status"
	TopicAck             = "mesh.ack"
	TopicError           = "mesh.error"
	TopicProfileSwitched = "profile.switched"
)

// AllTopics lists every topic published by the service.
var AllTopics = []string{
	TopicMessage,
	TopicContact,
	TopicChannel,
	TopicStatus,
	TopicAck,
	TopicError,
	TopicProfileSwitched,
}
