package orders

const (
	TopicOrderPlaced     = "order.placed"
	TopicStatusRequested = "order.status.requested"
)

// PartitionKey keeps every event of one order on the same partition.
func PartitionKey(orderNumber string) []byte { return []byte(orderNumber) }
