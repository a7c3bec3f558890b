package enum

// ── Group A: State machines (closed sets, validated on input) ──

const (
	OrderStatusPending        = "pending"
	OrderStatusSent           = "orden_enviada"
	OrderStatusReceived       = "orden_recibida"
	OrderStatusPreparing      = "en_preparacion"
	OrderStatusReadyToDeliver = "lista_para_entregar"
	OrderStatusDelivering     = "en_entrega"
	OrderStatusDelivered      = "entregada"
	OrderStatusIncident       = "con_incidencias"
	OrderStatusClosed         = "orden_cerrada"
	OrderStatusCancelled      = "cancelada"
)

const (
	ParticipantStatusOrdering  = "ordering"
	ParticipantStatusReady     = "ready"
	ParticipantStatusConfirmed = "confirmed"
)

// ── Group B: Display labels ──

const (
	LineOriginOriginal = "original"
	LineOriginCart     = "cart"
)

// ── Group C: Session roles ──

const (
	RoleDiner = "DINER"
	RoleStaff = "STAFF"
)

// ── Group D: Event types (WebSocket and kitchen feed) ──

const (
	EventOrderCreated  = "order.created"
	EventOrderUpdated  = "order.updated"
	EventOrdersRefresh = "orders.snapshot"
	EventGroupUpdated  = "group.updated"
)
